package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/service"
	"github.com/autopeer-io/athena/pkg/geo"
	"github.com/autopeer-io/athena/pkg/log"
)

// Service is the use-case surface behind the REST API. *service.Service
// implements it.
type Service interface {
	Handle(ctx context.Context, ev model.InboundEvent) (*service.Result, error)
	RemoveOfficer(officerID string) bool

	Vehicle(id string) (*model.CriticalVehicle, error)
	Vehicles(status model.VehicleStatus) []*model.CriticalVehicle
	Violations() []*model.ViolationVehicle
	Officer(id string) (*model.OfficerLocation, error)
	Officers() []*model.OfficerLocation
	Alert(id string) (*model.InterceptAlert, error)
	Alerts(officerID string, status model.AlertStatus) []*model.InterceptAlert
	PredictedPath(vehicleID string) ([]geo.Point, error)
	Track(vehicleID string) (*service.Track, error)
	TrackPlate(plate string) (*service.Track, error)
}

// WebSocketServer upgrades officer and control connections.
type WebSocketServer interface {
	ServeOfficer(w http.ResponseWriter, r *http.Request, officerID string)
	ServeControl(w http.ResponseWriter, r *http.Request)
}

// Check reports whether a dependency is ready. A nil error means ready.
type Check struct {
	Name string
	Fn   func() error
}

// RouterConfig wires the handlers.
type RouterConfig struct {
	Service   Service
	WebSocket WebSocketServer
	Metrics   http.Handler
	Ready     []Check

	// Timeout bounds REST handlers. WebSocket routes are not bounded.
	Timeout time.Duration
}

// NewRouter builds the HTTP surface:
//
//	/api/v1/...             REST mirror of the inbound events, plus queries
//	/ws/officers/{id}       officer delivery channel
//	/ws/control             dispatch-center channel
//	/metrics /healthz /readyz
func NewRouter(cfg *RouterConfig, logger log.Logger) http.Handler {
	h := &handler{svc: cfg.Service, log: logger.WithName("api")}

	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// Subrouters report their own method mismatches.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.NotFoundHandler = notFound(api)
	api.Use(h.logRequests)
	if cfg.Timeout > 0 {
		api.Use(func(next http.Handler) http.Handler {
			return http.TimeoutHandler(next, cfg.Timeout, `{"error":"request timed out"}`)
		})
	}

	api.HandleFunc("/events", h.postEvent).Methods(http.MethodPost)
	api.HandleFunc("/identifications", h.postIdentification).Methods(http.MethodPost)

	api.HandleFunc("/officers", h.listOfficers).Methods(http.MethodGet)
	api.HandleFunc("/officers/{id}", h.getOfficer).Methods(http.MethodGet)
	api.HandleFunc("/officers/{id}", h.deleteOfficer).Methods(http.MethodDelete)
	api.HandleFunc("/officers/{id}/location", h.putOfficerLocation).Methods(http.MethodPut)

	api.HandleFunc("/vehicles", h.listVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", h.postVehicle).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}", h.getVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/status", h.putVehicleStatus).Methods(http.MethodPut)
	api.HandleFunc("/vehicles/{id}/path", h.getPath).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/sightings", h.getSightings).Methods(http.MethodGet)

	api.HandleFunc("/violations", h.listViolations).Methods(http.MethodGet)
	api.HandleFunc("/violations/{plate}", h.putViolation).Methods(http.MethodPut)
	api.HandleFunc("/violations/{plate}", h.deleteViolation).Methods(http.MethodDelete)
	api.HandleFunc("/violations/{plate}/sightings", h.getPlateSightings).Methods(http.MethodGet)

	api.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/ack", h.postAck).Methods(http.MethodPost)

	if cfg.WebSocket != nil {
		r.HandleFunc("/ws/officers/{id}", func(w http.ResponseWriter, r *http.Request) {
			cfg.WebSocket.ServeOfficer(w, r, mux.Vars(r)["id"])
		}).Methods(http.MethodGet)
		r.HandleFunc("/ws/control", cfg.WebSocket.ServeControl).Methods(http.MethodGet)
	}

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/readyz", readyHandler(cfg.Ready))

	return r
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"))
}

// notFound answers 405 instead when the path is routed for another method.
func notFound(router *mux.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			methods, err := route.GetMethods()
			if err != nil {
				return nil
			}
			for _, m := range methods {
				alt := r.Clone(r.Context())
				alt.Method = m
				if route.Match(alt, &mux.RouteMatch{}) {
					allowed = append(allowed, m)
				}
			}
			return nil
		})
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			methodNotAllowed(w, r)
			return
		}
		writeJSON(w, http.StatusNotFound, errorResponse("not found"))
	}
}

func readyHandler(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Fn(); err != nil {
				failed[c.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
