package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/geo"
	"github.com/autopeer-io/athena/pkg/log"
)

const maxBody = 1 << 20

// errBadRequest marks a request that could not be decoded.
var errBadRequest = errors.New("bad request")

type handler struct {
	svc Service
	log log.Logger
}

func successResponse(data any) map[string]any {
	return map[string]any{"data": data}
}

func errorResponse(message string) map[string]any {
	return map[string]any{"error": message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidEvent),
		errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, model.ErrUnknownEventType):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrVehicleNotFound),
		errors.Is(err, core.ErrAlertNotFound),
		errors.Is(err, core.ErrOfficerNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateRegistration),
		errors.Is(err, core.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(err, "Request failed", "method", r.Method, "path", r.URL.Path)
		writeJSON(w, status, errorResponse("internal error"))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// apply runs ev through the service and writes the result.
func (h *handler) apply(w http.ResponseWriter, r *http.Request, ev model.InboundEvent, okStatus int) {
	res, err := h.svc.Handle(r.Context(), ev)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, okStatus, successResponse(res))
}

// postEvent accepts any inbound event framed in an Envelope.
func (h *handler) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	ev, err := model.DecodeInbound(body)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	h.apply(w, r, ev, http.StatusOK)
}

func (h *handler) postIdentification(w http.ResponseWriter, r *http.Request) {
	var ev model.VehicleIdentified
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.apply(w, r, &ev, http.StatusOK)
}

func (h *handler) listOfficers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse(h.svc.Officers()))
}

func (h *handler) getOfficer(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.Officer(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(loc))
}

func (h *handler) deleteOfficer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.svc.RemoveOfficer(id) {
		h.handleError(w, r, fmt.Errorf("%w: %s", core.ErrOfficerNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putOfficerLocation takes the officer id from the path.
func (h *handler) putOfficerLocation(w http.ResponseWriter, r *http.Request) {
	var ev model.OfficerLocationUpdate
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	ev.OfficerID = mux.Vars(r)["id"]
	h.apply(w, r, &ev, http.StatusOK)
}

func (h *handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	status := model.VehicleStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, successResponse(h.svc.Vehicles(status)))
}

func (h *handler) postVehicle(w http.ResponseWriter, r *http.Request) {
	var ev model.CriticalVehicleRegistered
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.apply(w, r, &ev, http.StatusCreated)
}

func (h *handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Vehicle(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(v))
}

func (h *handler) putVehicleStatus(w http.ResponseWriter, r *http.Request) {
	var ev model.VehicleStatusChanged
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	ev.VehicleID = mux.Vars(r)["id"]
	h.apply(w, r, &ev, http.StatusOK)
}

func (h *handler) getPath(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.PredictedPath(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(path))
}

func (h *handler) getSightings(w http.ResponseWriter, r *http.Request) {
	track, err := h.svc.Track(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(track))
}

func (h *handler) getPlateSightings(w http.ResponseWriter, r *http.Request) {
	track, err := h.svc.TrackPlate(mux.Vars(r)["plate"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(track))
}

func (h *handler) listViolations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse(h.svc.Violations()))
}

func (h *handler) putViolation(w http.ResponseWriter, r *http.Request) {
	var ev model.ViolationVehicleRegistered
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	ev.Plate = mux.Vars(r)["plate"]
	h.apply(w, r, &ev, http.StatusOK)
}

func (h *handler) deleteViolation(w http.ResponseWriter, r *http.Request) {
	plate := mux.Vars(r)["plate"]
	res, err := h.svc.Handle(r.Context(), &model.ViolationVehicleRemoved{Plate: plate})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !res.Removed {
		writeJSON(w, http.StatusNotFound, errorResponse(fmt.Sprintf("plate %s is not on the violation list", plate)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, successResponse(h.svc.Alerts(q.Get("officer_id"), model.AlertStatus(q.Get("status")))))
}

func (h *handler) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Alert(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(a))
}

// postAck expects {"officer_id": "..."}; only the addressee may acknowledge.
func (h *handler) postAck(w http.ResponseWriter, r *http.Request) {
	var ev model.AlertAcknowledged
	if err := decode(r, &ev); err != nil {
		h.handleError(w, r, err)
		return
	}
	ev.AlertID = mux.Vars(r)["id"]
	h.apply(w, r, &ev, http.StatusOK)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start))
	})
}
