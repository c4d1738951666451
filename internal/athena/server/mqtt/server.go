package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/service"
	"github.com/autopeer-io/athena/internal/pkg/mqtt/adapter"
	"github.com/autopeer-io/athena/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/athena/pkg/log"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
)

// EventHandler applies inbound events. *service.Service implements it.
type EventHandler interface {
	Handle(ctx context.Context, ev model.InboundEvent) (*service.Result, error)
}

// Server implements the MQTT ingress layer.
type Server struct {
	log    log.Logger
	client pkgmqtt.Client
	topics *topic.Builder
	group  string
	qos    int
	svc    EventHandler

	// statusTopic receives a retained "online" once subscriptions are in place.
	// The client's will flips it to "offline".
	statusTopic string
}

// NewServer creates the ingress server. group is the shared subscription
// group; empty subscribes every replica to every message.
func NewServer(client pkgmqtt.Client, builder *topic.Builder, group string, qos int, statusTopic string,
	svc EventHandler, logger log.Logger) *Server {
	return &Server{
		log:         logger.WithName("mqtt-ingress"),
		client:      client,
		topics:      builder,
		group:       group,
		qos:         qos,
		svc:         svc,
		statusTopic: statusTopic,
	}
}

// StatusPayload is the retained instance status message.
func StatusPayload(online bool, at time.Time) []byte {
	status := "offline"
	if online {
		status = "online"
	}
	b, _ := json.Marshal(struct {
		Status string    `json:"status"`
		At     time.Time `json:"at"`
	}{status, at.UTC()})
	return b
}

// Start connects to the broker and subscribes to topics.
func (s *Server) Start(ctx context.Context) error {
	// Non-blocking; autopaho keeps reconnecting in the background.
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		s.log.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.statusTopic != "" && s.client.IsConnected() {
			_ = s.client.Publish(shutdownCtx, s.statusTopic, 1, true, StatusPayload(false, time.Now()))
		}
		s.client.Disconnect(shutdownCtx)
		s.log.Info("MQTT client disconnected")
	}()

	s.log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.log.Info("MQTT Connected")

	if err := s.initSubscriptions(ctx); err != nil {
		return err
	}

	if s.statusTopic != "" {
		if err := s.client.Publish(ctx, s.statusTopic, 1, true, StatusPayload(true, time.Now())); err != nil {
			s.log.Warn("Failed to publish instance status", "topic", s.statusTopic, "error", err)
		}
	}

	<-ctx.Done()

	return nil
}

// Handlers maps every ingress segment to its handler.
func (s *Server) Handlers() map[string]adapter.HandlerFunc {
	return map[string]adapter.HandlerFunc{
		paths.Identification:  adapter.JSONHandler(s.handleIdentification),
		paths.OfficerLocation: adapter.JSONHandler(s.handleOfficerLocation),
		paths.VehicleRegister: adapter.JSONHandler(s.handleVehicleRegister),
		paths.VehicleStatus:   adapter.JSONHandler(s.handleVehicleStatus),
		paths.AlertAck:        adapter.JSONHandler(s.handleAlertAck),
		paths.Violation:       s.handleViolation,
	}
}

func (s *Server) initSubscriptions(ctx context.Context) error {
	for segment, handler := range s.Handlers() {
		fullTopic := s.topics.Shared(s.group).BuildWildcard(segment)
		if err := s.client.Subscribe(ctx, fullTopic, s.qos, func(c context.Context, t string, p []byte) {
			if handleErr := handler(c, t, p); handleErr != nil {
				s.log.Error(handleErr, "Handler execution failed", "topic", t)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
		s.log.Debug("Subscribed", "topic", fullTopic)
	}

	return nil
}

// idFrom returns the trailing topic id of segment.
func (s *Server) idFrom(segment, t string) (string, error) {
	id, ok := s.topics.Parse(segment, t)
	if !ok {
		return "", fmt.Errorf("topic %q does not match %s", t, s.topics.Build(segment, "{id}"))
	}
	return id, nil
}

func (s *Server) handle(ctx context.Context, ev model.InboundEvent) error {
	_, err := s.svc.Handle(ctx, ev)
	return err
}

// handleIdentification fills the camera id from the topic when the payload omits it.
func (s *Server) handleIdentification(ctx context.Context, t string, e *model.VehicleIdentified) error {
	cameraID, err := s.idFrom(paths.Identification, t)
	if err != nil {
		return err
	}
	if e.CameraID == "" {
		e.CameraID = cameraID
	}
	return s.handle(ctx, e)
}

// handleOfficerLocation trusts the topic, which broker ACLs bind to the device.
func (s *Server) handleOfficerLocation(ctx context.Context, t string, e *model.OfficerLocationUpdate) error {
	officerID, err := s.idFrom(paths.OfficerLocation, t)
	if err != nil {
		return err
	}
	e.OfficerID = officerID
	return s.handle(ctx, e)
}

func (s *Server) handleVehicleRegister(ctx context.Context, t string, e *model.CriticalVehicleRegistered) error {
	vehicleID, err := s.idFrom(paths.VehicleRegister, t)
	if err != nil {
		return err
	}
	if e.VehicleID == "" {
		e.VehicleID = vehicleID
	}
	return s.handle(ctx, e)
}

func (s *Server) handleVehicleStatus(ctx context.Context, t string, e *model.VehicleStatusChanged) error {
	vehicleID, err := s.idFrom(paths.VehicleStatus, t)
	if err != nil {
		return err
	}
	e.VehicleID = vehicleID
	return s.handle(ctx, e)
}

func (s *Server) handleAlertAck(ctx context.Context, t string, e *model.AlertAcknowledged) error {
	officerID, err := s.idFrom(paths.AlertAck, t)
	if err != nil {
		return err
	}
	e.OfficerID = officerID
	return s.handle(ctx, e)
}

// handleViolation registers the plate, or removes it when the payload is
// empty (a cleared retained message).
func (s *Server) handleViolation(ctx context.Context, t string, payload []byte) error {
	plate, err := s.idFrom(paths.Violation, t)
	if err != nil {
		return err
	}

	if len(payload) == 0 {
		return s.handle(ctx, &model.ViolationVehicleRemoved{Plate: plate})
	}

	return adapter.JSONHandler(func(ctx context.Context, _ string, e *model.ViolationVehicleRegistered) error {
		if e.Plate == "" {
			e.Plate = plate
		}
		return s.handle(ctx, e)
	})(ctx, t, payload)
}
