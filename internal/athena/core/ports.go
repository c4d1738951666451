package core

import (
	"context"
	"time"

	"github.com/autopeer-io/athena/internal/athena/core/model"
)

// Channel delivers notifications to officers or the dispatch center.
// Implementations are the WebSocket hub and the MQTT notifier.
type Channel interface {
	// Name identifies the channel in logs, metrics and AlertDeliveryFailed events.
	Name() string

	// Send performs a single delivery attempt. Retries are the caller's job.
	Send(ctx context.Context, n *model.Notification) error
}

// EventPublisher fans outbound events out to the surrounding system.
type EventPublisher interface {
	Publish(ctx context.Context, e model.OutboundEvent) error
}

// AuditOutcome classifies what happened to an identification.
type AuditOutcome string

const (
	OutcomeInvalid        AuditOutcome = "invalid"
	OutcomeNoMatch        AuditOutcome = "no_match"
	OutcomeBelowThreshold AuditOutcome = "below_threshold"
	OutcomeCriticalMatch  AuditOutcome = "critical_match"
	OutcomeViolationMatch AuditOutcome = "violation_match"
)

// AuditRecord is written for every identification, matched or not.
type AuditRecord struct {
	EventID                string               `json:"event_id"`
	Outcome                AuditOutcome         `json:"outcome"`
	Identification         model.Identification `json:"identification"`
	VehicleIDs             []string             `json:"vehicle_ids,omitempty"`
	LowConfidenceSecondary bool                 `json:"low_confidence_secondary,omitempty"`
	Alerts                 int                  `json:"alerts"`
	Suppressed             int                  `json:"suppressed"`
	Error                  string               `json:"error,omitempty"`
	RecordedAt             time.Time            `json:"recorded_at"`
}

// AuditSink stores audit records. Record must not block on network I/O.
type AuditSink interface {
	Record(rec *AuditRecord)
}
