package storage

import (
	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/pkg/log"
)

var _ core.AuditSink = (*LogSink)(nil)

// LogSink writes audit records to the log. It is used when no object store
// is configured.
type LogSink struct {
	log log.Logger
}

func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{log: logger.WithName("audit")}
}

func (s *LogSink) Record(rec *core.AuditRecord) {
	kv := []any{
		"eventID", rec.EventID,
		"outcome", rec.Outcome,
		"plate", rec.Identification.Plate,
		"cameraID", rec.Identification.CameraID,
		"alerts", rec.Alerts,
		"suppressed", rec.Suppressed,
	}
	if len(rec.VehicleIDs) > 0 {
		kv = append(kv, "vehicleIDs", rec.VehicleIDs)
	}
	if rec.Error != "" {
		kv = append(kv, "error", rec.Error)
	}
	s.log.Info("Identification audited", kv...)
}
