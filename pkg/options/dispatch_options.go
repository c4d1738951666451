package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DispatchOptions)(nil)

// DispatchOptions controls alert deduplication and delivery.
type DispatchOptions struct {
	ReAlertInterval time.Duration `json:"re-alert-interval" mapstructure:"re-alert-interval"`
	AlertTTL        time.Duration `json:"alert-ttl" mapstructure:"alert-ttl"`
	Retention       time.Duration `json:"retention" mapstructure:"retention"`
	SweepInterval   time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`

	// RetryBackoff is the first retry delay. It doubles on every further retry.
	RetryBackoff time.Duration `json:"retry-backoff" mapstructure:"retry-backoff"`
	// Attempts counts the first send, so 3 means two retries.
	Attempts int `json:"attempts" mapstructure:"attempts"`

	Workers   int `json:"workers" mapstructure:"workers"`
	QueueSize int `json:"queue-size" mapstructure:"queue-size"`
}

func NewDispatchOptions() *DispatchOptions {
	return &DispatchOptions{
		ReAlertInterval: 30 * time.Second,
		AlertTTL:        2 * time.Minute,
		Retention:       10 * time.Minute,
		SweepInterval:   time.Second,
		RetryBackoff:    time.Second,
		Attempts:        3,
		Workers:         4,
		QueueSize:       1024,
	}
}

func (o *DispatchOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.ReAlertInterval <= 0 {
		errs = append(errs, fmt.Errorf("--dispatch.re-alert-interval must be positive"))
	}
	if o.AlertTTL <= 0 {
		errs = append(errs, fmt.Errorf("--dispatch.alert-ttl must be positive"))
	}
	if o.Retention < 0 {
		errs = append(errs, fmt.Errorf("--dispatch.retention must not be negative"))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("--dispatch.sweep-interval must be positive"))
	}
	if o.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("--dispatch.retry-backoff must be positive"))
	}
	if o.Attempts < 1 {
		errs = append(errs, fmt.Errorf("--dispatch.attempts must be at least 1"))
	}
	if o.Workers < 1 {
		errs = append(errs, fmt.Errorf("--dispatch.workers must be at least 1"))
	}
	if o.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("--dispatch.queue-size must be at least 1"))
	}

	return errs
}

func (o *DispatchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.ReAlertInterval, "dispatch.re-alert-interval", o.ReAlertInterval, "Minimum time between two alerts to one officer for one vehicle.")
	fs.DurationVar(&o.AlertTTL, "dispatch.alert-ttl", o.AlertTTL, "Pending alerts expire this long after their last delivery.")
	fs.DurationVar(&o.Retention, "dispatch.retention", o.Retention, "How long closed alerts stay queryable.")
	fs.DurationVar(&o.SweepInterval, "dispatch.sweep-interval", o.SweepInterval, "How often expired alerts are collected.")
	fs.DurationVar(&o.RetryBackoff, "dispatch.retry-backoff", o.RetryBackoff, "Initial delay between delivery retries on one channel.")
	fs.IntVar(&o.Attempts, "dispatch.attempts", o.Attempts, "Delivery attempts per channel, the first one included, before falling back.")
	fs.IntVar(&o.Workers, "dispatch.workers", o.Workers, "Number of delivery workers.")
	fs.IntVar(&o.QueueSize, "dispatch.queue-size", o.QueueSize, "Capacity of the delivery queue.")
}
