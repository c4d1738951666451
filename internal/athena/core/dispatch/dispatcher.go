// Package dispatch deduplicates intercept alerts and delivers them to officers
// and the dispatch center.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/athena/internal/pkg/util/fsm"
	"github.com/autopeer-io/athena/pkg/log"
)

// errAlertClosed stops a delivery whose alert left PENDING.
var errAlertClosed = errors.New("alert no longer pending")

// Config holds the dispatch policy.
type Config struct {
	// ReAlertInterval is the minimum time between two deliveries for one
	// (officer, vehicle) pair.
	ReAlertInterval time.Duration

	// AlertTTL expires a PENDING alert this long after its last delivery.
	AlertTTL time.Duration

	// Retention keeps closed alerts queryable before they are collected.
	Retention time.Duration

	SweepInterval time.Duration

	// Backoff drives retries on a single channel. Steps is the total number of
	// attempts, as with wait.ExponentialBackoff.
	Backoff wait.Backoff

	Workers   int
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		ReAlertInterval: 30 * time.Second,
		AlertTTL:        2 * time.Minute,
		Retention:       10 * time.Minute,
		SweepInterval:   time.Second,
		Backoff:         wait.Backoff{Duration: time.Second, Factor: 2, Steps: 3},
		Workers:         4,
		QueueSize:       1024,
	}
}

// OfferResult tells the caller what Offer did with an alert.
type OfferResult string

const (
	OfferCreated   OfferResult = "created"
	OfferRefreshed OfferResult = "refreshed"
	OfferThrottled OfferResult = "throttled"
)

type entry struct {
	alert    *model.InterceptAlert
	machine  *fsm.FSM
	lastSent time.Time
}

func (e *entry) snapshot() *model.InterceptAlert {
	out := *e.alert
	return &out
}

func (e *entry) notification() *model.Notification {
	return &model.Notification{
		ID:        e.alert.ID,
		Audience:  model.AudienceOfficer,
		OfficerID: e.alert.OfficerID,
		VehicleID: e.alert.VehicleID,
		Critical:  e.alert.Critical,
		Event:     model.NewInterceptAlertGenerated(e.alert),
	}
}

// refresh copies the live fields of a newer evaluation into the pending alert.
func (e *entry) refresh(a *model.InterceptAlert, now time.Time) {
	e.alert.Vehicle = a.Vehicle
	e.alert.Location = a.Location
	e.alert.CameraID = a.CameraID
	e.alert.DistanceMeters = a.DistanceMeters
	e.alert.Direction = a.Direction
	e.alert.Bearing = a.Bearing
	e.alert.EstimatedInterceptSeconds = a.EstimatedInterceptSeconds
	e.alert.Critical = e.alert.Critical || a.Critical
	e.alert.UpdatedAt = now
}

// job is one unit of asynchronous work: a delivery or an event publish.
type job struct {
	notification *model.Notification
	event        model.OutboundEvent
}

// Dispatcher owns every intercept alert. State changes happen under one
// mutex; network I/O happens on worker goroutines fed by a bounded queue.
type Dispatcher struct {
	cfg       Config
	clock     clock.WithTicker
	log       log.Logger
	metrics   *metrics.Metrics
	channels  []core.Channel
	publisher core.EventPublisher

	mu     sync.Mutex
	alerts map[string]*entry
	byKey  map[model.DedupKey]*entry

	jobs chan job
}

// New returns a dispatcher. channels[0] is the primary officer channel; the
// rest are fallbacks. Critical notifications go to all of them.
func New(cfg Config, channels []core.Channel, publisher core.EventPublisher, clk clock.WithTicker, m *metrics.Metrics, logger log.Logger) (*Dispatcher, error) {
	if len(channels) == 0 {
		return nil, errors.New("at least one delivery channel is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	return &Dispatcher{
		cfg:       cfg,
		clock:     clk,
		log:       logger.WithName("dispatch"),
		metrics:   m,
		channels:  channels,
		publisher: publisher,
		alerts:    make(map[string]*entry),
		byKey:     make(map[model.DedupKey]*entry),
		jobs:      make(chan job, cfg.QueueSize),
	}, nil
}

// Run starts the delivery workers and the expiry sweeper. It blocks until
// ctx is cancelled, then flushes what is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Starting alert dispatcher", "workers", d.cfg.Workers,
		"reAlertInterval", d.cfg.ReAlertInterval, "ttl", d.cfg.AlertTTL)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}

	ticker := d.clock.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			d.Sweep(ctx)
		case <-ctx.Done():
			wg.Wait()

			// Queued work gets a short grace period after shutdown.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			d.drain(flushCtx)

			d.log.Info("Stopping alert dispatcher")
			return nil
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case j := <-d.jobs:
			d.metrics.DispatchQueueDepth.Dec()
			d.process(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// drain processes queued jobs on the calling goroutine until the queue is empty.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case j := <-d.jobs:
			d.metrics.DispatchQueueDepth.Dec()
			d.process(ctx, j)
		default:
			return
		}
	}
}

// enqueue never blocks. A full queue hands the job to its own goroutine so
// nothing is dropped.
func (d *Dispatcher) enqueue(ctx context.Context, j job) {
	select {
	case d.jobs <- j:
		d.metrics.DispatchQueueDepth.Inc()
	default:
		d.log.Warn("Dispatch queue full, processing out of band", "queueSize", d.cfg.QueueSize)
		go d.process(context.WithoutCancel(ctx), j)
	}
}

func (d *Dispatcher) publish(ctx context.Context, e model.OutboundEvent) {
	d.enqueue(ctx, job{event: e})
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if j.event != nil {
		if err := d.publisher.Publish(ctx, j.event); err != nil {
			d.log.Error(err, "Failed to publish event", "type", j.event.EventType())
		}
		return
	}
	d.deliver(ctx, j.notification)
}

// Offer hands a qualifying alert to the dedup layer. Check-or-refresh of the
// (officer, vehicle) key is one atomic step.
func (d *Dispatcher) Offer(ctx context.Context, a *model.InterceptAlert) (*model.InterceptAlert, OfferResult) {
	now := d.clock.Now()
	key := a.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.byKey[key]; ok {
		d.expireIfDueLocked(ctx, e, now)

		switch {
		case e.alert.Status == model.AlertStatusPending:
			e.refresh(a, now)
			if now.Sub(e.lastSent) >= d.cfg.ReAlertInterval {
				e.lastSent = now
				d.enqueue(ctx, job{notification: e.notification()})
			}
			d.countAlert(string(OfferRefreshed), e.alert.Critical)
			return e.snapshot(), OfferRefreshed

		case now.Sub(e.lastSent) < d.cfg.ReAlertInterval:
			d.countAlert(string(OfferThrottled), a.Critical)
			return e.snapshot(), OfferThrottled
		}
	}

	alert := *a
	alert.ID = uuid.NewString()
	alert.Status = model.AlertStatusPending
	alert.GeneratedAt = now
	alert.UpdatedAt = now
	alert.AcknowledgedAt = nil
	alert.ClosedAt = nil

	e := &entry{alert: &alert, machine: newAlertMachine(), lastSent: now}
	d.alerts[alert.ID] = e
	d.byKey[key] = e

	d.enqueue(ctx, job{notification: e.notification()})
	d.publish(ctx, model.NewInterceptAlertGenerated(e.alert))
	d.countAlert(string(OfferCreated), alert.Critical)

	d.log.Info("Intercept alert generated", "alertID", alert.ID, "officerID", alert.OfficerID,
		"vehicleID", alert.VehicleID, "distance", alert.DistanceMeters, "direction", alert.Direction,
		"critical", alert.Critical)

	return e.snapshot(), OfferCreated
}

// Suppress cancels the PENDING alert for the pair, if any.
func (d *Dispatcher) Suppress(ctx context.Context, officerID, vehicleID, reason string) (*model.InterceptAlert, bool) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byKey[model.DedupKey{OfficerID: officerID, VehicleID: vehicleID}]
	if !ok {
		return nil, false
	}
	d.expireIfDueLocked(ctx, e, now)
	if err := d.transitionLocked(ctx, e, EventCancel, now); err != nil {
		return nil, false
	}

	d.publish(ctx, &model.InterceptAlertSuppressed{
		AlertID:   e.alert.ID,
		OfficerID: officerID,
		VehicleID: vehicleID,
		Reason:    reason,
		At:        now,
	})
	d.countAlert("suppressed", e.alert.Critical)
	d.log.Info("Intercept alert suppressed", "alertID", e.alert.ID, "officerID", officerID,
		"vehicleID", vehicleID, "reason", reason)

	return e.snapshot(), true
}

// Acknowledge records the officer's acknowledgement. An unknown alert, or one
// addressed to another officer, is ErrAlertNotFound.
func (d *Dispatcher) Acknowledge(ctx context.Context, alertID, officerID string) (*model.InterceptAlert, error) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.alerts[alertID]
	if !ok || e.alert.OfficerID != officerID {
		return nil, fmt.Errorf("%w: %s for officer %s", core.ErrAlertNotFound, alertID, officerID)
	}

	d.expireIfDueLocked(ctx, e, now)
	if err := d.transitionLocked(ctx, e, EventAcknowledge, now); err != nil {
		return nil, err
	}

	d.publish(ctx, &model.InterceptAlertAcknowledged{
		AlertID:   e.alert.ID,
		OfficerID: e.alert.OfficerID,
		VehicleID: e.alert.VehicleID,
		At:        now,
	})
	d.countAlert("acknowledged", e.alert.Critical)
	d.log.Info("Intercept alert acknowledged", "alertID", alertID, "officerID", officerID,
		"latency", now.Sub(e.alert.GeneratedAt))

	return e.snapshot(), nil
}

// DispatchCritical notifies the dispatch center of a critical-vehicle
// sighting on every channel and publishes the event.
func (d *Dispatcher) DispatchCritical(ctx context.Context, ev *model.CriticalVehicleDetected) {
	d.publish(ctx, ev)
	d.enqueue(ctx, job{notification: &model.Notification{
		ID:        ev.EventID,
		Audience:  model.AudienceControl,
		VehicleID: ev.VehicleID,
		Critical:  true,
		Event:     ev,
	}})

	d.log.Info("Critical vehicle detected", "eventID", ev.EventID, "vehicleID", ev.VehicleID,
		"plate", ev.Plate, "cameraID", ev.CameraID, "priority", ev.Priority)
}

// Sweep expires overdue PENDING alerts and collects closed alerts past retention.
func (d *Dispatcher) Sweep(ctx context.Context) (expired int) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	collected := 0
	for id, e := range d.alerts {
		if d.expireIfDueLocked(ctx, e, now) {
			expired++
			continue
		}
		if e.alert.ClosedAt == nil || now.Sub(*e.alert.ClosedAt) < d.cfg.Retention || now.Sub(e.lastSent) < d.cfg.ReAlertInterval {
			continue
		}
		delete(d.alerts, id)
		if key := e.alert.Key(); d.byKey[key] == e {
			delete(d.byKey, key)
		}
		collected++
	}

	if expired > 0 || collected > 0 {
		d.log.Debug("Alert sweep completed", "expired", expired, "collected", collected)
	}
	return expired
}

// Get returns a copy of an alert.
func (d *Dispatcher) Get(alertID string) (*model.InterceptAlert, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAlertNotFound, alertID)
	}
	return e.snapshot(), nil
}

// List returns alerts, newest first. Empty filters match everything.
func (d *Dispatcher) List(officerID string, status model.AlertStatus) []*model.InterceptAlert {
	d.mu.Lock()
	out := make([]*model.InterceptAlert, 0, len(d.alerts))
	for _, e := range d.alerts {
		if officerID != "" && e.alert.OfficerID != officerID {
			continue
		}
		if status != "" && e.alert.Status != status {
			continue
		}
		out = append(out, e.snapshot())
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out
}

func (d *Dispatcher) expireIfDueLocked(ctx context.Context, e *entry, now time.Time) bool {
	if e.alert.Status != model.AlertStatusPending || now.Sub(e.lastSent) < d.cfg.AlertTTL {
		return false
	}
	if err := d.transitionLocked(ctx, e, EventExpire, now); err != nil {
		return false
	}

	d.publish(ctx, &model.InterceptAlertExpired{
		AlertID:   e.alert.ID,
		OfficerID: e.alert.OfficerID,
		VehicleID: e.alert.VehicleID,
		At:        now,
	})
	d.countAlert("expired", e.alert.Critical)
	d.log.Info("Intercept alert expired", "alertID", e.alert.ID, "officerID", e.alert.OfficerID,
		"vehicleID", e.alert.VehicleID)
	return true
}

func (d *Dispatcher) transitionLocked(ctx context.Context, e *entry, event string, now time.Time) error {
	if err := e.machine.Event(ctx, event); err != nil {
		if fsmutil.IsRejected(err) {
			return fmt.Errorf("%w: alert %s is %s", core.ErrInvalidStateTransition, e.alert.ID, e.machine.Current())
		}
		return err
	}

	e.alert.Status = model.AlertStatus(e.machine.Current())
	e.alert.UpdatedAt = now
	e.alert.ClosedAt = &now
	if e.alert.Status == model.AlertStatusAcknowledged {
		e.alert.AcknowledgedAt = &now
	}
	return nil
}

func (d *Dispatcher) countAlert(result string, critical bool) {
	d.metrics.AlertsTotal.WithLabelValues(result, metrics.BoolLabel(critical)).Inc()
}
