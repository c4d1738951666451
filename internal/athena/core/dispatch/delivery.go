package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
)

// deliver routes a notification. Routine alerts try the primary channel with
// retries, then each fallback once. Critical notifications escalate through
// every channel at the same time.
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) {
	if !d.stillPending(n) {
		return
	}
	if n.Critical {
		d.escalate(ctx, n)
		return
	}

	primary := d.channels[0]
	attempts, err := d.sendWithRetry(ctx, primary, n)
	if err == nil {
		return
	}
	if errors.Is(err, errAlertClosed) {
		d.log.Debug("Delivery abandoned, alert closed", "alertID", n.ID, "channel", primary.Name(), "attempts", attempts)
		return
	}
	d.reportFailure(ctx, n, primary.Name(), attempts, err)

	for _, ch := range d.channels[1:] {
		if !d.stillPending(n) {
			return
		}
		if err := d.send(ctx, ch, n); err != nil {
			d.reportFailure(ctx, n, ch.Name(), 1, err)
			continue
		}
		d.log.Info("Alert delivered on fallback channel", "alertID", n.ID, "officerID", n.OfficerID, "channel", ch.Name())
		return
	}

	d.log.Error(err, "Alert undeliverable on every channel", "alertID", n.ID, "officerID", n.OfficerID)
}

func (d *Dispatcher) escalate(ctx context.Context, n *model.Notification) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []string
		lastErr   error
	)

	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch core.Channel) {
			defer wg.Done()

			attempts, err := d.sendWithRetry(ctx, ch, n)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				delivered = append(delivered, ch.Name())
			case errors.Is(err, errAlertClosed):
			default:
				lastErr = err
				d.reportFailure(ctx, n, ch.Name(), attempts, err)
			}
		}(ch)
	}
	wg.Wait()

	if len(delivered) == 0 && lastErr != nil {
		d.log.Error(lastErr, "Critical notification failed on every channel", "id", n.ID,
			"audience", n.Audience, "vehicleID", n.VehicleID)
		return
	}
	d.log.Debug("Critical notification escalated", "id", n.ID, "channels", delivered)
}

// sendWithRetry makes up to Backoff.Steps attempts, at least one. Before every
// retry it checks that the alert is still PENDING.
func (d *Dispatcher) sendWithRetry(ctx context.Context, ch core.Channel, n *model.Notification) (int, error) {
	backoff := d.cfg.Backoff
	maxAttempts := max(backoff.Steps, 1)
	attempts := 0

	for {
		attempts++
		err := d.send(ctx, ch, n)
		if err == nil {
			return attempts, nil
		}
		if attempts >= maxAttempts {
			return attempts, err
		}

		d.log.Debug("Delivery attempt failed", "id", n.ID, "channel", ch.Name(), "attempt", attempts, "error", err)
		if serr := d.sleep(ctx, backoff.Step()); serr != nil {
			return attempts, err
		}
		if !d.stillPending(n) {
			return attempts, errAlertClosed
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, ch core.Channel, n *model.Notification) error {
	err := ch.Send(ctx, n)
	result := "success"
	if err != nil {
		result = "failed"
	}
	d.metrics.DeliveryAttemptsTotal.WithLabelValues(ch.Name(), result).Inc()
	return err
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-d.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stillPending is true for control notifications, which have no lifecycle.
func (d *Dispatcher) stillPending(n *model.Notification) bool {
	if n.Audience != model.AudienceOfficer {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.alerts[n.ID]
	return ok && e.alert.Status == model.AlertStatusPending
}

func (d *Dispatcher) reportFailure(ctx context.Context, n *model.Notification, channel string, attempts int, err error) {
	d.log.Warn("Delivery failed", "id", n.ID, "officerID", n.OfficerID, "channel", channel,
		"attempts", attempts, "error", err)

	d.publish(ctx, &model.AlertDeliveryFailed{
		AlertID:   n.ID,
		OfficerID: n.OfficerID,
		Channel:   channel,
		Attempts:  attempts,
		Error:     err.Error(),
		At:        d.clock.Now(),
	})
}
