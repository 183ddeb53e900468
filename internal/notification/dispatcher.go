package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/fkhayef/settleup/internal/metrics"
)

// Store persists delivered notifications
type Store interface {
	Save(ctx context.Context, e Event) (*Notification, error)
}

// Publisher forwards events to an external broker
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Dispatcher delivers notifications in the background. Notify never blocks:
// events that do not fit in the queue are dropped and logged
type Dispatcher struct {
	queue     chan Event
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// NewDispatcher creates a dispatcher with room for size pending events.
// publisher may be nil when no broker is configured
func NewDispatcher(store Store, publisher Publisher, m *metrics.Metrics, size int) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		queue:     make(chan Event, size),
		store:     store,
		publisher: publisher,
		metrics:   m,
		timeout:   5 * time.Second,
	}
}

// Notify queues e for delivery
func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	select {
	case d.queue <- e:
		d.metrics.NotificationsQueued.Inc()
	default:
		d.metrics.NotificationsDropped.Inc()
		slog.ErrorContext(ctx, "notification queue full, dropping event",
			"event_id", e.ID,
			"type", e.Type,
			"recipient_id", e.RecipientID,
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left in the queue
func (d *Dispatcher) Run(ctx context.Context) {
	slog.InfoContext(ctx, "notification dispatcher started", "capacity", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			d.drain()
			slog.Info("notification dispatcher stopped")
			return
		case e := <-d.queue:
			d.deliver(ctx, e)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if _, err := d.store.Save(ctx, e); err != nil {
		d.metrics.NotificationsDelivered.WithLabelValues("store", "error").Inc()
		slog.ErrorContext(ctx, "failed to store notification", "event_id", e.ID, "error", err)
	} else {
		d.metrics.NotificationsDelivered.WithLabelValues("store", "ok").Inc()
	}

	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, e); err != nil {
		d.metrics.NotificationsDelivered.WithLabelValues("broker", "error").Inc()
		slog.ErrorContext(ctx, "failed to publish notification", "event_id", e.ID, "error", err)
		return
	}
	d.metrics.NotificationsDelivered.WithLabelValues("broker", "ok").Inc()
}
