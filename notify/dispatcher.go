package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/util"
)

const (
	dispatchWorkers   = 2
	dispatchQueueSize = 256
	deliveryTimeout   = 30 * time.Second
)

// Dispatcher fans alerts out to every configured notifier from a worker
// pool. Enqueueing never blocks the caller: if the queue is full the alert's
// notifications are dropped and counted, while the alert itself is already
// persisted and unaffected.
type Dispatcher struct {
	notifiers []Notifier
	pool      *core.WorkerPool
	logger    *zap.SugaredLogger
}

// NewDispatcher panics if logger is nil. Cancelling parentCtx tears the
// dispatch workers down along with the rest of the process.
func NewDispatcher(parentCtx context.Context, notifiers []Notifier, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		panic("NewDispatcher: logger is required")
	}
	return &Dispatcher{
		notifiers: notifiers,
		pool:      core.NewWorkerPool(parentCtx, dispatchWorkers, dispatchQueueSize, "notify", logger),
		logger:    logger,
	}
}

// Start launches the dispatch workers.
func (d *Dispatcher) Start() {
	d.pool.Start()
}

// Stop drains queued deliveries and stops the workers.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// Dispatch queues the alert for delivery to all notifiers and returns
// immediately.
func (d *Dispatcher) Dispatch(alert *core.Alert) {
	if alert == nil || len(d.notifiers) == 0 {
		return
	}

	if err := d.pool.Submit(func() { d.deliver(alert) }); err != nil {
		metrics.NotificationsSent.WithLabelValues("dispatcher", "dropped").Inc()
		d.logger.Warnw("Alert notifications dropped",
			"alert_id", alert.ID,
			"reason", err.Error())
	}
}

// deliver runs on a pool worker. Notifiers are independent: one failing
// destination does not stop delivery to the others.
func (d *Dispatcher) deliver(alert *core.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, n := range d.notifiers {
		err := n.Notify(ctx, alert)
		switch {
		case err == nil:
			metrics.NotificationsSent.WithLabelValues(n.Name(), "ok").Inc()
		case errors.Is(err, ErrNotificationSkipped):
			metrics.NotificationsSent.WithLabelValues(n.Name(), "skipped").Inc()
			d.logger.Debugw("Notification skipped",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"reason", err.Error())
		default:
			metrics.NotificationsSent.WithLabelValues(n.Name(), "error").Inc()
			d.logger.Warnw("Notification failed",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"error", util.SanitizeError(err))
		}
	}
}
