// README: Delivery workers; push each queued task and record SENT or FAILED on the durable record.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wander/internal/observability"
	"wander/internal/types"
)

// Pusher delivers a message to a user's device.
type Pusher interface {
	Push(ctx context.Context, userID types.ID, title, message string, data map[string]string) error
}

// ErrNoDevice is returned by pushers when the user has no registered device.
var ErrNoDevice = errors.New("no device token registered")

type Worker struct {
	queue   Queue
	store   Repository
	pusher  Pusher
	timeout time.Duration
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewWorker(queue Queue, store Repository, pusher Pusher, timeout time.Duration, log logrus.FieldLogger) *Worker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Worker{queue: queue, store: store, pusher: pusher, timeout: timeout, log: log, now: time.Now}
}

// Run starts n delivery goroutines plus the retention janitor and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.janitor(ctx, time.Hour)
	}()
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.WithError(err).Warn("dequeue notification failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.Deliver(ctx, task)
	}
}

// Deliver pushes one task and records the outcome.
func (w *Worker) Deliver(ctx context.Context, t Task) {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pusher.Push(pctx, t.UserID, t.Title, t.Message, t.Data)
	cancel()

	status, reason := DeliverySent, ""
	if err != nil {
		status, reason = DeliveryFailed, err.Error()
		w.log.WithError(err).WithFields(logrus.Fields{
			"notification_id": t.NotificationID,
			"user_id":         t.UserID,
		}).Info("push delivery failed")
	}
	observability.NotificationsDelivered.WithLabelValues(string(status)).Inc()
	if err := w.store.SetDelivery(context.WithoutCancel(ctx), t.NotificationID, status, reason, w.now().UTC()); err != nil {
		w.log.WithError(err).WithField("notification_id", t.NotificationID).Error("record delivery status failed")
	}
}

func (w *Worker) janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.PurgeExpired(ctx, w.now().UTC())
			if err != nil {
				w.log.WithError(err).Warn("purge expired notifications failed")
				continue
			}
			if n > 0 {
				w.log.WithField("count", n).Debug("purged expired notifications")
			}
		}
	}
}
