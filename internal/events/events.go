// README: Walk lifecycle events published to the event bus.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wander/internal/types"
)

type Type string

const (
	WalkRequested Type = "walk.requested"
	WalkMatched   Type = "walk.matched"
	WalkStarted   Type = "walk.started"
	WalkFinalized Type = "walk.finalized"
	WalkCompleted Type = "walk.completed"
	WalkCancelled Type = "walk.cancelled"
	WalkSOS       Type = "walk.sos"
)

type Event struct {
	Type      Type           `json:"type"`
	RequestID types.ID       `json:"request_id,omitempty"`
	SessionID types.ID       `json:"session_id,omitempty"`
	ActorID   types.ID       `json:"actor_id,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Key partitions events of one walk together.
func (e Event) Key() string {
	if e.RequestID != "" {
		return string(e.RequestID)
	}
	return string(e.SessionID)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes best-effort; failures are logged and never reach the caller.
func Emit(ctx context.Context, pub Publisher, log logrus.FieldLogger, e Event) {
	if pub == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := pub.Publish(ctx, e); err != nil && log != nil {
		log.WithError(err).WithField("event", e.Type).Warn("publish event failed")
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
