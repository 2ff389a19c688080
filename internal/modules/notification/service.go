// README: Notification service; persists the durable record, then hands delivery to the queue.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/types"
)

var (
	ErrNotFound   = apperr.New(apperr.KindNotFound, "notification not found")
	ErrBadRequest = apperr.New(apperr.KindValidation, "invalid notification query")
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	SetDelivery(ctx context.Context, id types.ID, status DeliveryStatus, reason string, at time.Time) error
	ListByUser(ctx context.Context, userID types.ID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, userID types.ID) (int, error)
	MarkRead(ctx context.Context, id, userID types.ID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID types.ID, at time.Time) (int64, error)
	Delete(ctx context.Context, id, userID types.ID) (bool, error)
	DeleteAll(ctx context.Context, userID types.ID) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	store     Repository
	queue     Queue
	retention time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(store Repository, queue Queue, retention time.Duration, log logrus.FieldLogger) *Service {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Service{store: store, queue: queue, retention: retention, log: log, now: time.Now}
}

// Notify records the notification and schedules delivery. It never fails the
// caller; persistence and enqueue errors are logged.
func (s *Service) Notify(ctx context.Context, in Notice) {
	if in.UserID == "" {
		return
	}
	if _, err := s.record(ctx, in); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": in.UserID, "type": in.Type}).Error("persist notification failed")
	}
}

// CreateRequest is a notification a user files for themselves, such as a
// reminder set from the app.
type CreateRequest struct {
	Type     Type              `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Priority Priority          `json:"priority"`
	Data     map[string]string `json:"data"`
}

const (
	maxTitleLen   = 120
	maxMessageLen = 1000
)

// Create stores a self-addressed REMINDER or SYSTEM notification and schedules
// its delivery. Domain notices go through Notify only.
func (s *Service) Create(ctx context.Context, userID types.ID, req CreateRequest) (*Notification, error) {
	if userID == "" {
		return nil, ErrBadRequest
	}
	switch req.Type {
	case "":
		req.Type = TypeReminder
	case TypeReminder, TypeSystem:
	default:
		return nil, apperr.New(apperr.KindValidation, "only REMINDER and SYSTEM notifications can be created")
	}
	switch req.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return nil, apperr.New(apperr.KindValidation, "invalid priority")
	}
	title, message := strings.TrimSpace(req.Title), strings.TrimSpace(req.Message)
	if title == "" || message == "" {
		return nil, apperr.New(apperr.KindValidation, "title and message are required")
	}
	if len(title) > maxTitleLen || len(message) > maxMessageLen {
		return nil, apperr.New(apperr.KindValidation, "title or message too long")
	}
	return s.record(ctx, Notice{
		UserID:   userID,
		Type:     req.Type,
		Title:    title,
		Message:  message,
		Priority: req.Priority,
		Data:     req.Data,
	})
}

// record persists the notification and enqueues its delivery. An enqueue
// failure marks the record FAILED but still returns it.
func (s *Service) record(ctx context.Context, in Notice) (*Notification, error) {
	now := s.now().UTC()
	n := &Notification{
		ID:             types.NewID(),
		UserID:         in.UserID,
		Type:           in.Type,
		Title:          in.Title,
		Message:        in.Message,
		Priority:       in.Priority,
		Data:           in.Data,
		RelatedID:      in.RelatedID,
		RelatedModel:   in.RelatedModel,
		DeliveryStatus: DeliveryPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.retention),
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if n.Type == TypeSOSAlert {
		n.Priority = PriorityUrgent
	}
	if n.Data == nil {
		n.Data = map[string]string{}
	}

	// Delivery must outlive the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	task := Task{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		Data:           withType(n.Data, n.Type),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": n.UserID, "type": n.Type}).Warn("enqueue notification failed")
		_ = s.store.SetDelivery(ctx, n.ID, DeliveryFailed, err.Error(), now)
		n.DeliveryStatus, n.FailureReason = DeliveryFailed, err.Error()
	}
	return n, nil
}

func withType(data map[string]string, t Type) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["type"] = string(t)
	return out
}

type ListQuery struct {
	UserID     types.ID
	UnreadOnly bool
	Page       int
	Limit      int
}

type Page struct {
	Items       []*Notification `json:"notifications"`
	Total       int             `json:"total"`
	Page        int             `json:"page"`
	Limit       int             `json:"limit"`
	UnreadCount int             `json:"unreadCount"`
}

func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	if q.UserID == "" {
		return nil, ErrBadRequest
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	items, total, err := s.store.ListByUser(ctx, q.UserID, q.UnreadOnly, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadCount(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: q.Page, Limit: q.Limit, UnreadCount: unread}, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID types.ID) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id, userID types.ID) error {
	ok, err := s.store.MarkRead(ctx, id, userID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID types.ID) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, s.now().UTC())
}

func (s *Service) Delete(ctx context.Context, id, userID types.ID) error {
	ok, err := s.store.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteAll clears the user's inbox and reports how many records went.
func (s *Service) DeleteAll(ctx context.Context, userID types.ID) (int64, error) {
	if userID == "" {
		return 0, ErrBadRequest
	}
	return s.store.DeleteAll(ctx, userID)
}
