// README: Walk request service implements the request state machine and the OTP handshake.
package walkrequest

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/events"
	"wander/internal/modules/notification"
	"wander/internal/types"
)

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "walk request not found")
	ErrInvalidState      = apperr.New(apperr.KindInvalidState, "invalid walk request state")
	ErrConflict          = apperr.New(apperr.KindConflict, "walk request state conflict")
	ErrActiveRequest     = apperr.New(apperr.KindConflict, "wanderer has an active walk request")
	ErrForbidden         = apperr.New(apperr.KindForbidden, "not a participant of this walk request")
	ErrAssignedElsewhere = apperr.New(apperr.KindForbidden, "walk request is assigned to another walker")
	ErrWalkerUnavailable = apperr.New(apperr.KindConflict, "walker is not available")
	ErrBadRequest        = apperr.New(apperr.KindValidation, "bad request")
	ErrOTPExpired        = apperr.New(apperr.KindExpired, "otp expired or not issued")
	ErrOTPMismatch       = apperr.New(apperr.KindMismatch, "invalid otp")
)

type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	Save(ctx context.Context, r *Request, from Status, version int) (bool, error)
	SetWalkerLocation(ctx context.Context, id, walkerID types.ID, p types.Point, at time.Time) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	HasActiveByWanderer(ctx context.Context, wandererID types.ID) (bool, error)
	FindActive(ctx context.Context, userID types.ID) (*Request, error)
	History(ctx context.Context, userID types.ID, limit, offset int) ([]*Request, int, error)
	PendingForWalker(ctx context.Context, walkerID types.ID, since time.Time, limit int) ([]*Request, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notice)
}

// Walkers tracks walker availability.
type Walkers interface {
	Available(ctx context.Context, walkerID types.ID) (bool, error)
	MarkBusy(ctx context.Context, walkerID types.ID) error
	Release(ctx context.Context, walkerID types.ID) error
}

// SessionAborter cancels the live session of a request that is being cancelled.
type SessionAborter interface {
	AbortForRequest(ctx context.Context, requestID types.ID, reason string) error
}

type Options struct {
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
	PendingWindow time.Duration
	PendingLimit  int
}

type Deps struct {
	Notifier Notifier
	Walkers  Walkers
	Events   events.Publisher
	Log      logrus.FieldLogger
}

type Service struct {
	store    Repository
	notifier Notifier
	walkers  Walkers
	sessions SessionAborter
	events   events.Publisher
	log      logrus.FieldLogger
	opts     Options
	now      func() time.Time
}

func NewService(store Repository, opts Options, deps Deps) *Service {
	if opts.OTPLength == 0 {
		opts.OTPLength = 4
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.OTPMaxAttempts <= 0 {
		opts.OTPMaxAttempts = 5
	}
	if opts.PendingWindow <= 0 {
		opts.PendingWindow = 24 * time.Hour
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = 10
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		notifier: deps.Notifier,
		walkers:  deps.Walkers,
		events:   deps.Events,
		log:      deps.Log,
		opts:     opts,
		now:      time.Now,
	}
}

// SetSessions wires the session engine, which is built after this service.
func (s *Service) SetSessions(a SessionAborter) {
	s.sessions = a
}

type CreateCommand struct {
	WandererID          types.ID
	Pickup              types.Point
	Address             string
	DurationMinutes     int
	Pace                Pace
	ConversationLevel   ConversationLevel
	Languages           []string
	SpecialRequirements string
	ScheduledFor        *time.Time
}

type AssignCommand struct {
	RequestID  types.ID
	WandererID types.ID
	WalkerID   types.ID
}

type AcceptCommand struct {
	RequestID types.ID
	WalkerID  types.ID
}

type RejectCommand struct {
	RequestID types.ID
	WalkerID  types.ID
}

type CancelCommand struct {
	RequestID types.ID
	ActorID   types.ID
	Reason    string
}

type VerifyOTPCommand struct {
	RequestID types.ID
	WalkerID  types.ID
	Code      string
}

type OTP struct {
	Code      string    `json:"otp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PartnerLocation struct {
	PartnerRole types.Role   `json:"partnerRole"`
	Location    *types.Point `json:"location"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

type HistoryPage struct {
	Items []*Request `json:"walks"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

func (cmd CreateCommand) validate(now time.Time) error {
	if cmd.WandererID == "" || !cmd.Pickup.Valid() {
		return ErrBadRequest
	}
	if cmd.DurationMinutes < 15 || cmd.DurationMinutes > 240 {
		return apperr.New(apperr.KindValidation, "duration must be between 15 and 240 minutes")
	}
	switch cmd.Pace {
	case PaceSlow, PaceModerate, PaceFast, PaceVeryFast:
	default:
		return apperr.New(apperr.KindValidation, "invalid pace")
	}
	switch cmd.ConversationLevel {
	case ConversationSilent, ConversationLight, ConversationModerate, ConversationChatty:
	default:
		return apperr.New(apperr.KindValidation, "invalid conversation level")
	}
	if utf8.RuneCountInString(cmd.SpecialRequirements) > 500 {
		return apperr.New(apperr.KindValidation, "special requirements exceed 500 characters")
	}
	if cmd.ScheduledFor != nil && !cmd.ScheduledFor.After(now) {
		return apperr.New(apperr.KindValidation, "scheduled time must be in the future")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	now := s.now().UTC()
	if err := cmd.validate(now); err != nil {
		return nil, err
	}
	active, err := s.store.HasActiveByWanderer(ctx, cmd.WandererID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveRequest
	}
	languages := cmd.Languages
	if languages == nil {
		languages = []string{}
	}

	r := &Request{
		ID:                  types.NewID(),
		WandererID:          cmd.WandererID,
		Status:              StatusPending,
		Pickup:              cmd.Pickup,
		Address:             cmd.Address,
		DurationMinutes:     cmd.DurationMinutes,
		Pace:                cmd.Pace,
		ConversationLevel:   cmd.ConversationLevel,
		Languages:           languages,
		SpecialRequirements: cmd.SpecialRequirements,
		ScheduledFor:        cmd.ScheduledFor,
		CreatedAt:           now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "wanderer",
		ActorID:    &cmd.WandererID,
		CreatedAt:  now,
	})
	events.Emit(ctx, s.events, s.log, events.Event{Type: events.WalkRequested, RequestID: r.ID, ActorID: r.WandererID, At: now})
	return r, nil
}

// Get loads a request without access checks; used by other modules.
func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// View loads a request for a caller. Participants always see it; any walker
// may see an open request that nobody has been bound to yet.
func (s *Service) View(ctx context.Context, id, caller types.ID, role types.Role) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsParticipant(caller) {
		return r, nil
	}
	if role == types.RoleWalker && r.Status == StatusPending && r.WalkerID == nil {
		return r, nil
	}
	return nil, ErrForbidden
}

func (s *Service) Assign(ctx context.Context, cmd AssignCommand) (*Request, error) {
	if cmd.WalkerID == "" {
		return nil, ErrBadRequest
	}
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.WandererID != cmd.WandererID {
		return nil, ErrForbidden
	}
	if r.Status != StatusPending {
		return nil, ErrInvalidState
	}
	if s.walkers != nil {
		ok, err := s.walkers.Available(ctx, cmd.WalkerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrWalkerUnavailable
		}
	}
	now := s.now().UTC()
	walkerID := cmd.WalkerID
	if err := s.save(ctx, r, func(n *Request) {
		n.WalkerID = &walkerID
		n.AssignedAt = &now
	}); err != nil {
		return nil, err
	}
	s.notify(ctx, notification.WalkRequestReceived(walkerID, r.ID, 0))
	return r, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrInvalidState
	}
	if r.WalkerID != nil && *r.WalkerID != cmd.WalkerID {
		return nil, ErrAssignedElsewhere
	}
	code, err := generateOTP(s.opts.OTPLength)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expires := now.Add(s.opts.OTPTTL)
	walkerID := cmd.WalkerID
	err = s.transition(ctx, r, StatusMatched, "walker", &walkerID, func(n *Request) {
		n.WalkerID = &walkerID
		n.OTP = code
		n.OTPExpiresAt = &expires
		n.OTPVerified = false
		n.OTPAttempts = 0
		n.MatchedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if s.walkers != nil {
		if err := s.walkers.MarkBusy(ctx, walkerID); err != nil {
			s.log.WithError(err).WithField("walker_id", walkerID).Warn("mark walker busy failed")
		}
	}
	s.notify(ctx, notification.WalkRequestAccepted(r.WandererID, r.ID, walkerID))
	events.Emit(ctx, s.events, s.log, events.Event{Type: events.WalkMatched, RequestID: r.ID, ActorID: walkerID, At: now})
	return r, nil
}

// Reject acknowledges a walker declining. A request pre-assigned to that
// walker is released so the wanderer can choose again.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) error {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending || r.WalkerID == nil || *r.WalkerID != cmd.WalkerID {
		return nil
	}
	return s.save(ctx, r, func(n *Request) {
		n.WalkerID = nil
		n.AssignedAt = nil
	})
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(cmd.ActorID) {
		return nil, ErrForbidden
	}
	if r.Status.Terminal() {
		return nil, ErrInvalidState
	}
	prev := r.Status
	actorType := "wanderer"
	if cmd.ActorID != r.WandererID {
		actorType = "walker"
	}
	now := s.now().UTC()
	actor := cmd.ActorID
	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled by " + actorType
	}
	err = s.transition(ctx, r, StatusCancelled, actorType, &actor, func(n *Request) {
		n.CancelledAt = &now
		n.CancelReason = &reason
		n.CancelledBy = &actor
		n.OTP = ""
		n.OTPExpiresAt = nil
	})
	if err != nil {
		return nil, err
	}

	if (prev == StatusInProgress || prev == StatusPaymentPending) && s.sessions != nil {
		if err := s.sessions.AbortForRequest(ctx, r.ID, reason); err != nil {
			s.log.WithError(err).WithField("request_id", r.ID).Error("abort session for cancelled request failed")
		}
	}
	if r.WalkerID != nil && prev != StatusPending && s.walkers != nil {
		if err := s.walkers.Release(ctx, *r.WalkerID); err != nil {
			s.log.WithError(err).WithField("walker_id", *r.WalkerID).Warn("release walker failed")
		}
	}
	if other, ok := r.Counterpart(cmd.ActorID); ok {
		s.notify(ctx, notification.WalkCancelled(other, r.ID, reason))
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.WalkCancelled, RequestID: r.ID, ActorID: actor, At: now,
		Data: map[string]any{"from": string(prev), "reason": reason},
	})
	return r, nil
}

// GetOTP returns the handshake code to the wanderer, who reads it out to the walker.
func (s *Service) GetOTP(ctx context.Context, requestID, caller types.ID) (*OTP, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.WandererID != caller {
		return nil, ErrForbidden
	}
	if r.OTP == "" || r.OTPExpiresAt == nil || s.now().After(*r.OTPExpiresAt) {
		return nil, ErrOTPExpired
	}
	return &OTP{Code: r.OTP, ExpiresAt: *r.OTPExpiresAt}, nil
}

// VerifyOTP consumes the code and moves the request to IN_PROGRESS.
func (s *Service) VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.WalkerID == nil || *r.WalkerID != cmd.WalkerID {
		return nil, ErrForbidden
	}
	// A consumed code is reported as expired, not as a state error.
	if r.OTPVerified {
		return nil, ErrOTPExpired
	}
	if r.Status != StatusMatched {
		return nil, ErrInvalidState
	}
	now := s.now().UTC()
	if r.OTP == "" || r.OTPExpiresAt == nil || now.After(*r.OTPExpiresAt) {
		return nil, ErrOTPExpired
	}
	if !otpEqual(r.OTP, cmd.Code) {
		s.recordOTPFailure(ctx, r)
		return nil, ErrOTPMismatch
	}
	walkerID := cmd.WalkerID
	err = s.transition(ctx, r, StatusInProgress, "walker", &walkerID, func(n *Request) {
		n.OTP = ""
		n.OTPExpiresAt = nil
		n.OTPVerified = true
		n.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// recordOTPFailure counts a wrong code and burns the OTP once the attempt
// budget is spent.
func (s *Service) recordOTPFailure(ctx context.Context, r *Request) {
	err := s.save(ctx, r, func(n *Request) {
		n.OTPAttempts++
		if n.OTPAttempts >= s.opts.OTPMaxAttempts {
			n.OTP = ""
			n.OTPExpiresAt = nil
		}
	})
	if err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("record otp failure")
	}
}

func (s *Service) UpdateWalkerLocation(ctx context.Context, requestID, walkerID types.ID, p types.Point) error {
	if !p.Valid() {
		return ErrBadRequest
	}
	ok, err := s.store.SetWalkerLocation(ctx, requestID, walkerID, p, s.now().UTC())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if r.WalkerID == nil || *r.WalkerID != walkerID {
		return ErrForbidden
	}
	return ErrInvalidState
}

// PartnerLocation shows the wanderer where the walker is, and the walker where to meet.
func (s *Service) PartnerLocation(ctx context.Context, requestID, caller types.ID) (*PartnerLocation, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch {
	case caller == r.WandererID:
		return &PartnerLocation{PartnerRole: types.RoleWalker, Location: r.WalkerLocation, UpdatedAt: r.WalkerLocationAt}, nil
	case r.WalkerID != nil && *r.WalkerID == caller:
		pickup := r.Pickup
		return &PartnerLocation{PartnerRole: types.RoleWanderer, Location: &pickup, UpdatedAt: &r.CreatedAt}, nil
	default:
		return nil, ErrForbidden
	}
}

// Active returns the caller's open request or nil.
func (s *Service) Active(ctx context.Context, userID types.ID) (*Request, error) {
	r, err := s.store.FindActive(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *Service) History(ctx context.Context, userID types.ID, page, limit int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	items, total, err := s.store.History(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) PendingForWalker(ctx context.Context, walkerID types.ID) ([]*Request, error) {
	since := s.now().UTC().Add(-s.opts.PendingWindow)
	return s.store.PendingForWalker(ctx, walkerID, since, s.opts.PendingLimit)
}

// MarkInProgress advances a matched request when its session opens.
func (s *Service) MarkInProgress(ctx context.Context, id types.ID) error {
	return s.advance(ctx, id, StatusInProgress, func(n *Request, now time.Time) {
		if n.StartedAt == nil {
			n.StartedAt = &now
		}
	})
}

func (s *Service) MarkPaymentPending(ctx context.Context, id types.ID) error {
	return s.advance(ctx, id, StatusPaymentPending, nil)
}

func (s *Service) MarkCompleted(ctx context.Context, id types.ID) error {
	return s.advance(ctx, id, StatusCompleted, func(n *Request, now time.Time) {
		n.CompletedAt = &now
	})
}

// advance performs a system transition, succeeding if the request already
// reached the target. Version conflicts are retried a few times.
func (s *Service) advance(ctx context.Context, id types.ID, to Status, mutate func(*Request, time.Time)) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		r, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == to {
			return nil
		}
		now := s.now().UTC()
		err = s.transition(ctx, r, to, "system", nil, func(n *Request) {
			if mutate != nil {
				mutate(n, now)
			}
		})
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *Service) transition(ctx context.Context, r *Request, to Status, actorType string, actorID *types.ID, mutate func(*Request)) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	from := r.Status
	err := s.save(ctx, r, func(n *Request) {
		mutate(n)
		n.Status = to
	})
	if err != nil {
		return err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now().UTC(),
	})
	return nil
}

// save applies mutate to a copy and writes it with a version check. On
// success r is replaced by the stored state.
func (s *Service) save(ctx context.Context, r *Request, mutate func(*Request)) error {
	next := *r
	mutate(&next)
	ok, err := s.store.Save(ctx, &next, r.Status, r.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	next.StatusVersion = r.StatusVersion + 1
	*r = next
	return nil
}

func (s *Service) notify(ctx context.Context, n notification.Notice) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, n)
	}
}
