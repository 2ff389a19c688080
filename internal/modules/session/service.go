// README: Session service runs the tracking engine: start, location accrual, two-sided end and SOS.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/events"
	"wander/internal/modules/location"
	"wander/internal/modules/notification"
	"wander/internal/modules/pricing"
	"wander/internal/modules/walkrequest"
	"wander/internal/observability"
	"wander/internal/types"
)

var (
	ErrNotFound       = apperr.New(apperr.KindNotFound, "walk session not found")
	ErrForbidden      = apperr.New(apperr.KindForbidden, "not a participant of this walk session")
	ErrInvalidState   = apperr.New(apperr.KindInvalidState, "invalid walk session state")
	ErrBadRequest     = apperr.New(apperr.KindValidation, "bad request")
	ErrStaleLocation  = apperr.New(apperr.KindStaleData, "location sample is older than the last recorded point")
	ErrNoPartnerFix   = apperr.New(apperr.KindNotFound, "partner location not available yet")
	ErrAlreadyActive  = apperr.New(apperr.KindConflict, "request already has an active session")
	ErrNotEndedYet    = apperr.New(apperr.KindInvalidState, "walk has not ended yet")
	errMissingRequest = errors.New("session: request lookup unavailable")
)

type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id types.ID) (*Session, error)
	ActiveByRequest(ctx context.Context, requestID types.ID) (*Session, error)
	LatestByRequest(ctx context.Context, requestID types.ID) (*Session, error)
	Mutate(ctx context.Context, id types.ID, fn func(*Session) (bool, error)) (*Session, error)
}

type Requests interface {
	Get(ctx context.Context, id types.ID) (*walkrequest.Request, error)
	MarkInProgress(ctx context.Context, id types.ID) error
	MarkPaymentPending(ctx context.Context, id types.ID) error
}

type Walkers interface {
	Release(ctx context.Context, walkerID types.ID) error
}

type Fares interface {
	Quote(durationMinutes int) pricing.Quote
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notice)
}

// Geocoder turns SOS coordinates into a readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

// LiveFeed mirrors committed samples to the partner's open live channel.
type LiveFeed interface {
	Broadcast(userID, sessionID types.ID, p location.Point)
}

type Deps struct {
	Requests Requests
	Walkers  Walkers
	Fares    Fares
	Notifier Notifier
	Geocoder Geocoder
	Live     LiveFeed
	Events   events.Publisher
	Log      logrus.FieldLogger
}

type Service struct {
	store    Repository
	requests Requests
	walkers  Walkers
	fares    Fares
	notifier Notifier
	geocoder Geocoder
	live     LiveFeed
	events   events.Publisher
	log      logrus.FieldLogger
	now      func() time.Time
}

const geocodeTimeout = 3 * time.Second

func NewService(store Repository, deps Deps) *Service {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		requests: deps.Requests,
		walkers:  deps.Walkers,
		fares:    deps.Fares,
		notifier: deps.Notifier,
		geocoder: deps.Geocoder,
		live:     deps.Live,
		events:   deps.Events,
		log:      deps.Log,
		now:      time.Now,
	}
}

// SetLive attaches the live channel hub once the transport is built.
func (s *Service) SetLive(l LiveFeed) {
	s.live = l
}

type StartCommand struct {
	RequestID  types.ID
	WandererID types.ID
	WalkerID   types.ID
	CallerID   types.ID
	Initial    *location.Sample
}

type EndCommand struct {
	SessionID types.ID
	CallerID  types.ID
	Location  *location.Sample
}

type SOSCommand struct {
	SessionID types.ID
	CallerID  types.ID
	Location  *types.Point
	Reason    string
}

// Start opens the session of a matched request. An existing ACTIVE session
// is returned as is, so concurrent or repeated starts converge on one session.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Session, error) {
	if s.requests == nil {
		return nil, errMissingRequest
	}
	if cmd.RequestID == "" || cmd.WandererID == "" || cmd.WalkerID == "" {
		return nil, apperr.New(apperr.KindValidation, "requestId, wandererId and walkerId are required")
	}
	if cmd.CallerID != "" && cmd.CallerID != cmd.WandererID && cmd.CallerID != cmd.WalkerID {
		return nil, ErrForbidden
	}
	r, err := s.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.WandererID != cmd.WandererID || r.WalkerID == nil || *r.WalkerID != cmd.WalkerID {
		return nil, apperr.New(apperr.KindValidation, "participants do not match the walk request")
	}
	if r.Status != walkrequest.StatusMatched && r.Status != walkrequest.StatusInProgress {
		return nil, ErrInvalidState
	}
	if existing, err := s.store.ActiveByRequest(ctx, r.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	ses := &Session{
		ID:         types.NewID(),
		RequestID:  r.ID,
		WandererID: r.WandererID,
		WalkerID:   *r.WalkerID,
		Status:     StatusActive,
		StartTime:  now,
		Route:      []location.Point{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cmd.Initial != nil {
		// An incomplete first sample is dropped rather than failing the start.
		if p, err := cmd.Initial.Normalize(); err == nil {
			ses.Route = append(ses.Route, p)
		}
	}
	if err := s.store.Create(ctx, ses); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return s.store.ActiveByRequest(ctx, r.ID)
		}
		return nil, err
	}

	if err := s.requests.MarkInProgress(ctx, r.ID); err != nil {
		// The request moved on (for example it was cancelled) between the
		// check and the insert; do not leave an orphaned live session behind.
		if _, abortErr := s.Abort(ctx, ses.ID, "request no longer startable"); abortErr != nil {
			s.log.WithError(abortErr).WithField("session_id", ses.ID).Error("abort orphaned session failed")
		}
		return nil, err
	}

	s.notify(ctx, notification.WalkStarted(ses.WandererID, ses.ID))
	s.notify(ctx, notification.WalkStarted(ses.WalkerID, ses.ID))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.WalkStarted, RequestID: ses.RequestID, SessionID: ses.ID, ActorID: cmd.CallerID, At: now,
	})
	s.log.WithFields(logrus.Fields{"session_id": ses.ID, "request_id": ses.RequestID}).Info("walk session started")
	return ses, nil
}

// UpdateLocation appends a sample from a participant. Samples that are not
// strictly newer than the last route point are rejected without mutation.
func (s *Service) UpdateLocation(ctx context.Context, sessionID, caller types.ID, sample location.Sample) (*Session, error) {
	p, err := sample.Normalize()
	if err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		return nil, err
	}
	ses, err := s.store.Mutate(ctx, sessionID, func(ses *Session) (bool, error) {
		if !ses.IsParticipant(caller) {
			return false, ErrForbidden
		}
		if ses.Status != StatusActive {
			return false, ErrInvalidState
		}
		if last := ses.LastPoint(); last != nil && !p.Timestamp.After(last.Timestamp) {
			return false, ErrStaleLocation
		}
		now := s.now().UTC()
		ses.appendPoint(p)
		ses.accrueDuration(now)
		ses.setLastLocation(caller, p)
		ses.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleLocation):
			observability.LocationUpdates.WithLabelValues("stale").Inc()
		default:
			observability.LocationUpdates.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	observability.LocationUpdates.WithLabelValues("accepted").Inc()
	if s.live != nil {
		s.live.Broadcast(ses.Counterpart(caller), ses.ID, p)
	}
	return ses, nil
}

// End records the caller's end request. The session finalises exactly once,
// when the second participant asks to end.
func (s *Service) End(ctx context.Context, cmd EndCommand) (*EndResult, error) {
	var (
		finalized   bool
		newlyMarked bool
	)
	ses, err := s.store.Mutate(ctx, cmd.SessionID, func(ses *Session) (bool, error) {
		finalized, newlyMarked = false, false
		if !ses.IsParticipant(cmd.CallerID) {
			return false, ErrForbidden
		}
		if ses.Status == StatusPaymentPending {
			return false, nil
		}
		if ses.Status != StatusActive {
			return false, ErrInvalidState
		}
		now := s.now().UTC()
		if !ses.EndRequestedBy(cmd.CallerID) {
			ses.markEnd(cmd.CallerID, now)
			newlyMarked = true
		}
		var final *location.Point
		if cmd.Location != nil {
			if p, err := cmd.Location.Normalize(); err == nil {
				final = &p
				ses.setLastLocation(cmd.CallerID, p)
			}
		}
		if !ses.WandererEndRequested || !ses.WalkerEndRequested {
			if newlyMarked || final != nil {
				ses.UpdatedAt = now
				return true, nil
			}
			return false, nil
		}

		if final != nil {
			ses.appendPoint(*final)
		}
		ses.EndTime = &now
		ses.accrueDuration(now)
		fare := s.fares.Quote(ses.DurationMinutes)
		ses.Fare = &fare
		ses.Status = StatusPaymentPending
		ses.UpdatedAt = now
		finalized = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	res := &EndResult{Session: ses, Finalized: ses.Status != StatusActive}
	if ses.Status == StatusActive {
		res.WaitingFor = ses.Counterpart(cmd.CallerID)
	}
	log := s.log.WithFields(logrus.Fields{"session_id": ses.ID, "request_id": ses.RequestID, "user_id": cmd.CallerID})
	switch {
	case finalized:
		s.afterFinalize(ctx, ses, cmd.CallerID, log)
	case newlyMarked:
		s.notify(ctx, notification.PartnerEndRequested(ses.Counterpart(cmd.CallerID), ses.ID))
		log.Info("end requested, waiting for partner")
	}
	return res, nil
}

func (s *Service) afterFinalize(ctx context.Context, ses *Session, caller types.ID, log logrus.FieldLogger) {
	observability.SessionsFinalized.Inc()
	if s.requests != nil {
		if err := s.requests.MarkPaymentPending(ctx, ses.RequestID); err != nil {
			log.WithError(err).Error("advance request to payment pending failed")
		}
	}
	if s.walkers != nil {
		if err := s.walkers.Release(ctx, ses.WalkerID); err != nil {
			log.WithError(err).Warn("release walker failed")
		}
	}
	var total types.Money
	if ses.Fare != nil {
		total = ses.Fare.Total
	}
	s.notify(ctx, notification.PaymentPending(ses.WandererID, ses.ID, total))
	s.notify(ctx, notification.PaymentPending(ses.WalkerID, ses.ID, total))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:      events.WalkFinalized,
		RequestID: ses.RequestID,
		SessionID: ses.ID,
		ActorID:   caller,
		At:        s.now().UTC(),
		Data: map[string]any{
			"durationMinutes": ses.DurationMinutes,
			"totalDistanceKm": ses.TotalDistanceKm,
			"totalAmount":     total.Amount,
		},
	})
	log.WithFields(logrus.Fields{"duration": ses.DurationMinutes, "distance_km": ses.TotalDistanceKm}).Info("walk session finalized")
}

// TriggerSOS records an emergency and alerts the partner. It works in any status.
func (s *Service) TriggerSOS(ctx context.Context, cmd SOSCommand) (*Session, error) {
	if cmd.Location != nil && !cmd.Location.Valid() {
		return nil, location.ErrOutOfBounds
	}
	ses, err := s.store.Mutate(ctx, cmd.SessionID, func(ses *Session) (bool, error) {
		if !ses.IsParticipant(cmd.CallerID) {
			return false, ErrForbidden
		}
		now := s.now().UTC()
		where := cmd.Location
		if where == nil {
			if last := ses.lastLocationOf(cmd.CallerID); last != nil {
				p := last.Point
				where = &p
			}
		}
		caller := cmd.CallerID
		ses.SOSTriggered = true
		ses.SOSAt = &now
		ses.SOSLocation = where
		ses.SOSReason = cmd.Reason
		ses.SOSBy = &caller
		ses.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	partner := ses.Counterpart(cmd.CallerID)
	s.notify(ctx, notification.SOSAlert(partner, ses.ID, s.describe(ctx, ses.SOSLocation)))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.WalkSOS, RequestID: ses.RequestID, SessionID: ses.ID, ActorID: cmd.CallerID, At: s.now().UTC(),
		Data: map[string]any{"reason": cmd.Reason},
	})
	s.log.WithFields(logrus.Fields{"session_id": ses.ID, "user_id": cmd.CallerID}).Warn("sos triggered")
	return ses, nil
}

func (s *Service) describe(ctx context.Context, p *types.Point) string {
	if p == nil {
		return "location unknown"
	}
	coords := fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng)
	if s.geocoder == nil {
		return coords
	}
	gctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()
	addr, err := s.geocoder.ReverseGeocode(gctx, *p)
	if err != nil || addr == "" {
		if err != nil {
			s.log.WithError(err).Warn("reverse geocode failed")
		}
		return coords
	}
	return addr
}

// PaymentSummary quotes the fare for an ended walk.
func (s *Service) PaymentSummary(ctx context.Context, sessionID, caller types.ID) (*PaymentSummary, error) {
	ses, err := s.Get(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if ses.Status != StatusPaymentPending && ses.Status != StatusCompleted {
		return nil, ErrNotEndedYet
	}
	return &PaymentSummary{
		SessionID:       ses.ID,
		Status:          ses.Status,
		DurationMinutes: ses.DurationMinutes,
		TotalDistanceKm: ses.TotalDistanceKm,
		Fare:            s.fares.Quote(ses.DurationMinutes),
		WandererID:      ses.WandererID,
		WalkerID:        ses.WalkerID,
	}, nil
}

// Get returns a session to one of its participants.
func (s *Service) Get(ctx context.Context, id, caller types.ID) (*Session, error) {
	ses, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ses.IsParticipant(caller) {
		return nil, ErrForbidden
	}
	return ses, nil
}

// Load returns a session without a participant check, for internal callers.
func (s *Service) Load(ctx context.Context, id types.ID) (*Session, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByRequest(ctx context.Context, requestID, caller types.ID) (*Session, error) {
	ses, err := s.store.LatestByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !ses.IsParticipant(caller) {
		return nil, ErrForbidden
	}
	return ses, nil
}

func (s *Service) PartnerLocation(ctx context.Context, sessionID, caller types.ID) (*PartnerLocation, error) {
	ses, err := s.Get(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	return partnerLocation(ses, caller)
}

func (s *Service) PartnerLocationByRequest(ctx context.Context, requestID, caller types.ID) (*PartnerLocation, error) {
	ses, err := s.GetByRequest(ctx, requestID, caller)
	if err != nil {
		return nil, err
	}
	return partnerLocation(ses, caller)
}

func partnerLocation(ses *Session, caller types.ID) (*PartnerLocation, error) {
	partner := ses.Counterpart(caller)
	loc := ses.lastLocationOf(partner)
	if loc == nil {
		return nil, ErrNoPartnerFix
	}
	return &PartnerLocation{PartnerID: partner, Location: loc}, nil
}

// Abort force-cancels a live or unpaid session regardless of end flags.
// Terminal sessions are returned unchanged.
func (s *Service) Abort(ctx context.Context, sessionID types.ID, reason string) (*Session, error) {
	return s.store.Mutate(ctx, sessionID, func(ses *Session) (bool, error) {
		if !CanTransition(ses.Status, StatusCancelled) {
			return false, nil
		}
		now := s.now().UTC()
		ses.Status = StatusCancelled
		ses.CancelReason = reason
		if ses.EndTime == nil {
			ses.EndTime = &now
		}
		ses.UpdatedAt = now
		return true, nil
	})
}

// AbortForRequest cancels the current session of a request, if any.
func (s *Service) AbortForRequest(ctx context.Context, requestID types.ID, reason string) error {
	ses, err := s.store.LatestByRequest(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Abort(ctx, ses.ID, reason)
	return err
}

// MarkCompleted closes a paid session. It is a no-op on completed sessions.
func (s *Service) MarkCompleted(ctx context.Context, sessionID types.ID, at time.Time) error {
	_, err := s.store.Mutate(ctx, sessionID, func(ses *Session) (bool, error) {
		if ses.Status == StatusCompleted {
			return false, nil
		}
		if !CanTransition(ses.Status, StatusCompleted) {
			return false, ErrInvalidState
		}
		ses.Status = StatusCompleted
		if ses.EndTime == nil {
			ses.EndTime = &at
		}
		ses.UpdatedAt = at
		return true, nil
	})
	return err
}

func (s *Service) notify(ctx context.Context, n notification.Notice) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, n)
	}
}

func elapsedMinutes(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(math.Round(now.Sub(start).Minutes()))
}
