// README: Settlement service opens gateway orders for ended walks, verifies payments and books earnings.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/events"
	"wander/internal/modules/notification"
	"wander/internal/modules/pricing"
	"wander/internal/modules/session"
	"wander/internal/observability"
	"wander/internal/types"
)

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "payment not found")
	ErrTopUpNotFound   = apperr.New(apperr.KindNotFound, "wallet order not found")
	ErrForbidden       = apperr.New(apperr.KindForbidden, "not a party to this payment")
	ErrNotPayable      = apperr.New(apperr.KindInvalidState, "walk session is not awaiting payment")
	ErrInvalidState    = apperr.New(apperr.KindInvalidState, "payment is not pending")
	ErrAlreadyPaid     = apperr.New(apperr.KindConflict, "walk session is already paid")
	ErrOrderExists     = apperr.New(apperr.KindConflict, "walk session already has an open payment")
	ErrBadSignature    = apperr.New(apperr.KindSignature, "payment signature verification failed")
	ErrBadAmount       = apperr.New(apperr.KindValidation, "amount must be between 1 and 10000")
	ErrBadRequest      = apperr.New(apperr.KindValidation, "bad request")
	errGatewayDisabled = errors.New("payment gateway is not configured")
)

// Gateway is the external payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	VerifySignature(orderRef, paymentRef, signature string) bool
}

// Completion describes a verified gateway payment.
type Completion struct {
	PaymentID  types.ID
	PaymentRef string
	Signature  string
	At         time.Time
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id types.ID) (*Payment, error)
	GetByOrderRef(ctx context.Context, orderRef string) (*Payment, error)
	OpenBySession(ctx context.Context, sessionID types.ID) (*Payment, error)
	Complete(ctx context.Context, c Completion) (*Payment, bool, error)
	MarkFailed(ctx context.Context, orderRef, reason string) (bool, error)
	Successful(ctx context.Context, userID types.ID, limit, offset int) ([]*Payment, int, error)
	CreateTopUp(ctx context.Context, t *TopUp) error
	GetTopUp(ctx context.Context, orderRef string) (*TopUp, error)
	CompleteTopUp(ctx context.Context, orderRef, paymentRef string, at time.Time) (*TopUp, bool, error)
}

type Sessions interface {
	Load(ctx context.Context, id types.ID) (*session.Session, error)
	MarkCompleted(ctx context.Context, id types.ID, at time.Time) error
}

type Requests interface {
	MarkCompleted(ctx context.Context, id types.ID) error
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

type Options struct {
	KeyID    string
	Currency string
	Timeout  time.Duration
}

type Deps struct {
	Gateway  Gateway
	Sessions Sessions
	Requests Requests
	Walkers  Walkers
	Fares    Fares
	Notifier Notifier
	Events   events.Publisher
	Log      logrus.FieldLogger
}

type Service struct {
	store    Repository
	gateway  Gateway
	sessions Sessions
	requests Requests
	walkers  Walkers
	fares    Fares
	notifier Notifier
	events   events.Publisher
	log      logrus.FieldLogger
	opts     Options
	now      func() time.Time
}

var (
	minTopUp = decimal.NewFromInt(1)
	maxTopUp = decimal.NewFromInt(10000)
)

func NewService(store Repository, opts Options, deps Deps) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		gateway:  deps.Gateway,
		sessions: deps.Sessions,
		requests: deps.Requests,
		walkers:  deps.Walkers,
		fares:    deps.Fares,
		notifier: deps.Notifier,
		events:   deps.Events,
		log:      deps.Log,
		opts:     opts,
		now:      time.Now,
	}
}

type VerifyCommand struct {
	OrderRef   string
	PaymentRef string
	Signature  string
	CallerID   types.ID
}

// CreateOrder opens a gateway order for an ended walk. An open order for the
// session is returned instead of creating a second one.
func (s *Service) CreateOrder(ctx context.Context, sessionID, caller types.ID) (*OrderResult, error) {
	ses, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ses.WandererID != caller {
		return nil, ErrForbidden
	}
	if existing, err := s.store.OpenBySession(ctx, ses.ID); err == nil {
		if existing.Status == StatusSuccess {
			return nil, ErrAlreadyPaid
		}
		return &OrderResult{Payment: existing, KeyID: s.opts.KeyID, Existing: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if ses.Status != session.StatusPaymentPending {
		return nil, ErrNotPayable
	}

	fare := s.fareFor(ses)
	log := s.log.WithFields(logrus.Fields{"session_id": ses.ID, "user_id": caller})
	orderRef, err := s.createGatewayOrder(ctx, OrderRequest{
		AmountMinor: fare.Total.Amount,
		Currency:    fare.Total.Currency,
		Receipt:     Receipt("WLK_", ses.ID),
		Notes: map[string]string{
			"walk_session_id": string(ses.ID),
			"wanderer_id":     string(ses.WandererID),
			"walker_id":       string(ses.WalkerID),
		},
	})
	if err != nil {
		log.WithError(err).Warn("gateway order creation failed")
		return nil, err
	}

	p := &Payment{
		ID:            types.NewID(),
		SessionID:     ses.ID,
		WandererID:    ses.WandererID,
		WalkerID:      ses.WalkerID,
		Total:         fare.Total,
		Commission:    fare.Commission,
		Earnings:      fare.Earnings,
		PaymentMethod: "UPI",
		OrderRef:      orderRef,
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrOrderExists) {
			winner, rerr := s.store.OpenBySession(ctx, ses.ID)
			if rerr != nil {
				return nil, rerr
			}
			return &OrderResult{Payment: winner, KeyID: s.opts.KeyID, Existing: true}, nil
		}
		return nil, err
	}
	observability.Settlements.WithLabelValues(string(StatusPending)).Inc()
	log.WithField("order_id", orderRef).Info("payment order created")
	return &OrderResult{Payment: p, KeyID: s.opts.KeyID}, nil
}

func (s *Service) fareFor(ses *session.Session) pricing.Quote {
	if ses.Fare != nil {
		return *ses.Fare
	}
	return s.fares.Quote(ses.DurationMinutes)
}

func (s *Service) createGatewayOrder(ctx context.Context, req OrderRequest) (string, error) {
	if s.gateway == nil {
		return "", apperr.Upstream("create payment order", errGatewayDisabled)
	}
	gctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	ref, err := s.gateway.CreateOrder(gctx, req)
	if err != nil {
		return "", apperr.Upstream("create payment order", err)
	}
	if ref == "" {
		return "", apperr.Upstream("create payment order", errors.New("gateway returned an empty order id"))
	}
	return ref, nil
}

func (s *Service) checkSignature(orderRef, paymentRef, signature string) error {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return apperr.New(apperr.KindValidation, "order id, payment id and signature are required")
	}
	if s.gateway == nil {
		return apperr.Upstream("verify payment", errGatewayDisabled)
	}
	if !s.gateway.VerifySignature(orderRef, paymentRef, signature) {
		return ErrBadSignature
	}
	return nil
}

// Verify completes a paid order. Repeating it for a settled order returns the
// settled payment without touching balances again.
func (s *Service) Verify(ctx context.Context, cmd VerifyCommand) (*Payment, error) {
	if err := s.checkSignature(cmd.OrderRef, cmd.PaymentRef, cmd.Signature); err != nil {
		observability.Settlements.WithLabelValues("rejected").Inc()
		return nil, err
	}
	p, err := s.store.GetByOrderRef(ctx, cmd.OrderRef)
	if err != nil {
		return nil, err
	}
	if cmd.CallerID != "" && !p.IsParty(cmd.CallerID) {
		return nil, ErrForbidden
	}
	switch p.Status {
	case StatusSuccess:
		return p, nil
	case StatusPending:
	default:
		return nil, ErrInvalidState
	}

	now := s.now().UTC()
	done, applied, err := s.store.Complete(ctx, Completion{
		PaymentID: p.ID, PaymentRef: cmd.PaymentRef, Signature: cmd.Signature, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		cur, err := s.store.Get(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if cur.Status == StatusSuccess {
			return cur, nil
		}
		return nil, ErrInvalidState
	}

	s.afterSettled(ctx, done, now)
	return done, nil
}

// afterSettled converges the session and request (already completed by the
// store transaction in Postgres) and sends the post-payment notices.
func (s *Service) afterSettled(ctx context.Context, p *Payment, at time.Time) {
	log := s.log.WithFields(logrus.Fields{"session_id": p.SessionID, "order_id": p.OrderRef})
	observability.Settlements.WithLabelValues(string(StatusSuccess)).Inc()

	var requestID types.ID
	if ses, err := s.sessions.Load(ctx, p.SessionID); err == nil {
		requestID = ses.RequestID
	}
	if err := s.sessions.MarkCompleted(ctx, p.SessionID, at); err != nil {
		log.WithError(err).Error("complete session after payment failed")
	}
	if s.requests != nil && requestID != "" {
		if err := s.requests.MarkCompleted(ctx, requestID); err != nil {
			log.WithError(err).Error("complete request after payment failed")
		}
	}
	if s.walkers != nil {
		if err := s.walkers.Release(ctx, p.WalkerID); err != nil {
			log.WithError(err).Warn("release walker failed")
		}
	}

	s.notify(ctx, notification.PaymentSuccess(p.WandererID, p.ID, p.Total))
	s.notify(ctx, notification.EarningAdded(p.WalkerID, p.ID, p.Earnings))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:      events.WalkCompleted,
		RequestID: requestID,
		SessionID: p.SessionID,
		ActorID:   p.WandererID,
		At:        at,
		Data:      map[string]any{"paymentId": string(p.ID), "totalAmount": p.Total.Amount},
	})
	log.WithField("amount", p.Total.Amount).Info("payment settled")
}

// MarkFailed records a failed gateway payment for a pending order.
func (s *Service) MarkFailed(ctx context.Context, orderRef, reason string, caller types.ID) (*Payment, error) {
	p, err := s.store.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if caller != "" && p.WandererID != caller {
		return nil, ErrForbidden
	}
	if p.Status == StatusFailed {
		return p, nil
	}
	if reason == "" {
		reason = "payment failed"
	}
	ok, err := s.store.MarkFailed(ctx, orderRef, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	observability.Settlements.WithLabelValues(string(StatusFailed)).Inc()
	s.notify(ctx, notification.PaymentFailed(p.WandererID, p.ID, reason))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id, caller types.ID) (*Payment, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsParty(caller) {
		return nil, ErrForbidden
	}
	return p, nil
}

// Transactions lists settled payments from the user's point of view.
func (s *Service) Transactions(ctx context.Context, userID types.ID, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, total, err := s.store.Successful(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	out := &TransactionPage{Items: make([]Transaction, 0, len(rows)), Page: page, Limit: limit, Total: total}
	for _, p := range rows {
		tx := Transaction{
			ID:          p.ID,
			UserID:      userID,
			Timestamp:   p.CompletedAt,
			ReferenceID: p.ID,
			Status:      p.Status,
		}
		if p.WandererID == userID {
			tx.Type, tx.Amount, tx.Description = TransactionPayment, p.Total, "Payment for walk session"
		} else {
			tx.Type, tx.Amount, tx.Description = TransactionEarning, p.Earnings, "Earnings from walk session"
		}
		out.Items = append(out.Items, tx)
	}
	return out, nil
}

// CreateWalletOrder opens a gateway order to add money to the user's wallet.
func (s *Service) CreateWalletOrder(ctx context.Context, userID types.ID, amount decimal.Decimal) (*TopUp, string, error) {
	if amount.LessThan(minTopUp) || amount.GreaterThan(maxTopUp) {
		return nil, "", ErrBadAmount
	}
	money := types.MoneyFromDecimal(amount, s.opts.Currency)
	now := s.now().UTC()
	orderRef, err := s.createGatewayOrder(ctx, OrderRequest{
		AmountMinor: money.Amount,
		Currency:    money.Currency,
		Receipt:     Receipt("WAL_", types.ID(fmt.Sprintf("%s_%d", userID, now.Unix()))),
		Notes:       map[string]string{"user_id": string(userID), "purpose": "wallet_topup"},
	})
	if err != nil {
		return nil, "", err
	}
	t := &TopUp{OrderRef: orderRef, UserID: userID, Amount: money, Status: StatusPending, CreatedAt: now}
	if err := s.store.CreateTopUp(ctx, t); err != nil {
		return nil, "", err
	}
	return t, s.opts.KeyID, nil
}

// VerifyWalletPayment credits the wallet once per paid order.
func (s *Service) VerifyWalletPayment(ctx context.Context, userID types.ID, orderRef, paymentRef, signature string) (*TopUp, error) {
	if err := s.checkSignature(orderRef, paymentRef, signature); err != nil {
		return nil, err
	}
	t, err := s.store.GetTopUp(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	if t.Status == StatusSuccess {
		return t, nil
	}
	done, applied, err := s.store.CompleteTopUp(ctx, orderRef, paymentRef, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		cur, err := s.store.GetTopUp(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if cur.Status == StatusSuccess {
			return cur, nil
		}
		return nil, ErrInvalidState
	}
	s.notify(ctx, notification.WalletCredit(userID, orderRef, done.Amount))
	s.log.WithFields(logrus.Fields{"user_id": userID, "order_id": orderRef}).Info("wallet credited")
	return done, nil
}

func (s *Service) notify(ctx context.Context, n notification.Notice) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, n)
	}
}
