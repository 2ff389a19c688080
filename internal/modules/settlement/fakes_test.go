package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"wander/internal/modules/notification"
	"wander/internal/modules/pricing"
	"wander/internal/modules/session"
	"wander/internal/types"
)

// memRepo keeps payments, top-ups and wallet credits under one lock, which
// mirrors the single transaction used by the Postgres store.
type memRepo struct {
	mu       sync.Mutex
	payments map[types.ID]*Payment
	topups   map[string]*TopUp
	wallets  map[types.ID]int64
	earnings map[types.ID]int64
	walks    map[types.ID]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments: map[types.ID]*Payment{},
		topups:   map[string]*TopUp{},
		wallets:  map[types.ID]int64{},
		earnings: map[types.ID]int64{},
		walks:    map[types.ID]int{},
	}
}

func (m *memRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.payments {
		if o.SessionID == p.SessionID && (o.Status == StatusPending || o.Status == StatusSuccess) {
			return ErrOrderExists
		}
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetByOrderRef(_ context.Context, ref string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) OpenBySession(_ context.Context, sessionID types.ID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.SessionID == sessionID && (p.Status == StatusPending || p.Status == StatusSuccess) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) Complete(_ context.Context, c Completion) (*Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[c.PaymentID]
	if !ok || p.Status != StatusPending {
		return nil, false, nil
	}
	at := c.At
	p.Status, p.PaymentRef, p.Signature, p.CompletedAt = StatusSuccess, c.PaymentRef, c.Signature, &at
	m.wallets[p.WalkerID] += p.Earnings.Amount
	m.earnings[p.WalkerID] += p.Earnings.Amount
	m.walks[p.WalkerID]++
	cp := *p
	return &cp, true, nil
}

func (m *memRepo) MarkFailed(_ context.Context, ref, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderRef == ref && p.Status == StatusPending {
			p.Status, p.FailureReason = StatusFailed, reason
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) Successful(_ context.Context, userID types.ID, limit, offset int) ([]*Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Payment
	for _, p := range m.payments {
		if p.Status == StatusSuccess && (p.WandererID == userID || p.WalkerID == userID) {
			cp := *p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CompletedAt.After(*all[j].CompletedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) CreateTopUp(_ context.Context, t *TopUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.topups[t.OrderRef] = &cp
	return nil
}

func (m *memRepo) GetTopUp(_ context.Context, ref string) (*TopUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topups[ref]
	if !ok {
		return nil, ErrTopUpNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) CompleteTopUp(_ context.Context, ref, paymentRef string, at time.Time) (*TopUp, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topups[ref]
	if !ok || t.Status != StatusPending {
		return nil, false, nil
	}
	t.Status, t.PaymentRef, t.CompletedAt = StatusSuccess, paymentRef, &at
	m.wallets[t.UserID] += t.Amount.Amount
	cp := *t
	return &cp, true, nil
}

func (m *memRepo) wallet(id types.ID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[id]
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []OrderRequest
	fail     error
	seq      int
}

func (g *fakeGateway) CreateOrder(_ context.Context, req OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return "", g.fail
	}
	g.requests = append(g.requests, req)
	g.seq++
	return "order_" + string(rune('A'+g.seq-1)), nil
}

func (g *fakeGateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	return signature == sign(orderRef, paymentRef)
}

func sign(orderRef, paymentRef string) string {
	return "sig:" + orderRef + "|" + paymentRef
}

type fakeSessions struct {
	mu        sync.Mutex
	rows      map[types.ID]*session.Session
	completed int
}

func (f *fakeSessions) Load(_ context.Context, id types.ID) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) MarkCompleted(_ context.Context, id types.ID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return session.ErrNotFound
	}
	if s.Status == session.StatusCompleted {
		return nil
	}
	if s.Status != session.StatusPaymentPending {
		return errors.New("session not payable")
	}
	s.Status = session.StatusCompleted
	f.completed++
	return nil
}

type fakeRequests struct {
	mu        sync.Mutex
	completed []types.ID
}

func (f *fakeRequests) MarkCompleted(_ context.Context, id types.ID) error {
	f.mu.Lock()
	f.completed = append(f.completed, id)
	f.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n notification.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) count(t notification.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Type == t {
			n++
		}
	}
	return n
}

const (
	wandererID types.ID = "wanderer-1"
	walkerID   types.ID = "walker-1"
	sessionID  types.ID = "ses-1"
)

type harness struct {
	svc      *Service
	repo     *memRepo
	gateway  *fakeGateway
	sessions *fakeSessions
	requests *fakeRequests
	notifier *recordingNotifier
}

func newHarness(status session.Status, fare *pricing.Quote) *harness {
	h := &harness{
		repo:    newMemRepo(),
		gateway: &fakeGateway{},
		sessions: &fakeSessions{rows: map[types.ID]*session.Session{
			sessionID: {
				ID: sessionID, RequestID: "req-1", WandererID: wandererID, WalkerID: walkerID,
				Status: status, DurationMinutes: 3, Fare: fare,
			},
		}},
		requests: &fakeRequests{},
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(h.repo, Options{KeyID: "rzp_test_key", Currency: "INR", Timeout: time.Second}, Deps{
		Gateway:  h.gateway,
		Sessions: h.sessions,
		Requests: h.requests,
		Fares:    pricing.NewService(nil, pricing.DefaultRate(50, 0.25, "INR")),
		Notifier: h.notifier,
	})
	return h
}
