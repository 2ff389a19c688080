package session

import (
	"context"
	"sync"
	"time"

	"wander/internal/modules/location"
	"wander/internal/modules/notification"
	"wander/internal/modules/pricing"
	"wander/internal/modules/walkrequest"
	"wander/internal/types"
)

// memRepo serialises Mutate calls the way the row lock does in Postgres.
type memRepo struct {
	mu   sync.Mutex
	rows map[types.ID]*Session
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[types.ID]*Session{}}
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.Route = append([]location.Point(nil), s.Route...)
	return &cp
}

func (m *memRepo) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.RequestID == s.RequestID && o.Status == StatusActive {
			return ErrAlreadyActive
		}
	}
	m.rows[s.ID] = cloneSession(s)
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memRepo) ActiveByRequest(_ context.Context, requestID types.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.RequestID == requestID && s.Status == StatusActive {
			return cloneSession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) LatestByRequest(_ context.Context, requestID types.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Session
	for _, s := range m.rows {
		if s.RequestID != requestID || s.Status == StatusCancelled {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneSession(best), nil
}

func (m *memRepo) Mutate(_ context.Context, id types.ID, fn func(*Session) (bool, error)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cloneSession(cur)
	changed, err := fn(work)
	if err != nil {
		return nil, err
	}
	if changed {
		m.rows[id] = cloneSession(work)
	}
	return work, nil
}

type fakeRequests struct {
	mu             sync.Mutex
	rows           map[types.ID]*walkrequest.Request
	paymentPending int
	failInProgress error
}

func newFakeRequests(rs ...*walkrequest.Request) *fakeRequests {
	f := &fakeRequests{rows: map[types.ID]*walkrequest.Request{}}
	for _, r := range rs {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeRequests) Get(_ context.Context, id types.ID) (*walkrequest.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, walkrequest.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRequests) MarkInProgress(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInProgress != nil {
		return f.failInProgress
	}
	f.rows[id].Status = walkrequest.StatusInProgress
	return nil
}

func (f *fakeRequests) MarkPaymentPending(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentPending++
	f.rows[id].Status = walkrequest.StatusPaymentPending
	return nil
}

func (f *fakeRequests) status(id types.ID) walkrequest.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

type fakeWalkers struct {
	mu       sync.Mutex
	released []types.ID
}

func (f *fakeWalkers) Release(_ context.Context, id types.ID) error {
	f.mu.Lock()
	f.released = append(f.released, id)
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

func (r *recordingNotifier) last() notification.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notices[len(r.notices)-1]
}

type stubGeocoder struct {
	addr string
	err  error
}

func (g stubGeocoder) ReverseGeocode(context.Context, types.Point) (string, error) {
	return g.addr, g.err
}

type recordingFeed struct {
	mu   sync.Mutex
	sent map[types.ID]int
}

func (f *recordingFeed) Broadcast(userID, _ types.ID, _ location.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[types.ID]int{}
	}
	f.sent[userID]++
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	svc      *Service
	repo     *memRepo
	requests *fakeRequests
	walkers  *fakeWalkers
	notifier *recordingNotifier
	feed     *recordingFeed
	clock    *clock
	t0       time.Time
}

const (
	wandererID types.ID = "wanderer-1"
	walkerID   types.ID = "walker-1"
	requestID  types.ID = "req-1"
)

func newHarness(geo Geocoder) *harness {
	walker := walkerID
	h := &harness{
		repo: newMemRepo(),
		requests: newFakeRequests(&walkrequest.Request{
			ID: requestID, WandererID: wandererID, WalkerID: &walker, Status: walkrequest.StatusMatched,
		}),
		walkers:  &fakeWalkers{},
		notifier: &recordingNotifier{},
		feed:     &recordingFeed{},
		t0:       time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC),
	}
	h.clock = &clock{t: h.t0}
	fares := pricing.NewService(nil, pricing.DefaultRate(50, 0.25, "INR"))
	h.svc = NewService(h.repo, Deps{
		Requests: h.requests,
		Walkers:  h.walkers,
		Fares:    fares,
		Notifier: h.notifier,
		Geocoder: geo,
		Live:     h.feed,
	})
	h.svc.now = h.clock.now
	return h
}

func (h *harness) at(d time.Duration) time.Time {
	return h.t0.Add(d)
}

func (h *harness) start(ctx context.Context) (*Session, error) {
	return h.svc.Start(ctx, StartCommand{RequestID: requestID, WandererID: wandererID, WalkerID: walkerID, CallerID: walkerID})
}
