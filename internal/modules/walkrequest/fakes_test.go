package walkrequest

import (
	"context"
	"sort"
	"sync"
	"time"

	"wander/internal/modules/notification"
	"wander/internal/types"
)

type memRepo struct {
	mu     sync.Mutex
	rows   map[types.ID]*Request
	events []Event
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[types.ID]*Request{}}
}

func clone(r *Request) *Request {
	cp := *r
	cp.Languages = append([]string(nil), r.Languages...)
	return &cp
}

func (m *memRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.WandererID == r.WandererID && isActive(o.Status) {
			return ErrActiveRequest
		}
	}
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *memRepo) Save(_ context.Context, r *Request, from Status, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	next := clone(r)
	next.StatusVersion = version + 1
	m.rows[r.ID] = next
	return true, nil
}

func (m *memRepo) SetWalkerLocation(_ context.Context, id, walkerID types.ID, p types.Point, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.WalkerID == nil || *r.WalkerID != walkerID {
		return false, nil
	}
	if r.Status != StatusMatched && r.Status != StatusInProgress {
		return false, nil
	}
	r.WalkerLocation = &p
	r.WalkerLocationAt = &at
	return true, nil
}

func (m *memRepo) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memRepo) HasActiveByWanderer(_ context.Context, wandererID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.WandererID == wandererID && isActive(r.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) FindActive(_ context.Context, userID types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Request
	for _, r := range m.rows {
		if r.IsParticipant(userID) && !r.Status.Terminal() {
			if best == nil || r.CreatedAt.After(best.CreatedAt) {
				best = r
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return clone(best), nil
}

func (m *memRepo) History(_ context.Context, userID types.ID, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Request
	for _, r := range m.rows {
		if r.IsParticipant(userID) && r.Status.Terminal() {
			all = append(all, clone(r))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) PendingForWalker(_ context.Context, walkerID types.ID, since time.Time, limit int) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.rows {
		if r.Status == StatusPending && r.WalkerID != nil && *r.WalkerID == walkerID && !r.CreatedAt.Before(since) {
			out = append(out, clone(r))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isActive(s Status) bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, in notification.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, in)
	n.mu.Unlock()
}

func (n *recordingNotifier) sentTo(user types.ID, typ notification.Type) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, in := range n.notices {
		if in.UserID == user && in.Type == typ {
			return true
		}
	}
	return false
}

type fakeWalkers struct {
	mu          sync.Mutex
	unavailable map[types.ID]bool
	busy        map[types.ID]bool
}

func newFakeWalkers() *fakeWalkers {
	return &fakeWalkers{unavailable: map[types.ID]bool{}, busy: map[types.ID]bool{}}
}

func (f *fakeWalkers) Available(_ context.Context, id types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable[id] && !f.busy[id], nil
}

func (f *fakeWalkers) MarkBusy(_ context.Context, id types.ID) error {
	f.mu.Lock()
	f.busy[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWalkers) Release(_ context.Context, id types.ID) error {
	f.mu.Lock()
	delete(f.busy, id)
	f.mu.Unlock()
	return nil
}

type fakeAborter struct {
	aborted []types.ID
}

func (f *fakeAborter) AbortForRequest(_ context.Context, requestID types.ID, _ string) error {
	f.aborted = append(f.aborted, requestID)
	return nil
}
