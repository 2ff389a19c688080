package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wander/internal/apperr"
	"wander/internal/testutil"
	"wander/internal/types"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[types.ID]*Profile
}

func newMemRepo() *memRepo { return &memRepo{rows: map[types.ID]*Profile{}} }

func (m *memRepo) Get(_ context.Context, id types.ID) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	out := map[types.ID]*Profile{}
	for _, id := range ids {
		if p, err := m.Get(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memRepo) Upsert(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rows[p.UserID]; ok {
		cur.Name, cur.Bio, cur.Languages = p.Name, p.Bio, p.Languages
		return nil
	}
	cp := *p
	m.rows[p.UserID] = &cp
	return nil
}

func (m *memRepo) SetAvailability(_ context.Context, id types.ID, available bool, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Role != types.RoleWalker {
		return false, nil
	}
	p.IsAvailable = available
	return true, nil
}

func (m *memRepo) SetLocation(_ context.Context, id types.ID, pt types.Point, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	p.Location, p.LocationAt = &pt, &at
	return true, nil
}

func (m *memRepo) SetDeviceToken(_ context.Context, id types.ID, token string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	p.DeviceToken = token
	return true, nil
}

func (m *memRepo) SetRating(_ context.Context, id types.ID, avg float64, count int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		p.Rating, p.TotalRatings = avg, count
	}
	return nil
}

func (m *memRepo) SubmitVerification(_ context.Context, id types.ID, v Verification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Verification.Status == VerificationVerified {
		return false, nil
	}
	p.Verification = v
	return true, nil
}

type fakeGeo struct {
	positions map[types.ID]types.Point
}

func (g *fakeGeo) UpsertWalker(_ context.Context, id types.ID, p types.Point) error {
	g.positions[id] = p
	return nil
}

func (g *fakeGeo) RemoveWalker(_ context.Context, id types.ID) error {
	delete(g.positions, id)
	return nil
}

func newTestService() (*Service, *fakeGeo) {
	geo := &fakeGeo{positions: map[types.ID]types.Point{}}
	return NewService(newMemRepo(), geo, "INR", testutil.QuietLogger()), geo
}

func TestSetupValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Setup(ctx, SetupCommand{UserID: "u1", Role: "ADMIN", Name: "x"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for unknown role, got %v", err)
	}
	p, err := svc.Setup(ctx, SetupCommand{UserID: "u1", Role: types.RoleWanderer, Name: "Asha"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if p.Languages == nil || p.WalletBalance.Currency != "INR" {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestAvailabilityDrivesGeoIndex(t *testing.T) {
	svc, geo := newTestService()
	ctx := context.Background()
	if _, err := svc.Setup(ctx, SetupCommand{UserID: "k1", Role: types.RoleWalker, Name: "Ravi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	pos := types.Point{Lat: 12.97, Lng: 77.59}

	if _, err := svc.SetAvailability(ctx, "k1", true, &pos); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if _, ok := geo.positions["k1"]; !ok {
		t.Fatal("available walker with a position should be indexed")
	}
	if ok, _ := svc.Available(ctx, "k1"); !ok {
		t.Fatal("expected walker to be available")
	}

	if err := svc.MarkBusy(ctx, "k1"); err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	if _, ok := geo.positions["k1"]; ok {
		t.Fatal("busy walker must leave the index")
	}
	if err := svc.Release(ctx, "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := geo.positions["k1"]; got != pos {
		t.Fatalf("released walker should be re-indexed at last position, got %v", got)
	}

	moved := types.Point{Lat: 12.98, Lng: 77.60}
	if err := svc.UpdateLocation(ctx, "k1", moved); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if geo.positions["k1"] != moved {
		t.Fatal("location update should move the indexed position")
	}
}

func TestWandererCannotToggleAvailability(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Setup(ctx, SetupCommand{UserID: "w1", Role: types.RoleWanderer, Name: "Asha"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := svc.SetAvailability(ctx, "w1", true, nil); !errors.Is(err, ErrNotWalker) {
		t.Fatalf("expected not walker, got %v", err)
	}
	if _, err := svc.SetAvailability(ctx, "ghost", true, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitVerification(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &fakeGeo{positions: map[types.ID]types.Point{}}, "INR", testutil.QuietLogger())
	ctx := context.Background()
	if _, err := svc.Setup(ctx, SetupCommand{UserID: "k1", Role: types.RoleWalker, Name: "Ravi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	bad := []VerificationCommand{
		{UserID: "k1", DocumentType: "PAN", DocumentNumber: "ABCDE1234F"},
		{UserID: "k1", DocumentType: "LIBRARY_CARD", DocumentNumber: "1", DocumentImage: "https://img/1"},
	}
	for _, cmd := range bad {
		if _, err := svc.SubmitVerification(ctx, cmd); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("expected validation error for %+v, got %v", cmd, err)
		}
	}

	v, err := svc.SubmitVerification(ctx, VerificationCommand{
		UserID: "k1", DocumentType: " pan ", DocumentNumber: "ABCDE1234F", DocumentImage: "https://img/pan.jpg",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Status != VerificationPending || v.DocumentType != "PAN" || v.SubmittedAt == nil {
		t.Fatalf("unexpected verification %+v", v)
	}
	p, _ := svc.Get(ctx, "k1")
	if p.Verification.Status != VerificationPending {
		t.Fatalf("profile should be pending review, got %s", p.Verification.Status)
	}

	if _, err := svc.SubmitVerification(ctx, VerificationCommand{
		UserID: "ghost", DocumentType: "PAN", DocumentNumber: "X", DocumentImage: "https://img/x",
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	repo.rows["k1"].Verification.Status = VerificationVerified
	if _, err := svc.SubmitVerification(ctx, VerificationCommand{
		UserID: "k1", DocumentType: "PASSPORT", DocumentNumber: "P123", DocumentImage: "https://img/p.jpg",
	}); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}
}
