package walkrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wander/internal/testutil"
	"wander/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.Postgres(t, "walk_request_events", "walk_requests")
	return NewStore(db)
}

func TestStoreActiveRequestUniqueness(t *testing.T) {
	ctx := context.Background()
	svc := NewService(setupTestStore(t), Options{}, Deps{Log: testutil.QuietLogger()})

	if _, err := svc.Create(ctx, validCreate("db-wanderer")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, validCreate("db-wanderer")); !errors.Is(err, ErrActiveRequest) {
		t.Fatalf("expected active request conflict, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := NewService(store, Options{}, Deps{Log: testutil.QuietLogger()})

	cmd := validCreate("db-roundtrip")
	when := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	cmd.ScheduledFor = &when
	r, err := svc.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r, err = svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WalkerID: "db-walker"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.UpdateWalkerLocation(ctx, r.ID, "db-walker", types.Point{Lat: 12.97, Lng: 77.59}); err != nil {
		t.Fatalf("walker location: %v", err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMatched || got.StatusVersion != 1 || got.OTP != r.OTP {
		t.Fatalf("unexpected stored request: %+v", got)
	}
	if len(got.Languages) != 2 || got.ScheduledFor == nil || !got.ScheduledFor.Equal(when) {
		t.Fatalf("fields not persisted: %+v", got)
	}
	if got.WalkerLocation == nil || got.WalkerLocation.Lat != 12.97 {
		t.Fatalf("walker location not persisted: %+v", got.WalkerLocation)
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc := NewService(setupTestStore(t), Options{}, Deps{Log: testutil.QuietLogger()})

	r, err := svc.Create(ctx, validCreate("db-race"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WalkerID: "k1"})
		errs <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "db-race", Reason: "changed my mind"})
		errs <- err
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 {
		t.Fatalf("expected at least one success, got %d", success)
	}

	got, err := svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if success == 2 && got.Status != StatusCancelled {
		t.Fatalf("expected cancelled after accept+cancel, got %s", got.Status)
	}
	if success == 1 && got.Status != StatusMatched && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}
