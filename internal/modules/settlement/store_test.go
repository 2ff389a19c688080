package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wander/internal/modules/pricing"
	"wander/internal/modules/session"
	"wander/internal/testutil"
	"wander/internal/types"
)

func setupTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	db := testutil.Postgres(t,
		"payments", "walk_sessions", "walk_request_events", "walk_requests", "profiles",
	)
	return NewStore(db), db
}

// seedPayable inserts a walker profile, a request and a session in the given
// status, plus a PENDING payment for that session.
func seedPayable(t *testing.T, db *pgxpool.Pool, store *Store, sessionStatus string) *Payment {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := db.Exec(ctx, `
		INSERT INTO profiles (user_id, name, role) VALUES ($1, 'Walker', 'WALKER')`,
		string(walkerID),
	); err != nil {
		t.Fatalf("seed walker: %v", err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO walk_requests (id, wanderer_id, walker_id, status, pickup_lat, pickup_lng, duration_minutes)
		VALUES ('req-1', $1, $2, 'PAYMENT_PENDING', 12.9716, 77.5946, 30)`,
		string(wandererID), string(walkerID),
	); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO walk_sessions (id, request_id, wanderer_id, walker_id, status, start_time)
		VALUES ($1, 'req-1', $2, $3, $4, $5)`,
		string(sessionID), string(wandererID), string(walkerID), sessionStatus, now.Add(-30*time.Minute),
	); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	p := &Payment{
		ID:         types.NewID(),
		SessionID:  sessionID,
		WandererID: wandererID,
		WalkerID:   walkerID,
		Total:      types.Money{Amount: 5000, Currency: "INR"},
		Commission: types.Money{Amount: 1250, Currency: "INR"},
		Earnings:   types.Money{Amount: 3750, Currency: "INR"},
		OrderRef:   "order_db_1",
		Status:     StatusPending,
		CreatedAt:  now,
	}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

type walletRow struct {
	balance  int64
	earnings int64
	walks    int
}

func readWallet(t *testing.T, db *pgxpool.Pool) walletRow {
	t.Helper()
	var w walletRow
	if err := db.QueryRow(context.Background(), `
		SELECT wallet_balance, total_earnings, total_walks FROM profiles WHERE user_id = $1`,
		string(walkerID),
	).Scan(&w.balance, &w.earnings, &w.walks); err != nil {
		t.Fatalf("read wallet: %v", err)
	}
	return w
}

func TestStoreSecondOpenPaymentRejected(t *testing.T) {
	store, db := setupTestStore(t)
	p := seedPayable(t, db, store, "PAYMENT_PENDING")

	dup := *p
	dup.ID = types.NewID()
	dup.OrderRef = "order_db_2"
	if err := store.Create(context.Background(), &dup); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("expected order exists, got %v", err)
	}
}

func TestStoreConcurrentVerifyCreditsWalletOnce(t *testing.T) {
	store, db := setupTestStore(t)
	p := seedPayable(t, db, store, "PAYMENT_PENDING")

	svc := NewService(store, Options{KeyID: "rzp_test_key", Currency: "INR", Timeout: time.Second}, Deps{
		Gateway: &fakeGateway{},
		Sessions: &fakeSessions{rows: map[types.ID]*session.Session{
			sessionID: {
				ID: sessionID, RequestID: "req-1", WandererID: wandererID, WalkerID: walkerID,
				Status: session.StatusPaymentPending,
			},
		}},
		Requests: &fakeRequests{},
		Fares:    pricing.NewService(nil, pricing.DefaultRate(50, 0.25, "INR")),
		Notifier: &recordingNotifier{},
		Log:      testutil.QuietLogger(),
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Verify(context.Background(), VerifyCommand{
				OrderRef:   p.OrderRef,
				PaymentRef: "pay_db_1",
				Signature:  sign(p.OrderRef, "pay_db_1"),
				CallerID:   wandererID,
			})
			if err == nil && got.Status != StatusSuccess {
				err = errors.New("verify returned a non-success payment")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
	}

	w := readWallet(t, db)
	if w.balance != 3750 || w.earnings != 3750 || w.walks != 1 {
		t.Fatalf("expected a single credit of 3750, got %+v", w)
	}

	stored, err := store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if stored.Status != StatusSuccess || stored.PaymentRef != "pay_db_1" {
		t.Fatalf("unexpected payment row: %+v", stored)
	}

	var sesStatus, reqStatus string
	if err := db.QueryRow(context.Background(), `SELECT status FROM walk_sessions WHERE id = $1`, string(sessionID)).Scan(&sesStatus); err != nil {
		t.Fatalf("read session: %v", err)
	}
	if err := db.QueryRow(context.Background(), `SELECT status FROM walk_requests WHERE id = 'req-1'`).Scan(&reqStatus); err != nil {
		t.Fatalf("read request: %v", err)
	}
	if sesStatus != "COMPLETED" || reqStatus != "COMPLETED" {
		t.Fatalf("expected session and request completed, got %s / %s", sesStatus, reqStatus)
	}

	var events int
	if err := db.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM walk_request_events WHERE request_id = 'req-1' AND to_status = 'COMPLETED'`,
	).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one completion event, got %d", events)
	}
}

func TestStoreCompleteRequiresPayableSession(t *testing.T) {
	store, db := setupTestStore(t)
	p := seedPayable(t, db, store, "ACTIVE")
	ctx := context.Background()

	_, applied, err := store.Complete(ctx, Completion{
		PaymentID: p.ID, PaymentRef: "pay_db_1", Signature: "sig", At: time.Now().UTC(),
	})
	if !errors.Is(err, ErrInvalidState) || applied {
		t.Fatalf("expected invalid state without applying, got applied=%v err=%v", applied, err)
	}

	stored, err := store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("payment should stay pending, got %s", stored.Status)
	}
	if w := readWallet(t, db); w.balance != 0 || w.walks != 0 {
		t.Fatalf("wallet should be untouched, got %+v", w)
	}
}
