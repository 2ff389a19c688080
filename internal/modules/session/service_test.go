package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"wander/internal/apperr"
	"wander/internal/modules/location"
	"wander/internal/modules/notification"
	"wander/internal/modules/walkrequest"
	"wander/internal/types"
)

func TestWalkScenarioFromStartToPaymentPending(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	ses, err := h.start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.requests.status(requestID) != walkrequest.StatusInProgress {
		t.Fatalf("expected request IN_PROGRESS, got %s", h.requests.status(requestID))
	}
	if h.notifier.count(notification.TypeWalkStarted) != 2 {
		t.Fatalf("expected both participants notified of start")
	}

	h.clock.set(h.at(60 * time.Second))
	ses, err = h.svc.UpdateLocation(ctx, ses.ID, wandererID, location.NewSample(12.9716, 77.5946, h.at(60*time.Second)))
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if ses.TotalDistanceKm != 0 || ses.DurationMinutes != 1 {
		t.Fatalf("after first sample: distance=%v duration=%d", ses.TotalDistanceKm, ses.DurationMinutes)
	}

	h.clock.set(h.at(120 * time.Second))
	ses, err = h.svc.UpdateLocation(ctx, ses.ID, walkerID, location.NewSample(12.9720, 77.5950, h.at(120*time.Second)))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if ses.TotalDistanceKm != 0.062 || ses.DurationMinutes != 2 {
		t.Fatalf("after second sample: distance=%v duration=%d", ses.TotalDistanceKm, ses.DurationMinutes)
	}
	if h.feed.sent[wandererID] != 1 || h.feed.sent[walkerID] != 1 {
		t.Fatalf("expected each partner mirrored once, got %v", h.feed.sent)
	}

	h.clock.set(h.at(150 * time.Second))
	res, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: wandererID})
	if err != nil {
		t.Fatalf("wanderer end: %v", err)
	}
	if res.Finalized || res.Session.Status != StatusActive || res.WaitingFor != walkerID {
		t.Fatalf("expected partial ack waiting for walker, got %+v", res)
	}
	if h.notifier.last().UserID != walkerID || h.notifier.last().Type != notification.TypeWalkEndRequested {
		t.Fatalf("expected walker told about end request, got %+v", h.notifier.last())
	}

	h.clock.set(h.at(155 * time.Second))
	res, err = h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: walkerID})
	if err != nil {
		t.Fatalf("walker end: %v", err)
	}
	got := res.Session
	if !res.Finalized || got.Status != StatusPaymentPending || got.DurationMinutes != 3 {
		t.Fatalf("expected finalized with 3 minutes, got %+v", got)
	}
	if got.EndTime == nil || !got.EndTime.Equal(h.at(155*time.Second)) {
		t.Fatalf("unexpected end time %v", got.EndTime)
	}
	if got.Fare == nil || got.Fare.Total.Amount != 500 || got.Fare.Commission.Amount != 125 || got.Fare.Earnings.Amount != 375 {
		t.Fatalf("unexpected fare snapshot %+v", got.Fare)
	}
	if h.requests.status(requestID) != walkrequest.StatusPaymentPending {
		t.Fatalf("expected request PAYMENT_PENDING")
	}
	if len(h.walkers.released) != 1 || h.walkers.released[0] != walkerID {
		t.Fatalf("expected walker released once, got %v", h.walkers.released)
	}
	if h.notifier.count(notification.TypePaymentPending) != 2 {
		t.Fatalf("expected both participants told payment is pending")
	}

	sum, err := h.svc.PaymentSummary(ctx, ses.ID, wandererID)
	if err != nil {
		t.Fatalf("payment summary: %v", err)
	}
	if sum.Fare.Total.Amount != 500 || sum.DurationMinutes != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestUpdateLocationRejectsStaleSamples(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)

	ts := h.at(30 * time.Second)
	if _, err := h.svc.UpdateLocation(ctx, ses.ID, walkerID, location.NewSample(12.97, 77.59, ts)); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, stale := range []time.Time{ts, ts.Add(-time.Second)} {
		_, err := h.svc.UpdateLocation(ctx, ses.ID, wandererID, location.NewSample(12.98, 77.60, stale))
		if !errors.Is(err, ErrStaleLocation) || apperr.KindOf(err) != apperr.KindStaleData {
			t.Fatalf("expected stale data error, got %v", err)
		}
	}
	cur, _ := h.repo.Get(ctx, ses.ID)
	if len(cur.Route) != 1 || cur.TotalDistanceKm != 0 {
		t.Fatalf("stale samples must not mutate the session, got %+v", cur)
	}
}

func TestUpdateLocationValidation(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)
	lat := 12.97

	tests := []struct {
		name   string
		caller types.ID
		sample location.Sample
		want   error
	}{
		{"outsider", "stranger", location.NewSample(12.97, 77.59, h.at(time.Minute)), ErrForbidden},
		{"missing longitude", walkerID, location.Sample{Lat: &lat, Timestamp: ptrTime(h.at(time.Minute))}, location.ErrIncompleteSample},
		{"out of range", walkerID, location.NewSample(97, 77.59, h.at(time.Minute)), location.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.UpdateLocation(ctx, ses.ID, tt.caller, tt.sample)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDistanceIsMonotonic(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)
	rng := rand.New(rand.NewSource(7))

	lat, lng := 12.9716, 77.5946
	prev := 0.0
	for i := 1; i <= 50; i++ {
		lat += (rng.Float64() - 0.5) / 1000
		lng += (rng.Float64() - 0.5) / 1000
		h.clock.set(h.at(time.Duration(i) * 10 * time.Second))
		got, err := h.svc.UpdateLocation(ctx, ses.ID, walkerID, location.NewSample(lat, lng, h.at(time.Duration(i)*10*time.Second)))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if got.TotalDistanceKm < prev {
			t.Fatalf("distance decreased at step %d: %v < %v", i, got.TotalDistanceKm, prev)
		}
		prev = got.TotalDistanceKm

		var sum float64
		for j := 1; j < len(got.Route); j++ {
			sum += location.HaversineKm(got.Route[j-1].Point, got.Route[j].Point)
		}
		if want := location.RoundKm(sum); got.TotalDistanceKm != want {
			t.Fatalf("step %d: total %v does not match route sum %v", i, got.TotalDistanceKm, want)
		}
	}
}

func TestEndIsIdempotentAfterFinalize(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)

	if _, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: walkerID}); err != nil {
		t.Fatalf("walker end: %v", err)
	}
	// Repeating a one-sided end does not re-notify.
	before := h.notifier.count(notification.TypeWalkEndRequested)
	if _, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: walkerID}); err != nil {
		t.Fatalf("walker end again: %v", err)
	}
	if h.notifier.count(notification.TypeWalkEndRequested) != before {
		t.Fatalf("duplicate end request notified the partner again")
	}
	if _, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: wandererID}); err != nil {
		t.Fatalf("wanderer end: %v", err)
	}
	res, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: wandererID})
	if err != nil {
		t.Fatalf("end after finalize: %v", err)
	}
	if !res.Finalized || res.Session.Status != StatusPaymentPending {
		t.Fatalf("expected idempotent success, got %+v", res)
	}
	if h.requests.paymentPending != 1 {
		t.Fatalf("expected a single finalisation, got %d", h.requests.paymentPending)
	}
}

func TestConcurrentEndsFinalizeOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(nil)
		ctx := context.Background()
		ses, _ := h.start(ctx)

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for _, caller := range []types.ID{wandererID, walkerID, wandererID, walkerID} {
			wg.Add(1)
			go func(caller types.ID) {
				defer wg.Done()
				if _, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: caller}); err != nil {
					errs <- err
				}
			}(caller)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("unexpected end error: %v", err)
		}
		if h.requests.paymentPending != 1 {
			t.Fatalf("expected exactly one finalisation, got %d", h.requests.paymentPending)
		}
		if h.notifier.count(notification.TypePaymentPending) != 2 {
			t.Fatalf("expected one payment pending notice per participant")
		}
	}
}

func TestConcurrentStartsConverge(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan types.ID, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ses, err := h.start(ctx)
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			ids <- ses.ID
		}()
	}
	wg.Wait()
	close(ids)
	var first types.ID
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("starts produced different sessions: %s vs %s", first, id)
		}
	}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()

	h := newHarness(nil)
	_, err := h.svc.Start(ctx, StartCommand{RequestID: requestID, WandererID: wandererID, WalkerID: "walker-2", CallerID: wandererID})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for mismatched walker, got %v", err)
	}
	_, err = h.svc.Start(ctx, StartCommand{RequestID: "missing", WandererID: wandererID, WalkerID: walkerID})
	if !errors.Is(err, walkrequest.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = h.svc.Start(ctx, StartCommand{RequestID: requestID, WandererID: wandererID, WalkerID: walkerID, CallerID: "stranger"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	h.requests.rows[requestID].Status = walkrequest.StatusPending
	if _, err := h.start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for pending request, got %v", err)
	}
}

func TestStartDropsIncompleteInitialSample(t *testing.T) {
	h := newHarness(nil)
	lat := 12.97
	ses, err := h.svc.Start(context.Background(), StartCommand{
		RequestID: requestID, WandererID: wandererID, WalkerID: walkerID,
		Initial: &location.Sample{Lat: &lat},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(ses.Route) != 0 {
		t.Fatalf("expected incomplete first point to be dropped, got %d points", len(ses.Route))
	}
}

func TestStartAbortsWhenRequestMovedOn(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	h.requests.failInProgress = walkrequest.ErrInvalidState

	if _, err := h.start(ctx); !errors.Is(err, walkrequest.ErrInvalidState) {
		t.Fatalf("expected request error, got %v", err)
	}
	if _, err := h.repo.ActiveByRequest(ctx, requestID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active session left behind, got %v", err)
	}
}

func TestTriggerSOSNotifiesPartnerUrgently(t *testing.T) {
	tests := []struct {
		name string
		geo  Geocoder
		want string
	}{
		{"with address", stubGeocoder{addr: "MG Road, Bengaluru"}, "MG Road, Bengaluru"},
		{"geocoder down", stubGeocoder{err: errors.New("timeout")}, "12.97160, 77.59460"},
		{"no geocoder", nil, "12.97160, 77.59460"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.geo)
			ctx := context.Background()
			ses, _ := h.start(ctx)

			got, err := h.svc.TriggerSOS(ctx, SOSCommand{
				SessionID: ses.ID, CallerID: wandererID,
				Location: &types.Point{Lat: 12.9716, Lng: 77.5946}, Reason: "feeling unsafe",
			})
			if err != nil {
				t.Fatalf("sos: %v", err)
			}
			if !got.SOSTriggered || got.Status != StatusActive || got.SOSBy == nil || *got.SOSBy != wandererID {
				t.Fatalf("unexpected session after sos %+v", got)
			}
			n := h.notifier.last()
			if n.UserID != walkerID || n.Type != notification.TypeSOSAlert || n.Priority != notification.PriorityUrgent {
				t.Fatalf("unexpected sos notice %+v", n)
			}
			if n.Data["location"] != tt.want {
				t.Fatalf("expected location %q, got %q", tt.want, n.Data["location"])
			}
		})
	}
}

func TestAbortForRequestCancelsLiveSession(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)
	h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: wandererID})

	if err := h.svc.AbortForRequest(ctx, requestID, "wanderer cancelled"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	got, _ := h.repo.Get(ctx, ses.ID)
	if got.Status != StatusCancelled || got.CancelReason != "wanderer cancelled" || got.EndTime == nil {
		t.Fatalf("unexpected session after abort %+v", got)
	}
	if err := h.svc.AbortForRequest(ctx, requestID, "again"); err != nil {
		t.Fatalf("abort with no live session should be a no-op, got %v", err)
	}
	if _, err := h.svc.UpdateLocation(ctx, ses.ID, walkerID, location.NewSample(1, 1, h.at(time.Hour))); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state after abort, got %v", err)
	}
	if _, err := h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: walkerID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state ending a cancelled session, got %v", err)
	}
}

func TestMarkCompleted(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)

	if err := h.svc.MarkCompleted(ctx, ses.ID, h.at(time.Hour)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for an active session, got %v", err)
	}
	h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: wandererID})
	h.svc.End(ctx, EndCommand{SessionID: ses.ID, CallerID: walkerID})
	for i := 0; i < 2; i++ {
		if err := h.svc.MarkCompleted(ctx, ses.ID, h.at(time.Hour)); err != nil {
			t.Fatalf("mark completed #%d: %v", i, err)
		}
	}
	got, _ := h.repo.Get(ctx, ses.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestPartnerLocationAndSummaryGuards(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ses, _ := h.start(ctx)

	if _, err := h.svc.PartnerLocation(ctx, ses.ID, wandererID); !errors.Is(err, ErrNoPartnerFix) {
		t.Fatalf("expected no partner fix yet, got %v", err)
	}
	h.svc.UpdateLocation(ctx, ses.ID, walkerID, location.NewSample(12.97, 77.59, h.at(time.Second)))
	loc, err := h.svc.PartnerLocation(ctx, ses.ID, wandererID)
	if err != nil || loc.PartnerID != walkerID || loc.Location.Lat != 12.97 {
		t.Fatalf("unexpected partner location %+v, %v", loc, err)
	}
	if _, err := h.svc.PartnerLocationByRequest(ctx, requestID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.svc.PaymentSummary(ctx, ses.ID, wandererID); !errors.Is(err, ErrNotEndedYet) {
		t.Fatalf("expected summary to wait for the walk to end, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
