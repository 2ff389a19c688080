package rating

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"wander/internal/modules/notification"
	"wander/internal/modules/profile"
	"wander/internal/modules/session"
	"wander/internal/testutil"
	"wander/internal/types"
)

type memRepo struct {
	mu       sync.Mutex
	ratings  []*Rating
	feedback []*Feedback
}

func (m *memRepo) Create(_ context.Context, r *Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.ratings {
		if o.SessionID == r.SessionID && o.ReviewerID == r.ReviewerID {
			return ErrAlreadyRated
		}
	}
	cp := *r
	m.ratings = append(m.ratings, &cp)
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ratings {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) Exists(_ context.Context, sessionID, reviewerID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ratings {
		if r.SessionID == sessionID && r.ReviewerID == reviewerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListForUser(_ context.Context, userID types.ID, limit, offset int) ([]*Rating, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Rating
	for i := len(m.ratings) - 1; i >= 0; i-- {
		if m.ratings[i].ReviewedID == userID {
			out = append(out, m.ratings[i])
		}
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memRepo) Stats(_ context.Context, userID types.ID) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Distribution: map[int]int{}}
	for _, r := range m.ratings {
		if r.ReviewedID == userID {
			st.Count++
			st.Sum += r.Value
			st.Distribution[r.Value]++
		}
	}
	return st, nil
}

func (m *memRepo) Report(_ context.Context, id types.ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ratings {
		if r.ID == id {
			r.IsReported, r.ReportReason = true, reason
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) CreateFeedback(_ context.Context, f *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.feedback {
		if o.SessionID == f.SessionID && o.UserID == f.UserID {
			return ErrDuplicateFeedback
		}
	}
	m.feedback = append(m.feedback, f)
	return nil
}

type fakeSessions map[types.ID]*session.Session

func (f fakeSessions) Load(_ context.Context, id types.ID) (*session.Session, error) {
	s, ok := f[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s, nil
}

type fakeProfiles struct {
	mu      sync.Mutex
	ratings map[types.ID]float64
	counts  map[types.ID]int
	names   map[types.ID]string
}

func (f *fakeProfiles) GetMany(_ context.Context, ids []types.ID) (map[types.ID]*profile.Profile, error) {
	out := map[types.ID]*profile.Profile{}
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = &profile.Profile{UserID: id, Name: n}
		}
	}
	return out, nil
}

func (f *fakeProfiles) SetRating(_ context.Context, id types.ID, avg float64, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[id], f.counts[id] = avg, count
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

const (
	wanderer types.ID = "wanderer-1"
	walker   types.ID = "walker-1"
)

func newTestService() (*Service, *memRepo, *fakeProfiles, *recordingNotifier) {
	sessions := fakeSessions{}
	for _, id := range []types.ID{"s1", "s2", "s3"} {
		sessions[id] = &session.Session{ID: id, WandererID: wanderer, WalkerID: walker, Status: session.StatusCompleted}
	}
	sessions["live"] = &session.Session{ID: "live", WandererID: wanderer, WalkerID: walker, Status: session.StatusActive}
	repo := &memRepo{}
	profiles := &fakeProfiles{
		ratings: map[types.ID]float64{},
		counts:  map[types.ID]int{},
		names:   map[types.ID]string{wanderer: "Asha"},
	}
	n := &recordingNotifier{}
	return NewService(repo, sessions, profiles, n, testutil.QuietLogger()), repo, profiles, n
}

func TestSubmitRatesTheOtherParticipant(t *testing.T) {
	svc, _, profiles, n := newTestService()
	ctx := context.Background()

	r, err := svc.Submit(ctx, SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 5, Text: " lovely walk ", Tags: []string{"friendly", "friendly", " "}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.ReviewedID != walker || r.Text != "lovely walk" || len(r.Tags) != 1 {
		t.Fatalf("unexpected rating %+v", r)
	}
	if profiles.ratings[walker] != 5 || profiles.counts[walker] != 1 {
		t.Fatalf("expected walker average 5 over 1 rating")
	}
	if len(n.notices) != 1 || n.notices[0].UserID != walker || n.notices[0].Type != notification.TypeNewRating {
		t.Fatalf("expected walker to be notified, got %+v", n.notices)
	}
}

func TestAverageIsMeanOfAllRatings(t *testing.T) {
	svc, _, profiles, _ := newTestService()
	ctx := context.Background()

	for i, v := range []int{5, 4, 4} {
		sid := types.ID([]string{"s1", "s2", "s3"}[i])
		if _, err := svc.Submit(ctx, SubmitCommand{SessionID: sid, ReviewerID: wanderer, Value: v}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	sum, err := svc.Average(ctx, walker)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if sum.Average != 4.33 || sum.Total != 3 || sum.Distribution[4] != 2 || sum.Distribution[1] != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if profiles.ratings[walker] != 4.33 || profiles.counts[walker] != 3 {
		t.Fatalf("profile rating not refreshed: %v/%d", profiles.ratings[walker], profiles.counts[walker])
	}

	empty, _ := svc.Average(ctx, "nobody")
	if empty.Average != 0 || empty.Total != 0 || len(empty.Distribution) != 5 {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}

func TestSubmitGuards(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Submit(ctx, SubmitCommand{SessionID: "s1", ReviewerID: walker, Value: 4}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	tests := []struct {
		name string
		cmd  SubmitCommand
		want error
	}{
		{"value too low", SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 0}, ErrBadValue},
		{"value too high", SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 6}, ErrBadValue},
		{"text too long", SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 3, Text: strings.Repeat("x", 501)}, ErrTextTooLong},
		{"unknown session", SubmitCommand{SessionID: "nope", ReviewerID: wanderer, Value: 3}, session.ErrNotFound},
		{"outsider", SubmitCommand{SessionID: "s1", ReviewerID: "stranger", Value: 3}, ErrForbidden},
		{"walk not completed", SubmitCommand{SessionID: "live", ReviewerID: wanderer, Value: 3}, ErrNotCompleted},
		{"second rating", SubmitCommand{SessionID: "s1", ReviewerID: walker, Value: 1}, ErrAlreadyRated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Submit(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConcurrentSubmitsKeepOneRating(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 5})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyRated) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || len(repo.ratings) != 1 {
		t.Fatalf("expected exactly one rating, got %d successes and %d rows", ok, len(repo.ratings))
	}
}

func TestListReportAndHasRated(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.Submit(ctx, SubmitCommand{SessionID: "s1", ReviewerID: wanderer, Value: 2, Text: "late"})

	page, err := svc.ListForUser(ctx, walker, 1, 10)
	if err != nil || page.Total != 1 || page.Items[0].ReviewerName != "Asha" {
		t.Fatalf("unexpected page %+v, %v", page, err)
	}
	if rated, _ := svc.HasRated(ctx, "s1", wanderer); !rated {
		t.Fatalf("expected wanderer to have rated s1")
	}
	if rated, _ := svc.HasRated(ctx, "s1", walker); rated {
		t.Fatalf("walker has not rated s1")
	}
	if err := svc.Report(ctx, r.ID, wanderer, "spam"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only the reviewed user may report, got %v", err)
	}
	if err := svc.Report(ctx, r.ID, walker, "unfair"); err != nil {
		t.Fatalf("report: %v", err)
	}
	got, _ := svc.store.Get(ctx, r.ID)
	if !got.IsReported || got.ReportReason != "unfair" {
		t.Fatalf("expected rating flagged, got %+v", got)
	}
}

func TestSubmitFeedback(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	f, err := svc.SubmitFeedback(ctx, FeedbackCommand{SessionID: "s1", UserID: walker, Rating: 4, Message: "nice"})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if f.UserRole != FeedbackWalker || f.PartnerID == nil || *f.PartnerID != wanderer {
		t.Fatalf("unexpected feedback %+v", f)
	}
	if _, err := svc.SubmitFeedback(ctx, FeedbackCommand{SessionID: "s1", UserID: walker, Rating: 5}); !errors.Is(err, ErrDuplicateFeedback) {
		t.Fatalf("expected duplicate feedback conflict, got %v", err)
	}
	orphan, err := svc.SubmitFeedback(ctx, FeedbackCommand{SessionID: "gone", UserID: wanderer, Rating: 3})
	if err != nil || orphan.UserRole != FeedbackUnknown || orphan.PartnerID != nil {
		t.Fatalf("unexpected orphan feedback %+v, %v", orphan, err)
	}
	if _, err := svc.SubmitFeedback(ctx, FeedbackCommand{SessionID: "s2", UserID: wanderer, Rating: 9}); !errors.Is(err, ErrBadValue) {
		t.Fatalf("expected bad value, got %v", err)
	}
}
