// README: Rating service accepts one review per participant per completed walk and keeps profile averages current.
package rating

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/modules/notification"
	"wander/internal/modules/profile"
	"wander/internal/modules/session"
	"wander/internal/types"
)

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "rating not found")
	ErrAlreadyRated      = apperr.New(apperr.KindConflict, "you have already rated this walk")
	ErrDuplicateFeedback = apperr.New(apperr.KindConflict, "feedback already submitted for this walk")
	ErrNotCompleted      = apperr.New(apperr.KindInvalidState, "only completed walks can be rated")
	ErrForbidden         = apperr.New(apperr.KindForbidden, "not a participant of this walk")
	ErrBadValue          = apperr.New(apperr.KindValidation, "rating must be between 1 and 5")
	ErrTextTooLong       = apperr.New(apperr.KindValidation, "text must be at most 500 characters")
	ErrBadRequest        = apperr.New(apperr.KindValidation, "bad request")
)

type Repository interface {
	Create(ctx context.Context, r *Rating) error
	Get(ctx context.Context, id types.ID) (*Rating, error)
	Exists(ctx context.Context, sessionID, reviewerID types.ID) (bool, error)
	ListForUser(ctx context.Context, userID types.ID, limit, offset int) ([]*Rating, int, error)
	Stats(ctx context.Context, userID types.ID) (Stats, error)
	Report(ctx context.Context, id types.ID, reason string) error
	CreateFeedback(ctx context.Context, f *Feedback) error
}

type Sessions interface {
	Load(ctx context.Context, id types.ID) (*session.Session, error)
}

type Profiles interface {
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*profile.Profile, error)
	SetRating(ctx context.Context, userID types.ID, avg float64, count int) error
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notice)
}

type Service struct {
	store    Repository
	sessions Sessions
	profiles Profiles
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Repository, sessions Sessions, profiles Profiles, notifier Notifier, log logrus.FieldLogger) *Service {
	return &Service{store: store, sessions: sessions, profiles: profiles, notifier: notifier, log: log, now: time.Now}
}

type SubmitCommand struct {
	SessionID  types.ID
	ReviewerID types.ID
	Value      int
	Text       string
	Tags       []string
}

type FeedbackCommand struct {
	SessionID types.ID
	UserID    types.ID
	Rating    int
	Message   string
}

func (cmd SubmitCommand) validate() error {
	if cmd.SessionID == "" || cmd.ReviewerID == "" {
		return ErrBadRequest
	}
	if cmd.Value < minValue || cmd.Value > maxValue {
		return ErrBadValue
	}
	if utf8.RuneCountInString(cmd.Text) > maxTextLen {
		return ErrTextTooLong
	}
	if len(cmd.Tags) > maxTags {
		return apperr.New(apperr.KindValidation, "too many tags")
	}
	return nil
}

// Submit records the reviewer's rating of the other participant and refreshes
// that user's average from the full rating set.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Rating, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	ses, err := s.sessions.Load(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if !ses.IsParticipant(cmd.ReviewerID) {
		return nil, ErrForbidden
	}
	if ses.Status != session.StatusCompleted {
		return nil, ErrNotCompleted
	}
	rated, err := s.store.Exists(ctx, ses.ID, cmd.ReviewerID)
	if err != nil {
		return nil, err
	}
	if rated {
		return nil, ErrAlreadyRated
	}

	r := &Rating{
		ID:         types.NewID(),
		SessionID:  ses.ID,
		ReviewerID: cmd.ReviewerID,
		ReviewedID: ses.Counterpart(cmd.ReviewerID),
		Value:      cmd.Value,
		Text:       strings.TrimSpace(cmd.Text),
		Tags:       cleanTags(cmd.Tags),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"session_id": ses.ID, "user_id": r.ReviewedID})
	if sum, err := s.Average(ctx, r.ReviewedID); err != nil {
		log.WithError(err).Warn("recompute rating failed")
	} else if err := s.profiles.SetRating(ctx, r.ReviewedID, sum.Average, sum.Total); err != nil {
		log.WithError(err).Warn("store rating on profile failed")
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, notification.NewRating(r.ReviewedID, r.ID, r.Value))
	}
	return r, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Average reports the mean rating rounded to two decimals, with the per-star distribution.
func (s *Service) Average(ctx context.Context, userID types.ID) (*Summary, error) {
	st, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	dist := map[int]int{}
	for v := minValue; v <= maxValue; v++ {
		dist[v] = st.Distribution[v]
	}
	out := &Summary{Total: st.Count, Distribution: dist}
	if st.Count > 0 {
		out.Average = decimal.NewFromInt(int64(st.Sum)).
			Div(decimal.NewFromInt(int64(st.Count))).
			Round(2).
			InexactFloat64()
	}
	return out, nil
}

func (s *Service) ListForUser(ctx context.Context, userID types.ID, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = 10
	}
	rows, total, err := s.store.ListForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ReviewerID)
	}
	names := map[types.ID]*profile.Profile{}
	if len(ids) > 0 {
		if names, err = s.profiles.GetMany(ctx, ids); err != nil {
			s.log.WithError(err).Warn("load reviewer names failed")
			names = map[types.ID]*profile.Profile{}
		}
	}
	out := &Page{Items: make([]Review, 0, len(rows)), Page: page, Limit: limit, Total: total}
	for _, r := range rows {
		name := "Anonymous"
		if p, ok := names[r.ReviewerID]; ok && p.Name != "" {
			name = p.Name
		}
		out.Items = append(out.Items, Review{Rating: *r, ReviewerName: name})
	}
	return out, nil
}

func (s *Service) HasRated(ctx context.Context, sessionID, userID types.ID) (bool, error) {
	return s.store.Exists(ctx, sessionID, userID)
}

// Report flags a review for moderation. Only the reviewed user may report it.
func (s *Service) Report(ctx context.Context, ratingID, caller types.ID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.New(apperr.KindValidation, "reason is required")
	}
	r, err := s.store.Get(ctx, ratingID)
	if err != nil {
		return err
	}
	if r.ReviewedID != caller {
		return ErrForbidden
	}
	if err := s.store.Report(ctx, ratingID, reason); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"rating_id": ratingID, "user_id": caller}).Info("review reported")
	return nil
}

// SubmitFeedback stores free-form feedback. Feedback for an unknown session is
// kept with an UNKNOWN role.
func (s *Service) SubmitFeedback(ctx context.Context, cmd FeedbackCommand) (*Feedback, error) {
	if cmd.SessionID == "" || cmd.UserID == "" {
		return nil, apperr.New(apperr.KindValidation, "session id and rating are required")
	}
	if cmd.Rating < minValue || cmd.Rating > maxValue {
		return nil, ErrBadValue
	}
	if utf8.RuneCountInString(cmd.Message) > maxTextLen {
		return nil, ErrTextTooLong
	}
	f := &Feedback{
		ID:        types.NewID(),
		SessionID: cmd.SessionID,
		UserID:    cmd.UserID,
		UserRole:  FeedbackUnknown,
		Rating:    cmd.Rating,
		Message:   strings.TrimSpace(cmd.Message),
		CreatedAt: s.now().UTC(),
	}
	ses, err := s.sessions.Load(ctx, cmd.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if !ses.IsParticipant(cmd.UserID) {
			return nil, ErrForbidden
		}
		partner := ses.Counterpart(cmd.UserID)
		f.PartnerID = &partner
		f.UserRole = FeedbackWanderer
		if cmd.UserID == ses.WalkerID {
			f.UserRole = FeedbackWalker
		}
	}
	if err := s.store.CreateFeedback(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}
