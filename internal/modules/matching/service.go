// README: Matching service finds available walkers near a request and notifies the closest ones.
package matching

import (
	"context"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/config"
	"wander/internal/modules/location"
	"wander/internal/modules/notification"
	"wander/internal/modules/profile"
	"wander/internal/modules/walkrequest"
	"wander/internal/observability"
	"wander/internal/types"
)

var (
	ErrNoWalkers    = apperr.New(apperr.KindNotFound, "no walkers available nearby")
	ErrForbidden    = apperr.New(apperr.KindForbidden, "only the wanderer can search for walkers")
	ErrInvalidState = apperr.New(apperr.KindInvalidState, "walk request is no longer pending")
)

type GeoStore interface {
	NearbyWalkers(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error)
	RecordNotified(ctx context.Context, requestID types.ID, walkerIDs []types.ID) error
	Notified(ctx context.Context, requestID types.ID) (map[types.ID]bool, error)
}

type Requests interface {
	Get(ctx context.Context, id types.ID) (*walkrequest.Request, error)
}

type Profiles interface {
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*profile.Profile, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notice)
}

type Service struct {
	store    GeoStore
	requests Requests
	profiles Profiles
	notifier Notifier
	cfg      config.MatchingConfig
	log      logrus.FieldLogger
}

func NewService(store GeoStore, requests Requests, profiles Profiles, notifier Notifier, cfg config.MatchingConfig, log logrus.FieldLogger) *Service {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 5
	}
	if cfg.NotifyTop <= 0 {
		cfg.NotifyTop = 5
	}
	return &Service{store: store, requests: requests, profiles: profiles, notifier: notifier, cfg: cfg, log: log}
}

type FindCommand struct {
	RequestID types.ID
	CallerID  types.ID
	RadiusKm  float64
}

// FindWalkers lists available walkers around the request's pickup point,
// nearest first, and notifies the closest ones that were not told before.
func (s *Service) FindWalkers(ctx context.Context, cmd FindCommand) (*FindResult, error) {
	r, err := s.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.WandererID != cmd.CallerID {
		return nil, ErrForbidden
	}
	if r.Status != walkrequest.StatusPending {
		return nil, ErrInvalidState
	}
	radius := cmd.RadiusKm
	if radius <= 0 {
		radius = s.cfg.RadiusKm
	}
	if radius > maxRadiusKm {
		radius = maxRadiusKm
	}

	hits, err := s.store.NearbyWalkers(ctx, r.Pickup, radius)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(hits))
	for _, h := range hits {
		if h.WalkerID != r.WandererID {
			ids = append(ids, h.WalkerID)
		}
	}
	var profiles map[types.ID]*profile.Profile
	if len(ids) > 0 {
		if profiles, err = s.profiles.GetMany(ctx, ids); err != nil {
			return nil, err
		}
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		p, ok := profiles[h.WalkerID]
		if !ok || p.Role != types.RoleWalker || !p.IsAvailable || p.UserID == r.WandererID {
			continue
		}
		c := Candidate{
			WalkerID:   p.UserID,
			Name:       p.Name,
			Rating:     p.Rating,
			TotalWalks: p.TotalWalks,
			Languages:  p.Languages,
			Bio:        p.Bio,
			DistanceKm: location.Round2(h.DistanceKm),
		}
		if p.Location != nil {
			c.Location = *p.Location
			c.DistanceKm = location.Round2(location.HaversineKm(r.Pickup, *p.Location))
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, ErrNoWalkers
	}
	location.SortByDistance(candidates, func(c Candidate) float64 { return c.DistanceKm })

	notified := s.notifyClosest(ctx, r, candidates)
	return &FindResult{RequestID: r.ID, RadiusKm: radius, Candidates: candidates, Notified: notified}, nil
}

func (s *Service) notifyClosest(ctx context.Context, r *walkrequest.Request, candidates []Candidate) int {
	top := candidates
	if len(top) > s.cfg.NotifyTop {
		top = top[:s.cfg.NotifyTop]
	}
	already, err := s.store.Notified(ctx, r.ID)
	if err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("load notified walkers failed")
		already = map[types.ID]bool{}
	}
	var fresh []types.ID
	for _, c := range top {
		if already[c.WalkerID] {
			continue
		}
		s.notifier.Notify(ctx, notification.WalkRequestReceived(c.WalkerID, r.ID, c.DistanceKm))
		fresh = append(fresh, c.WalkerID)
	}
	if err := s.store.RecordNotified(ctx, r.ID, fresh); err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("record notified walkers failed")
	}
	observability.WalkersNotified.Add(float64(len(fresh)))
	return len(fresh)
}
