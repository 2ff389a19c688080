// README: Matching store backed by Redis GEO and sets.
package matching

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wander/internal/types"
)

const (
	walkerGeoKey      = "matching:walkers"
	notifiedKeyPrefix = "matching:request:%s:notified"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) UpsertWalker(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, walkerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) RemoveWalker(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, walkerGeoKey, string(id)).Err()
}

// NearbyWalkers returns indexed walkers within radiusKm, nearest first.
func (s *Store) NearbyWalkers(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	results, err := s.redis.GeoSearchLocation(ctx, walkerGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{WalkerID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return out, nil
}

// RecordNotified remembers which walkers were told about a request.
func (s *Store) RecordNotified(ctx context.Context, requestID types.ID, walkerIDs []types.ID) error {
	if len(walkerIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(walkerIDs))
	for i, d := range walkerIDs {
		members[i] = string(d)
	}
	key := notifiedKey(requestID)
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, notifiedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Notified(ctx context.Context, requestID types.ID) (map[types.ID]bool, error) {
	members, err := s.redis.SMembers(ctx, notifiedKey(requestID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]bool, len(members))
	for _, m := range members {
		out[types.ID(m)] = true
	}
	return out, nil
}

func notifiedKey(requestID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(requestID))
}
