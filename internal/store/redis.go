package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kumanofoo/tako/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// hot reads (owners and rounds, hit on every status poll). Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Owners ---

func (s *CachedStore) CreateOwner(ctx context.Context, o *model.Owner) error {
	if err := s.primary.CreateOwner(ctx, o); err != nil {
		return err
	}
	s.cacheOwner(ctx, o)
	s.rdb.Del(ctx, ownersKey)
	return nil
}

func (s *CachedStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	data, err := s.rdb.Get(ctx, ownerKey(id)).Bytes()
	if err == nil {
		var o model.Owner
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOwner(ctx, o)
	return o, nil
}

// ListOwners backs the leaderboard, which every status poll renders; the
// full owner list is cached as one value.
func (s *CachedStore) ListOwners(ctx context.Context) ([]model.Owner, error) {
	data, err := s.rdb.Get(ctx, ownersKey).Bytes()
	if err == nil {
		var owners []model.Owner
		if json.Unmarshal(data, &owners) == nil {
			return owners, nil
		}
	}

	owners, err := s.primary.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(owners); err == nil {
		s.rdb.Set(ctx, ownersKey, data, s.ttl)
	}
	return owners, nil
}

func (s *CachedStore) RenameOwner(ctx context.Context, id, name string) error {
	if err := s.primary.RenameOwner(ctx, id, name); err != nil {
		return err
	}
	s.rdb.Del(ctx, ownerKey(id), ownersKey)
	return nil
}

func (s *CachedStore) DeleteOwner(ctx context.Context, id string) error {
	if err := s.primary.DeleteOwner(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, ownerKey(id), ownersKey)
	return nil
}

// --- Rounds ---

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.CreateRound(ctx, r); err != nil {
		return err
	}
	s.cacheRound(ctx, r)
	return nil
}

func (s *CachedStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	data, err := s.rdb.Get(ctx, roundKey(id)).Bytes()
	if err == nil {
		var r model.Round
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRound(ctx, r)
	return r, nil
}

func (s *CachedStore) GetRoundByDate(ctx context.Context, date string) (*model.Round, error) {
	// Try cache via date→roundID mapping.
	roundID, err := s.rdb.Get(ctx, roundDateKey(date)).Result()
	if err == nil {
		return s.GetRound(ctx, roundID)
	}

	r, err := s.primary.GetRoundByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	s.cacheRound(ctx, r)
	return r, nil
}

func (s *CachedStore) RoundInStatus(ctx context.Context, status string) (*model.Round, error) {
	// Status queries must see transitions immediately; never cached.
	return s.primary.RoundInStatus(ctx, status)
}

func (s *CachedStore) SetRoundStatus(ctx context.Context, id, from, to string) error {
	if err := s.primary.SetRoundStatus(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(id))
	return nil
}

func (s *CachedStore) CancelRoundsBefore(ctx context.Context, date string) error {
	// Affected round ids are unknown here; drop the whole round namespace.
	if err := s.primary.CancelRoundsBefore(ctx, date); err != nil {
		return err
	}
	iter := s.rdb.Scan(ctx, 0, "round:*", 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// --- Orders (passthrough: read once per settlement, not worth caching) ---

func (s *CachedStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.UpsertOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, ownerID, roundID string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, ownerID, roundID)
}

func (s *CachedStore) OrdersByRound(ctx context.Context, roundID string) ([]model.Order, error) {
	return s.primary.OrdersByRound(ctx, roundID)
}

// --- Settlement and history ---

func (s *CachedStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	if err := s.primary.ApplySettlement(ctx, st); err != nil {
		return err
	}
	// Settlement touched the round and every owner in it.
	s.rdb.Del(ctx, roundKey(st.RoundID), ownersKey)
	for _, e := range st.Entries {
		s.rdb.Del(ctx, ownerKey(e.OwnerID))
	}
	return nil
}

func (s *CachedStore) TransactionsByRound(ctx context.Context, roundID string) ([]model.Transaction, error) {
	return s.primary.TransactionsByRound(ctx, roundID)
}

func (s *CachedStore) TransactionsByOwner(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	return s.primary.TransactionsByOwner(ctx, ownerID)
}

// --- Seasons ---

func (s *CachedStore) CreateSeason(ctx context.Context, season *model.Season) error {
	return s.primary.CreateSeason(ctx, season)
}

func (s *CachedStore) ActiveSeason(ctx context.Context) (*model.Season, error) {
	return s.primary.ActiveSeason(ctx)
}

func (s *CachedStore) ResetSeason(ctx context.Context, r *Reset) error {
	if err := s.primary.ResetSeason(ctx, r); err != nil {
		return err
	}
	// Every owner's balance changed; drop all cached owners.
	s.rdb.Del(ctx, ownersKey)
	iter := s.rdb.Scan(ctx, 0, "owner:*", 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

func (s *CachedStore) SeasonRecords(ctx context.Context, seasonID string) ([]model.SeasonRecord, error) {
	return s.primary.SeasonRecords(ctx, seasonID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheOwner(ctx context.Context, o *model.Owner) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, ownerKey(o.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheRound(ctx context.Context, r *model.Round) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, roundKey(r.ID), data, s.ttl)
		s.rdb.Set(ctx, roundDateKey(r.Date), r.ID, s.ttl)
	}
}

const ownersKey = "owners:all"

func ownerKey(id string) string       { return fmt.Sprintf("owner:%s", id) }
func roundKey(id string) string       { return fmt.Sprintf("round:%s", id) }
func roundDateKey(date string) string { return fmt.Sprintf("rounddate:%s", date) }
