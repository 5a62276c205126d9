package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kumanofoo/tako/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	owners  map[string]*model.Owner
	rounds  map[string]*model.Round
	orders  map[string]map[string]*model.Order // roundID → ownerID → order
	ledger  []model.Transaction
	seasons map[string]*model.Season
	records []model.SeasonRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:  make(map[string]*model.Owner),
		rounds:  make(map[string]*model.Round),
		orders:  make(map[string]map[string]*model.Order),
		seasons: make(map[string]*model.Season),
	}
}

// --- Owners ---

func (s *MemoryStore) CreateOwner(_ context.Context, o *model.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[o.ID]; ok {
		return fmt.Errorf("%w: owner %s", ErrDuplicate, o.ID)
	}
	cp := *o
	s.owners[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOwner(_ context.Context, id string) (*model.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.owners[id]
	if !ok {
		return nil, fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOwners(_ context.Context) ([]model.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]model.Owner, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, *o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].ID < owners[j].ID })
	return owners, nil
}

func (s *MemoryStore) RenameOwner(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.owners[id]
	if !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	o.Name = name
	return nil
}

func (s *MemoryStore) DeleteOwner(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[id]; !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	delete(s.owners, id)
	for _, byOwner := range s.orders {
		delete(byOwner, id)
	}
	kept := s.ledger[:0]
	for _, t := range s.ledger {
		if t.OwnerID != id {
			kept = append(kept, t)
		}
	}
	s.ledger = kept
	recs := s.records[:0]
	for _, r := range s.records {
		if r.OwnerID != id {
			recs = append(recs, r)
		}
	}
	s.records = recs
	return nil
}

// --- Rounds ---

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rounds {
		if existing.Date == r.Date {
			return fmt.Errorf("%w: round for %s", ErrDuplicate, r.Date)
		}
	}
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: round %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetRoundByDate(_ context.Context, date string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rounds {
		if r.Date == date {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: round for %s", ErrNotFound, date)
}

func (s *MemoryStore) RoundInStatus(_ context.Context, status string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Round
	for _, r := range s.rounds {
		if r.Status != status {
			continue
		}
		if latest == nil || r.Date > latest.Date {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no round in status %s", ErrNotFound, status)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) SetRoundStatus(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[id]
	if !ok {
		return fmt.Errorf("%w: round %s", ErrNotFound, id)
	}
	if r.Status != from {
		return fmt.Errorf("%w: round %s is %s, not %s", ErrConflict, id, r.Status, from)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CancelRoundsBefore(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rounds {
		if r.Date < date && (r.Status == model.RoundScheduled || r.Status == model.RoundOpen || r.Status == model.RoundClosed) {
			r.Status = model.RoundCanceled
			r.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// --- Orders ---

func (s *MemoryStore) UpsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byOwner, ok := s.orders[o.RoundID]
	if !ok {
		byOwner = make(map[string]*model.Order)
		s.orders[o.RoundID] = byOwner
	}
	cp := *o
	byOwner[o.OwnerID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, ownerID, roundID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orders[roundID][ownerID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: order %s/%s", ErrNotFound, ownerID, roundID)
}

func (s *MemoryStore) OrdersByRound(_ context.Context, roundID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders[roundID] {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OwnerID < orders[j].OwnerID })
	return orders, nil
}

// --- Settlement and history ---

func (s *MemoryStore) ApplySettlement(_ context.Context, st *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[st.RoundID]
	if !ok {
		return fmt.Errorf("%w: round %s", ErrNotFound, st.RoundID)
	}
	switch r.Status {
	case model.RoundSettled:
		return ErrAlreadySettled
	case model.RoundClosed:
		// proceed
	default:
		return fmt.Errorf("%w: round %s is %s, not closed", ErrConflict, st.RoundID, r.Status)
	}

	now := time.Now().UTC()
	for _, e := range st.Entries {
		o, ok := s.owners[e.OwnerID]
		if !ok {
			return fmt.Errorf("%w: owner %s", ErrNotFound, e.OwnerID)
		}
		o.Balance = e.Balance
		o.UpdatedAt = e.Timestamp
		s.ledger = append(s.ledger, e)
	}
	r.ActualSales = st.ActualSales
	r.Weather = st.Weather
	r.Status = model.RoundSettled
	r.UpdatedAt = now
	return nil
}

func (s *MemoryStore) TransactionsByRound(_ context.Context, roundID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.RoundID == roundID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TransactionsByOwner(_ context.Context, ownerID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.OwnerID == ownerID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// --- Seasons ---

func (s *MemoryStore) CreateSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seasons[season.ID]; ok {
		return fmt.Errorf("%w: season %s", ErrDuplicate, season.ID)
	}
	cp := *season
	s.seasons[season.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveSeason(_ context.Context) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, season := range s.seasons {
		if season.EndedAt.IsZero() {
			cp := *season
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no active season", ErrNotFound)
}

func (s *MemoryStore) ResetSeason(_ context.Context, r *Reset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	season, ok := s.seasons[r.SeasonID]
	if !ok {
		return fmt.Errorf("%w: season %s", ErrNotFound, r.SeasonID)
	}
	if !season.EndedAt.IsZero() {
		return fmt.Errorf("%w: season %s already ended", ErrConflict, r.SeasonID)
	}

	season.EndedAt = r.EndedAt
	season.WinnerID = r.WinnerID
	s.records = append(s.records, r.Records...)

	for _, id := range r.BadgeWinners {
		if o, ok := s.owners[id]; ok {
			o.Badges++
		}
	}
	for _, o := range s.owners {
		o.Balance = r.SeedMoney
		o.UpdatedAt = r.EndedAt
	}

	next := r.Next
	s.seasons[next.ID] = &next
	return nil
}

func (s *MemoryStore) SeasonRecords(_ context.Context, seasonID string) ([]model.SeasonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SeasonRecord
	for _, r := range s.records {
		if r.SeasonID == seasonID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Rank < result[j].Rank })
	return result, nil
}
