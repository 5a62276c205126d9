// Package store defines the persistence interface for the market engine.
// Implementations include SQLite (single-file default), PostgreSQL, Redis
// (read-through cache wrapper), and in-memory (for testing).
//
// The store exclusively owns Owner, Order, Round, Transaction and Season
// records; the market engine and season controller mutate state only through
// this interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("store: already exists")

	// ErrConflict is returned when a guarded status transition does not
	// match the stored state (e.g. two schedulers racing to open a round).
	ErrConflict = errors.New("store: state conflict")

	// ErrAlreadySettled is returned by ApplySettlement when the round has
	// been settled before. Callers treat it as idempotent success and read
	// back the stored result.
	ErrAlreadySettled = errors.New("store: round already settled")
)

// Settlement is the atomic unit committed when a round settles: the round's
// realized sales plus one transaction and balance update per owner. Either
// everything commits or nothing does.
type Settlement struct {
	RoundID     string
	ActualSales int64
	Weather     string
	Entries     []model.Transaction // Balance carries each owner's new balance
}

// Reset is the atomic unit committed when a season ends: final standings,
// badge awards, the balance reset, and the next season.
type Reset struct {
	SeasonID     string
	EndedAt      time.Time
	WinnerID     string
	Records      []model.SeasonRecord
	BadgeWinners []string // owners at or above target; each gains one badge
	SeedMoney    decimal.Decimal
	Next         model.Season
}

// Store is the persistence interface for the whole market.
type Store interface {
	// --- Owners ---

	// CreateOwner registers a new owner. ErrDuplicate if the id exists.
	CreateOwner(ctx context.Context, o *model.Owner) error

	// GetOwner retrieves an owner by id. ErrNotFound if absent.
	GetOwner(ctx context.Context, id string) (*model.Owner, error)

	// ListOwners returns all owners.
	ListOwners(ctx context.Context) ([]model.Owner, error)

	// RenameOwner changes an owner's display name.
	RenameOwner(ctx context.Context, id, name string) error

	// DeleteOwner removes an owner and all their orders, transactions and
	// season records.
	DeleteOwner(ctx context.Context, id string) error

	// --- Rounds ---

	// CreateRound persists a newly scheduled round. ErrDuplicate if a
	// round for the same date exists.
	CreateRound(ctx context.Context, r *model.Round) error

	// GetRound retrieves a round by id.
	GetRound(ctx context.Context, id string) (*model.Round, error)

	// GetRoundByDate retrieves the round for a market-local date.
	GetRoundByDate(ctx context.Context, date string) (*model.Round, error)

	// RoundInStatus returns the most recent round in the given status,
	// or ErrNotFound. At most one round is ever open or scheduled.
	RoundInStatus(ctx context.Context, status string) (*model.Round, error)

	// SetRoundStatus performs a guarded transition from→to.
	// ErrConflict if the stored status is not `from`.
	SetRoundStatus(ctx context.Context, id, from, to string) error

	// CancelRoundsBefore cancels scheduled or open rounds older than the
	// given date. Their orders simply never settle; production cost is
	// only charged at settlement, so there is nothing to refund.
	CancelRoundsBefore(ctx context.Context, date string) error

	// --- Orders ---

	// UpsertOrder stores an order, replacing any previous order by the
	// same owner for the same round (last write wins).
	UpsertOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves one owner's order for a round.
	GetOrder(ctx context.Context, ownerID, roundID string) (*model.Order, error)

	// OrdersByRound returns all orders for a round.
	OrdersByRound(ctx context.Context, roundID string) ([]model.Order, error)

	// --- Settlement and history ---

	// ApplySettlement atomically marks the round settled, records its
	// actual sales, appends every transaction, and updates every owner
	// balance. ErrAlreadySettled if the round was settled before;
	// ErrConflict if it is not closed.
	ApplySettlement(ctx context.Context, s *Settlement) error

	// TransactionsByRound returns the settled transactions of one round.
	TransactionsByRound(ctx context.Context, roundID string) ([]model.Transaction, error)

	// TransactionsByOwner returns an owner's history, oldest first.
	TransactionsByOwner(ctx context.Context, ownerID string) ([]model.Transaction, error)

	// --- Seasons ---

	// CreateSeason persists a season (used for the very first one).
	CreateSeason(ctx context.Context, s *model.Season) error

	// ActiveSeason returns the season without an end timestamp.
	ActiveSeason(ctx context.Context) (*model.Season, error)

	// ResetSeason atomically ends the active season, snapshots standings,
	// awards badges, resets all balances to seed money, and starts the
	// next season.
	ResetSeason(ctx context.Context, r *Reset) error

	// SeasonRecords returns the final standings of an ended season.
	SeasonRecords(ctx context.Context, seasonID string) ([]model.SeasonRecord, error)
}
