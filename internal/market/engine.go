// Package market implements the round lifecycle: scheduling, order intake,
// and settlement. One round exists per market-local date and moves
// scheduled → open → closed → settled.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/store"
)

// Prices holds the fixed unit economics of a round.
type Prices struct {
	Cost decimal.Decimal // charged per unit ordered
	Sell decimal.Decimal // earned per unit sold
}

// DefaultPrices mirrors the classic market: make for 40, sell for 50.
func DefaultPrices() Prices {
	return Prices{
		Cost: decimal.NewFromInt(40),
		Sell: decimal.NewFromInt(50),
	}
}

// Engine handles round operations. Settlement is serialized with a mutex
// (single-instance); the store's guarded status transition keeps a second
// instance from double-settling even without the lock.
type Engine struct {
	store    store.Store
	demand   *demand.Model
	schedule *clock.Schedule
	clk      clock.Clock
	prices   Prices
	seed     decimal.Decimal

	mu sync.Mutex
}

// NewEngine creates a market engine.
func NewEngine(st store.Store, dm *demand.Model, sched *clock.Schedule, clk clock.Clock, prices Prices, seedMoney decimal.Decimal) *Engine {
	return &Engine{
		store:    st,
		demand:   dm,
		schedule: sched,
		clk:      clk,
		prices:   prices,
		seed:     seedMoney,
	}
}

// Prices returns the engine's unit economics.
func (e *Engine) Prices() Prices { return e.prices }

// ExpectedSales returns the demand expected under a forecast.
func (e *Engine) ExpectedSales(f model.Forecast) int64 { return e.demand.Expected(f) }

// --- Owners ---

// Register creates an owner with the seed balance. Registering an existing
// id updates the display name instead.
func (e *Engine) Register(ctx context.Context, id, name string) (*model.Owner, error) {
	now := e.clk.Now()
	o := &model.Owner{
		ID:        id,
		Name:      name,
		Balance:   e.seed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.store.CreateOwner(ctx, o)
	if errors.Is(err, store.ErrDuplicate) {
		if err := e.store.RenameOwner(ctx, id, name); err != nil {
			return nil, err
		}
		return e.store.GetOwner(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("owner registered", "owner", id, "name", name, "balance", e.seed.String())
	return o, nil
}

// Unregister removes an owner and all their records.
func (e *Engine) Unregister(ctx context.Context, id string) error {
	err := e.store.DeleteOwner(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownOwner, id)
	}
	return err
}

// --- Rounds ---

// ScheduleRound creates the round for a market-local date with its captured
// forecast. The open/close bounds come from the daily schedule.
func (e *Engine) ScheduleRound(ctx context.Context, date, place string, f model.Forecast) (*model.Round, error) {
	opensAt, closesAt, err := e.schedule.Bounds(date)
	if err != nil {
		return nil, err
	}
	season, err := e.store.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	r := &model.Round{
		ID:        uuid.New().String(),
		Date:      date,
		Place:     place,
		OpensAt:   opensAt,
		ClosesAt:  closesAt,
		Forecast:  f,
		Status:    model.RoundScheduled,
		SeasonID:  season.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRound(ctx, r); err != nil {
		return nil, err
	}
	slog.Info("round scheduled",
		"round", r.ID,
		"date", date,
		"place", place,
		"weather", f.Category,
		"expected", e.demand.Expected(f),
	)
	return r, nil
}

// OpenRound transitions a scheduled round to open.
func (e *Engine) OpenRound(ctx context.Context, roundID string) error {
	if err := e.store.SetRoundStatus(ctx, roundID, model.RoundScheduled, model.RoundOpen); err != nil {
		return err
	}
	slog.Info("round opened", "round", roundID)
	return nil
}

// CloseRound transitions an open round to closed. No orders are accepted
// afterwards.
func (e *Engine) CloseRound(ctx context.Context, roundID string) error {
	if err := e.store.SetRoundStatus(ctx, roundID, model.RoundOpen, model.RoundClosed); err != nil {
		return err
	}
	slog.Info("round closed", "round", roundID)
	return nil
}

// CancelStaleRounds cancels rounds from past dates that never settled, for
// example after the process was down over their close time. Cost is charged
// only at settlement, so canceled orders have no monetary effect.
func (e *Engine) CancelStaleRounds(ctx context.Context, today string) error {
	return e.store.CancelRoundsBefore(ctx, today)
}

// CurrentRound returns the round currently accepting orders, or the next
// scheduled one if none is open. ErrNotFound from the store if neither exists.
func (e *Engine) CurrentRound(ctx context.Context) (*model.Round, error) {
	r, err := e.store.RoundInStatus(ctx, model.RoundOpen)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.store.RoundInStatus(ctx, model.RoundScheduled)
}

// NextRound returns the next scheduled round.
func (e *Engine) NextRound(ctx context.Context) (*model.Round, error) {
	return e.store.RoundInStatus(ctx, model.RoundScheduled)
}

// LatestSettledRound returns the most recently settled round.
func (e *Engine) LatestSettledRound(ctx context.Context) (*model.Round, error) {
	return e.store.RoundInStatus(ctx, model.RoundSettled)
}

// --- Orders ---

// OrderReceipt confirms an accepted order.
type OrderReceipt struct {
	RoundID       string          `json:"round_id"`
	Date          string          `json:"date"`
	Place         string          `json:"place"`
	Quantity      int64           `json:"quantity"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"` // charged at settlement
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// PlaceOrder records an owner's production order for the open round,
// replacing any earlier order for the same round. Quantity zero withdraws.
// The balance is not checked; a losing day may drive it negative and the
// owner keeps playing.
func (e *Engine) PlaceOrder(ctx context.Context, ownerID string, quantity int64) (*OrderReceipt, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if _, err := e.store.GetOwner(ctx, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
		}
		return nil, err
	}

	r, err := e.store.RoundInStatus(ctx, model.RoundOpen)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoundNotOpen
		}
		return nil, err
	}
	now := e.clk.Now()
	// The scheduler may lag behind the close time by up to one tick; orders
	// in that gap are rejected, not raced into the closing round.
	if now.Before(r.OpensAt) || !now.Before(r.ClosesAt) {
		return nil, ErrRoundNotOpen
	}

	o := &model.Order{
		OwnerID:     ownerID,
		RoundID:     r.ID,
		Quantity:    quantity,
		SubmittedAt: now,
	}
	if err := e.store.UpsertOrder(ctx, o); err != nil {
		return nil, err
	}

	metrics.OrdersTotal.Inc()
	slog.Info("order placed",
		"owner", ownerID,
		"round", r.ID,
		"date", r.Date,
		"quantity", quantity,
	)
	return &OrderReceipt{
		RoundID:       r.ID,
		Date:          r.Date,
		Place:         r.Place,
		Quantity:      quantity,
		EstimatedCost: e.prices.Cost.Mul(decimal.NewFromInt(quantity)),
		SubmittedAt:   now,
	}, nil
}

// Order returns an owner's order for a round, or nil if none exists.
func (e *Engine) Order(ctx context.Context, ownerID, roundID string) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, ownerID, roundID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// --- Status and history ---

// Status is one owner's view of the market.
type Status struct {
	Owner       model.Owner              `json:"owner"`
	Round       *model.Round             `json:"round,omitempty"` // open or next scheduled
	Expected    int64                    `json:"expected_sales"`  // demand under the forecast
	Order       *model.Order             `json:"order,omitempty"` // owner's order for that round
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`     // top owners by balance
}

// statusTopN bounds the leaderboard slice embedded in a status snapshot.
const statusTopN = 5

// GetStatus assembles an owner's market snapshot.
func (e *Engine) GetStatus(ctx context.Context, ownerID string) (*Status, error) {
	o, err := e.store.GetOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
		}
		return nil, err
	}
	st := &Status{Owner: *o}

	lb, err := e.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	if len(lb) > statusTopN {
		lb = lb[:statusTopN]
	}
	st.Leaderboard = lb

	r, err := e.CurrentRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Round = r
	st.Expected = e.demand.Expected(r.Forecast)

	order, err := e.Order(ctx, ownerID, r.ID)
	if err != nil {
		return nil, err
	}
	st.Order = order
	return st, nil
}

// History returns an owner's settled transactions, oldest first.
func (e *Engine) History(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	if _, err := e.store.GetOwner(ctx, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
		}
		return nil, err
	}
	return e.store.TransactionsByOwner(ctx, ownerID)
}

// Leaderboard returns all owners ranked by balance, richest first. Ties
// break on the smaller id so the order is stable.
func (e *Engine) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	owners, err := e.store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	RankOwners(owners)
	entries := make([]model.LeaderboardEntry, 0, len(owners))
	for _, o := range owners {
		entries = append(entries, model.LeaderboardEntry{
			Name:    o.Name,
			Balance: o.Balance,
			Badges:  o.Badges,
		})
	}
	return entries, nil
}
