package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/store"
)

// Allocate decides how many units one owner sells given their stock and the
// day's realized demand. Each owner sells against the full demand
// independently; owners do not compete for it. Swap this function to change
// the allocation policy.
func Allocate(ordered, actual int64) int64 {
	if ordered < actual {
		return ordered
	}
	return actual
}

// SettlementResult is the outcome of settling one round.
type SettlementResult struct {
	Round        model.Round         `json:"round"`
	Transactions []model.Transaction `json:"transactions"`
}

// Settle realizes the demand for a closed round and commits one transaction
// per ordering owner: revenue for units sold, cost for every unit ordered,
// whether it sold or not. Settling an already settled round returns the
// stored result unchanged.
func (e *Engine) Settle(ctx context.Context, roundID string) (*SettlementResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case model.RoundSettled:
		return e.settledResult(ctx, r)
	case model.RoundClosed:
		// proceed
	default:
		return nil, fmt.Errorf("%w: round %s is %s", ErrRoundNotClosed, roundID, r.Status)
	}
	defer func(start time.Time) {
		metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	}(time.Now())

	actual := e.demand.Actual(r.Forecast)
	orders, err := e.store.OrdersByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	entries := make([]model.Transaction, 0, len(orders))
	for _, o := range orders {
		owner, err := e.store.GetOwner(ctx, o.OwnerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Owner left after ordering; their order just lapses.
				continue
			}
			return nil, err
		}
		sold := Allocate(o.Quantity, actual)
		revenue := e.prices.Sell.Mul(decimal.NewFromInt(sold))
		cost := e.prices.Cost.Mul(decimal.NewFromInt(o.Quantity))
		net := revenue.Sub(cost)

		entries = append(entries, model.Transaction{
			ID:        uuid.New().String(),
			OwnerID:   o.OwnerID,
			RoundID:   roundID,
			Date:      r.Date,
			Ordered:   o.Quantity,
			Sold:      sold,
			Revenue:   revenue,
			Cost:      cost,
			Net:       net,
			Balance:   owner.Balance.Add(net),
			Timestamp: now,
		})
	}

	st := &store.Settlement{
		RoundID:     roundID,
		ActualSales: actual,
		Weather:     r.Forecast.Category,
		Entries:     entries,
	}
	if err := e.store.ApplySettlement(ctx, st); err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			// Another instance won the race; their result stands.
			r, err := e.store.GetRound(ctx, roundID)
			if err != nil {
				return nil, err
			}
			return e.settledResult(ctx, r)
		}
		return nil, err
	}

	r.ActualSales = actual
	r.Weather = r.Forecast.Category
	r.Status = model.RoundSettled

	metrics.SettlementsTotal.WithLabelValues(r.Weather).Inc()
	slog.Info("round settled",
		"round", roundID,
		"date", r.Date,
		"weather", r.Weather,
		"actual_sales", actual,
		"owners", len(entries),
	)
	return &SettlementResult{Round: *r, Transactions: entries}, nil
}

// settledResult rebuilds the settlement outcome from stored records.
func (e *Engine) settledResult(ctx context.Context, r *model.Round) (*SettlementResult, error) {
	txs, err := e.store.TransactionsByRound(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &SettlementResult{Round: *r, Transactions: txs}, nil
}

// RoundResult returns the stored outcome of a settled round.
func (e *Engine) RoundResult(ctx context.Context, roundID string) (*SettlementResult, error) {
	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RoundSettled {
		return nil, fmt.Errorf("%w: round %s is %s", ErrRoundNotClosed, roundID, r.Status)
	}
	return e.settledResult(ctx, r)
}
