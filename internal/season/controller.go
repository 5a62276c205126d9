// Package season ends a season when any owner reaches the target balance
// and resets the market for the next one.
package season

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/store"
)

// Controller watches balances after each settlement and performs the season
// rollover.
type Controller struct {
	store  store.Store
	clk    clock.Clock
	target decimal.Decimal
	seed   decimal.Decimal
}

// NewController creates a season controller.
func NewController(st store.Store, clk clock.Clock, target, seedMoney decimal.Decimal) *Controller {
	return &Controller{
		store:  st,
		clk:    clk,
		target: target,
		seed:   seedMoney,
	}
}

// Target returns the winning balance threshold.
func (c *Controller) Target() decimal.Decimal { return c.target }

// Ensure guarantees an active season exists, creating season 1 on a fresh
// store.
func (c *Controller) Ensure(ctx context.Context) (*model.Season, error) {
	season, err := c.store.ActiveSeason(ctx)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	season = &model.Season{
		ID:        uuid.New().String(),
		Number:    1,
		StartedAt: c.clk.Now(),
	}
	if err := c.store.CreateSeason(ctx, season); err != nil {
		return nil, err
	}
	slog.Info("season started", "season", season.ID, "number", season.Number)
	return season, nil
}

// Outcome describes a finished season.
type Outcome struct {
	Season  model.Season         `json:"season"`
	Winner  model.Owner          `json:"winner"`
	Records []model.SeasonRecord `json:"records"`
	Next    model.Season         `json:"next"`
}

// CheckAndAdvance ends the active season if any owner's balance has reached
// the target (reaching it exactly wins). It snapshots final standings,
// awards a badge to every owner at or above the target, resets all balances
// to seed money, and starts the next season. Returns nil when the season
// continues.
func (c *Controller) CheckAndAdvance(ctx context.Context) (*Outcome, error) {
	owners, err := c.store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}

	var badgeWinners []string
	for _, o := range owners {
		if o.Balance.GreaterThanOrEqual(c.target) {
			badgeWinners = append(badgeWinners, o.ID)
		}
	}
	if len(badgeWinners) == 0 {
		return nil, nil
	}

	season, err := c.store.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}

	market.RankOwners(owners)
	winner := owners[0]
	now := c.clk.Now()

	records := make([]model.SeasonRecord, 0, len(owners))
	for _, o := range owners {
		records = append(records, model.SeasonRecord{
			SeasonID:  season.ID,
			OwnerID:   o.ID,
			Name:      o.Name,
			Balance:   o.Balance,
			Target:    c.target,
			Rank:      rankOf(owners, o),
			Timestamp: now,
		})
	}

	next := model.Season{
		ID:        uuid.New().String(),
		Number:    season.Number + 1,
		StartedAt: now,
	}
	reset := &store.Reset{
		SeasonID:     season.ID,
		EndedAt:      now,
		WinnerID:     winner.ID,
		Records:      records,
		BadgeWinners: badgeWinners,
		SeedMoney:    c.seed,
		Next:         next,
	}
	if err := c.store.ResetSeason(ctx, reset); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another instance already rolled the season over.
			return nil, nil
		}
		return nil, err
	}

	season.EndedAt = now
	season.WinnerID = winner.ID

	metrics.SeasonsTotal.Inc()
	slog.Info("season ended",
		"season", season.ID,
		"number", season.Number,
		"winner", winner.ID,
		"balance", winner.Balance.String(),
		"badges_awarded", len(badgeWinners),
		"next", next.Number,
	)
	return &Outcome{
		Season:  *season,
		Winner:  winner,
		Records: records,
		Next:    next,
	}, nil
}

// rankOf is one plus the number of owners with a strictly greater balance,
// so equal balances share a rank.
func rankOf(ranked []model.Owner, o model.Owner) int {
	rank := 1
	for _, other := range ranked {
		if other.Balance.GreaterThan(o.Balance) {
			rank++
		}
	}
	return rank
}
