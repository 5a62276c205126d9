// Package scheduler drives the daily round lifecycle from a polling loop:
// schedule tomorrow's round, open at the opening bell, close and settle at
// the closing bell, then hand the balances to the season controller.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/place"
	"github.com/kumanofoo/tako/internal/season"
	"github.com/kumanofoo/tako/internal/store"
)

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	RoundOpened(r model.Round)
	RoundSettled(res market.SettlementResult)
	SeasonEnded(o season.Outcome)
}

// Scheduler polls the clock and advances whatever round transition is due.
// Every transition is guarded in the store, so a missed tick or a restart
// is caught up on the next poll.
type Scheduler struct {
	engine    *market.Engine
	seasons   *season.Controller
	provider  forecast.Provider
	picker    *place.Picker
	schedule  *clock.Schedule
	clk       clock.Clock
	interval  time.Duration
	notifiers []Notifier
}

// New creates a scheduler.
func New(e *market.Engine, sc *season.Controller, p forecast.Provider, pk *place.Picker, sched *clock.Schedule, clk clock.Clock, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   e,
		seasons:  sc,
		provider: p,
		picker:   pk,
		schedule: sched,
		clk:      clk,
		interval: interval,
	}
}

// Subscribe registers a notifier for lifecycle events.
func (s *Scheduler) Subscribe(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Run polls until ctx is canceled. Errors are logged and retried on the
// next tick; the loop never stops on its own.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		slog.Error("scheduler tick failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick performs one poll: catch up on stale rounds, then advance the
// current round if its boundary has passed, then make sure a round exists
// to advance next time.
func (s *Scheduler) Tick(ctx context.Context) error {
	if _, err := s.seasons.Ensure(ctx); err != nil {
		return err
	}

	now := s.clk.Now()
	today := s.schedule.DateAt(now)
	if err := s.engine.CancelStaleRounds(ctx, today); err != nil {
		return err
	}

	r, err := s.engine.CurrentRound(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.scheduleNext(ctx, now)
	case err != nil:
		return err
	}

	switch r.Status {
	case model.RoundScheduled:
		if !now.Before(r.ClosesAt) {
			// The whole window passed unopened, likely downtime. Skip it.
			return s.engine.CancelStaleRounds(ctx, s.schedule.DateAt(now.Add(24*time.Hour)))
		}
		if !now.Before(r.OpensAt) {
			if err := s.engine.OpenRound(ctx, r.ID); err != nil {
				return err
			}
			r.Status = model.RoundOpen
			metrics.OpenRound.Set(1)
			for _, n := range s.notifiers {
				n.RoundOpened(*r)
			}
		}
	case model.RoundOpen:
		if !now.Before(r.ClosesAt) {
			if err := s.closeAndSettle(ctx, r.ID); err != nil {
				return err
			}
			return s.scheduleNext(ctx, now)
		}
	}
	return nil
}

func (s *Scheduler) closeAndSettle(ctx context.Context, roundID string) error {
	if err := s.engine.CloseRound(ctx, roundID); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	metrics.OpenRound.Set(0)
	res, err := s.engine.Settle(ctx, roundID)
	if err != nil {
		return err
	}
	for _, n := range s.notifiers {
		n.RoundSettled(*res)
	}

	outcome, err := s.seasons.CheckAndAdvance(ctx)
	if err != nil {
		return err
	}
	if outcome != nil {
		for _, n := range s.notifiers {
			n.SeasonEnded(*outcome)
		}
	}
	return nil
}

// scheduleNext creates the next round, capturing its place and forecast.
// Forecast failures degrade to the fallback category so a dead weather
// service never stops the market.
func (s *Scheduler) scheduleNext(ctx context.Context, now time.Time) error {
	date := s.schedule.NextDate(now)
	pl := s.picker.Pick()
	if _, err := s.engine.ScheduleRound(ctx, date, pl, s.fetchForecast(ctx, pl, date, now)); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A round for that date already exists (settled today's round
			// while tomorrow's was scheduled earlier, or a racing instance).
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) fetchForecast(ctx context.Context, pl, date string, now time.Time) model.Forecast {
	f, err := s.provider.Fetch(ctx, pl, date)
	if err != nil {
		slog.Warn("forecast fetch failed, using fallback", "place", pl, "date", date, "error", err)
	}
	return forecast.Fallback(f, err, now)
}
