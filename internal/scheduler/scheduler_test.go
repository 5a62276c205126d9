package scheduler_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/place"
	"github.com/kumanofoo/tako/internal/scheduler"
	"github.com/kumanofoo/tako/internal/season"
	"github.com/kumanofoo/tako/internal/store"
)

// recorder captures lifecycle notifications.
type recorder struct {
	opened  []model.Round
	settled []market.SettlementResult
	ended   []season.Outcome
}

func (r *recorder) RoundOpened(rd model.Round)               { r.opened = append(r.opened, rd) }
func (r *recorder) RoundSettled(res market.SettlementResult) { r.settled = append(r.settled, res) }
func (r *recorder) SeasonEnded(o season.Outcome)             { r.ended = append(r.ended, o) }

type testEnv struct {
	sch    *scheduler.Scheduler
	engine *market.Engine
	store  *store.MemoryStore
	clk    *clock.Fixed
	rec    *recorder
}

// newTestEnv wires a scheduler over the in-memory store. The clock starts
// at 05:00 JST on 2026-08-29, before the market opens. Every round is sunny.
func newTestEnv(t *testing.T, target int64) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	sched, err := clock.NewSchedule("09:00", "18:00", 9)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	clk := clock.NewFixed(time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC))

	seed := decimal.NewFromInt(5000)
	dm := demand.New(demand.DefaultBaselines(), rand.New(rand.NewSource(1)))
	engine := market.NewEngine(ms, dm, sched, clk, market.DefaultPrices(), seed)
	seasons := season.NewController(ms, clk, decimal.NewFromInt(target), seed)

	provider := forecast.Static{Forecast: model.Forecast{Category: forecast.Sunny, Summary: "clear"}}
	picker := place.NewPickerWithRoster(rand.New(rand.NewSource(1)), []string{"Osaka"})

	sch := scheduler.New(engine, seasons, provider, picker, sched, clk, time.Minute)
	rec := &recorder{}
	sch.Subscribe(rec)

	return &testEnv{sch: sch, engine: engine, store: ms, clk: clk, rec: rec}
}

func (env *testEnv) tick(t *testing.T) {
	t.Helper()
	if err := env.sch.Tick(context.Background()); err != nil {
		t.Fatalf("Tick at %v: %v", env.clk.Now(), err)
	}
}

func TestTick_SchedulesTodayBeforeOpen(t *testing.T) {
	env := newTestEnv(t, 30000)
	env.tick(t)

	r, err := env.store.RoundInStatus(context.Background(), model.RoundScheduled)
	if err != nil {
		t.Fatalf("no scheduled round: %v", err)
	}
	if r.Date != "2026-08-29" {
		t.Errorf("date = %s, want 2026-08-29", r.Date)
	}
	if r.Place != "Osaka" {
		t.Errorf("place = %s, want Osaka", r.Place)
	}
	if r.Forecast.Category != forecast.Sunny {
		t.Errorf("forecast = %s, want sunny", r.Forecast.Category)
	}

	// An idle tick changes nothing.
	env.tick(t)
	again, _ := env.store.RoundInStatus(context.Background(), model.RoundScheduled)
	if again.ID != r.ID {
		t.Errorf("idle tick replaced the round: %s vs %s", again.ID, r.ID)
	}
}

func TestTick_FullDayCycle(t *testing.T) {
	env := newTestEnv(t, 30000)
	ctx := context.Background()
	env.tick(t)

	// 10:00 JST: the round opens.
	env.clk.Set(time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC))
	env.tick(t)
	if len(env.rec.opened) != 1 {
		t.Fatalf("expected 1 round_opened, got %d", len(env.rec.opened))
	}

	env.engine.Register(ctx, "ball", "ball")
	if _, err := env.engine.PlaceOrder(ctx, "ball", 125); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// 18:00 JST: close, settle, schedule tomorrow.
	env.clk.Set(time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	env.tick(t)

	if len(env.rec.settled) != 1 {
		t.Fatalf("expected 1 round_settled, got %d", len(env.rec.settled))
	}
	res := env.rec.settled[0]
	if res.Round.Status != model.RoundSettled {
		t.Errorf("round status = %s, want settled", res.Round.Status)
	}
	if len(res.Transactions) != 1 || res.Transactions[0].Sold != 125 {
		t.Errorf("unexpected transactions: %+v", res.Transactions)
	}
	o, _ := env.store.GetOwner(ctx, "ball")
	if !o.Balance.Equal(decimal.NewFromInt(6250)) {
		t.Errorf("balance = %s, want 6250", o.Balance)
	}

	next, err := env.store.RoundInStatus(ctx, model.RoundScheduled)
	if err != nil {
		t.Fatalf("tomorrow's round missing: %v", err)
	}
	if next.Date != "2026-08-30" {
		t.Errorf("next date = %s, want 2026-08-30", next.Date)
	}
	if len(env.rec.ended) != 0 {
		t.Errorf("season should continue, got %d season_ended", len(env.rec.ended))
	}
}

func TestTick_SeasonRollover(t *testing.T) {
	// Target low enough that one sunny day wins.
	env := newTestEnv(t, 6000)
	ctx := context.Background()
	env.tick(t)

	env.clk.Set(time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC))
	env.tick(t)
	env.engine.Register(ctx, "ball", "ball")
	env.engine.PlaceOrder(ctx, "ball", 125)

	env.clk.Set(time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	env.tick(t)

	if len(env.rec.ended) != 1 {
		t.Fatalf("expected 1 season_ended, got %d", len(env.rec.ended))
	}
	outcome := env.rec.ended[0]
	if outcome.Winner.ID != "ball" {
		t.Errorf("winner = %s, want ball", outcome.Winner.ID)
	}

	o, _ := env.store.GetOwner(ctx, "ball")
	if !o.Balance.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("balance after reset = %s, want 5000", o.Balance)
	}
	if o.Badges != 1 {
		t.Errorf("badges = %d, want 1", o.Badges)
	}
	active, _ := env.store.ActiveSeason(ctx)
	if active.Number != 2 {
		t.Errorf("active season = %d, want 2", active.Number)
	}
}

func TestTick_CancelsStaleRounds(t *testing.T) {
	env := newTestEnv(t, 30000)
	ctx := context.Background()

	// A round left open from two days ago, as after a crash.
	stale := &model.Round{
		ID:     "stale",
		Date:   "2026-08-27",
		Status: model.RoundOpen,
	}
	if err := env.store.CreateRound(ctx, stale); err != nil {
		t.Fatalf("CreateRound: %v", err)
	}

	env.clk.Set(time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC))
	env.tick(t)

	got, err := env.store.GetRound(ctx, "stale")
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if got.Status != model.RoundCanceled {
		t.Errorf("stale round status = %s, want canceled", got.Status)
	}
}
