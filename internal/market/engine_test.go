package market_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/store"
)

const testDate = "2026-08-29"

var seedMoney = decimal.NewFromInt(5000)

type testEnv struct {
	engine *market.Engine
	store  *store.MemoryStore
	clk    *clock.Fixed
	// mirror draws the same random sequence as the engine's demand model,
	// so tests can predict the realized sales of the next settlement.
	mirror *demand.Model
}

// newTestEnv builds an engine over the in-memory store with a fixed clock
// set inside the trading window of testDate (09:00–18:00 JST).
func newTestEnv(t *testing.T, seed int64) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	sched, err := clock.NewSchedule("09:00", "18:00", 9)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	// 10:00 JST on testDate.
	clk := clock.NewFixed(time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC))

	dm := demand.New(demand.DefaultBaselines(), rand.New(rand.NewSource(seed)))
	mirror := demand.New(demand.DefaultBaselines(), rand.New(rand.NewSource(seed)))
	e := market.NewEngine(ms, dm, sched, clk, market.DefaultPrices(), seedMoney)

	if err := ms.CreateSeason(context.Background(), &model.Season{
		ID:        "season-1",
		Number:    1,
		StartedAt: clk.Now(),
	}); err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	return &testEnv{engine: e, store: ms, clk: clk, mirror: mirror}
}

func (env *testEnv) register(t *testing.T, id string) *model.Owner {
	t.Helper()
	o, err := env.engine.Register(context.Background(), id, id)
	if err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	return o
}

// openRound schedules testDate's round with the given weather and opens it.
func (env *testEnv) openRound(t *testing.T, category string) *model.Round {
	t.Helper()
	ctx := context.Background()
	r, err := env.engine.ScheduleRound(ctx, testDate, "Osaka", model.Forecast{
		Category:   category,
		Summary:    category + " all day",
		ReportedAt: env.clk.Now(),
	})
	if err != nil {
		t.Fatalf("ScheduleRound: %v", err)
	}
	if err := env.engine.OpenRound(ctx, r.ID); err != nil {
		t.Fatalf("OpenRound: %v", err)
	}
	return r
}

// closeRound moves the clock past the closing bell and closes the round.
func (env *testEnv) closeRound(t *testing.T, roundID string) {
	t.Helper()
	env.clk.Set(time.Date(2026, 8, 29, 9, 0, 1, 0, time.UTC)) // 18:00:01 JST
	if err := env.engine.CloseRound(context.Background(), roundID); err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
}

func balanceOf(t *testing.T, env *testEnv, id string) decimal.Decimal {
	t.Helper()
	o, err := env.store.GetOwner(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOwner(%s): %v", id, err)
	}
	return o.Balance
}

// --- Orders ---

func TestPlaceOrder_Accepted(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	receipt, err := env.engine.PlaceOrder(context.Background(), "ball", 125)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if receipt.RoundID != r.ID {
		t.Errorf("round_id = %s, want %s", receipt.RoundID, r.ID)
	}
	if receipt.Quantity != 125 {
		t.Errorf("quantity = %d, want 125", receipt.Quantity)
	}
	if !receipt.EstimatedCost.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("estimated_cost = %s, want 5000", receipt.EstimatedCost)
	}
	// Placing an order never touches the balance; cost lands at settlement.
	if !balanceOf(t, env, "ball").Equal(seedMoney) {
		t.Errorf("balance changed on order: %s", balanceOf(t, env, "ball"))
	}
}

func TestPlaceOrder_NegativeQuantity(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	env.openRound(t, forecast.Sunny)

	_, err := env.engine.PlaceOrder(context.Background(), "ball", -1)
	if !errors.Is(err, market.ErrInvalidQuantity) {
		t.Errorf("error = %v, want ErrInvalidQuantity", err)
	}
}

func TestPlaceOrder_UnknownOwner(t *testing.T) {
	env := newTestEnv(t, 1)
	env.openRound(t, forecast.Sunny)

	_, err := env.engine.PlaceOrder(context.Background(), "nobody", 10)
	if !errors.Is(err, market.ErrUnknownOwner) {
		t.Errorf("error = %v, want ErrUnknownOwner", err)
	}
}

func TestPlaceOrder_NoOpenRound(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")

	_, err := env.engine.PlaceOrder(context.Background(), "ball", 10)
	if !errors.Is(err, market.ErrRoundNotOpen) {
		t.Errorf("error = %v, want ErrRoundNotOpen", err)
	}
}

func TestPlaceOrder_AfterClosingBell(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	env.openRound(t, forecast.Sunny)

	// The round status is still open but the window has passed; the order
	// must be rejected, not raced into settlement.
	env.clk.Set(time.Date(2026, 8, 29, 9, 0, 1, 0, time.UTC))
	_, err := env.engine.PlaceOrder(context.Background(), "ball", 10)
	if !errors.Is(err, market.ErrRoundNotOpen) {
		t.Errorf("error = %v, want ErrRoundNotOpen", err)
	}
}

func TestPlaceOrder_LastWriteWins(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	ctx := context.Background()
	if _, err := env.engine.PlaceOrder(ctx, "ball", 100); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if _, err := env.engine.PlaceOrder(ctx, "ball", 30); err != nil {
		t.Fatalf("second order: %v", err)
	}

	o, err := env.engine.Order(ctx, "ball", r.ID)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if o.Quantity != 30 {
		t.Errorf("quantity = %d, want 30 (replacement)", o.Quantity)
	}
	orders, _ := env.store.OrdersByRound(ctx, r.ID)
	if len(orders) != 1 {
		t.Errorf("expected 1 order after replacement, got %d", len(orders))
	}
}

func TestPlaceOrder_WithdrawWithZero(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 100)
	if _, err := env.engine.PlaceOrder(ctx, "ball", 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	o, _ := env.engine.Order(ctx, "ball", r.ID)
	if o == nil || o.Quantity != 0 {
		t.Fatalf("expected standing zero order, got %+v", o)
	}
}

// --- Settlement ---

func TestSettle_SunnyProfit(t *testing.T) {
	env := newTestEnv(t, 42)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 125)
	env.closeRound(t, r.ID)

	res, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// Sunny demand never dips below 400, so all 125 sell:
	// 5000 + 125×50 − 125×40 = 6250.
	want := decimal.NewFromInt(6250)
	if !balanceOf(t, env, "ball").Equal(want) {
		t.Errorf("balance = %s, want %s", balanceOf(t, env, "ball"), want)
	}
	if len(res.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(res.Transactions))
	}
	tx := res.Transactions[0]
	if tx.Sold != 125 || tx.Ordered != 125 {
		t.Errorf("sold/ordered = %d/%d, want 125/125", tx.Sold, tx.Ordered)
	}
	if !tx.Net.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("net = %s, want 1250", tx.Net)
	}
	if res.Round.Status != model.RoundSettled {
		t.Errorf("round status = %s, want settled", res.Round.Status)
	}
	if res.Round.Weather != forecast.Sunny {
		t.Errorf("weather = %s, want sunny", res.Round.Weather)
	}
}

func TestSettle_RainyOverproductionLoss(t *testing.T) {
	env := newTestEnv(t, 42)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Rainy)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 500)
	env.closeRound(t, r.ID)

	predicted := env.mirror.Actual(model.Forecast{Category: forecast.Rainy})
	res, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.Round.ActualSales != predicted {
		t.Fatalf("actual sales = %d, want %d (same seed)", res.Round.ActualSales, predicted)
	}
	tx := res.Transactions[0]
	if tx.Sold != predicted {
		t.Errorf("sold = %d, want realized demand %d", tx.Sold, predicted)
	}
	// 500 units at cost 40 against at most 120 sold: a deep loss, and the
	// balance goes negative without any clamping.
	want := seedMoney.
		Add(decimal.NewFromInt(predicted * 50)).
		Sub(decimal.NewFromInt(500 * 40))
	if !balanceOf(t, env, "ball").Equal(want) {
		t.Errorf("balance = %s, want %s", balanceOf(t, env, "ball"), want)
	}
	if !balanceOf(t, env, "ball").IsNegative() {
		t.Errorf("balance should be negative, got %s", balanceOf(t, env, "ball"))
	}
}

func TestSettle_NoOrderUnchanged(t *testing.T) {
	env := newTestEnv(t, 3)
	env.register(t, "ball")
	env.register(t, "idle")
	r := env.openRound(t, forecast.Sunny)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 50)
	env.closeRound(t, r.ID)

	res, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !balanceOf(t, env, "idle").Equal(seedMoney) {
		t.Errorf("idle balance = %s, want unchanged %s", balanceOf(t, env, "idle"), seedMoney)
	}
	for _, tx := range res.Transactions {
		if tx.OwnerID == "idle" {
			t.Error("idle owner should have no transaction")
		}
	}
}

func TestSettle_Idempotent(t *testing.T) {
	env := newTestEnv(t, 9)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Cloudy)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 80)
	env.closeRound(t, r.ID)

	first, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	balance := balanceOf(t, env, "ball")

	second, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if second.Round.ActualSales != first.Round.ActualSales {
		t.Errorf("actual sales changed: %d vs %d", second.Round.ActualSales, first.Round.ActualSales)
	}
	if len(second.Transactions) != len(first.Transactions) {
		t.Errorf("transaction count changed: %d vs %d", len(second.Transactions), len(first.Transactions))
	}
	if !balanceOf(t, env, "ball").Equal(balance) {
		t.Errorf("balance changed by repeat settlement: %s vs %s", balanceOf(t, env, "ball"), balance)
	}
	txs, _ := env.store.TransactionsByOwner(ctx, "ball")
	if len(txs) != 1 {
		t.Errorf("expected 1 stored transaction, got %d", len(txs))
	}
}

func TestSettle_NotClosed(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	_, err := env.engine.Settle(context.Background(), r.ID)
	if !errors.Is(err, market.ErrRoundNotClosed) {
		t.Errorf("error = %v, want ErrRoundNotClosed", err)
	}
}

func TestSettle_SoldBoundedByOrderAndDemand(t *testing.T) {
	env := newTestEnv(t, 11)
	env.register(t, "small")
	env.register(t, "big")
	r := env.openRound(t, forecast.Cloudy)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "small", 10)
	env.engine.PlaceOrder(ctx, "big", 10000)
	env.closeRound(t, r.ID)

	res, err := env.engine.Settle(ctx, r.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	actual := res.Round.ActualSales
	for _, tx := range res.Transactions {
		if tx.Sold > tx.Ordered {
			t.Errorf("%s sold %d > ordered %d", tx.OwnerID, tx.Sold, tx.Ordered)
		}
		if tx.Sold > actual {
			t.Errorf("%s sold %d > realized demand %d", tx.OwnerID, tx.Sold, actual)
		}
	}
	// Each owner sells against the full demand independently.
	for _, tx := range res.Transactions {
		switch tx.OwnerID {
		case "small":
			if tx.Sold != 10 {
				t.Errorf("small sold %d, want 10", tx.Sold)
			}
		case "big":
			if tx.Sold != actual {
				t.Errorf("big sold %d, want full demand %d", tx.Sold, actual)
			}
		}
	}
}

func TestAllocate(t *testing.T) {
	cases := []struct {
		ordered, actual, want int64
	}{
		{125, 200, 125},
		{500, 100, 100},
		{0, 300, 0},
		{300, 0, 0},
		{100, 100, 100},
	}
	for _, c := range cases {
		if got := market.Allocate(c.ordered, c.actual); got != c.want {
			t.Errorf("Allocate(%d, %d) = %d, want %d", c.ordered, c.actual, got, c.want)
		}
	}
}

func TestRankOwners_TieBreak(t *testing.T) {
	owners := []model.Owner{
		{ID: "c", Balance: decimal.NewFromInt(100)},
		{ID: "a", Balance: decimal.NewFromInt(100)},
		{ID: "b", Balance: decimal.NewFromInt(300)},
	}
	market.RankOwners(owners)

	want := []string{"b", "a", "c"}
	for i, id := range want {
		if owners[i].ID != id {
			t.Fatalf("position %d = %s, want %s (got order %v)", i, owners[i].ID, id, owners)
		}
	}
}

func TestRegister_TwiceRenames(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")

	o, err := env.engine.Register(context.Background(), "ball", "Ball-2")
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if o.Name != "Ball-2" {
		t.Errorf("name = %s, want Ball-2", o.Name)
	}
	if !o.Balance.Equal(seedMoney) {
		t.Errorf("balance = %s, want untouched %s", o.Balance, seedMoney)
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, "ball")
	r := env.openRound(t, forecast.Sunny)

	ctx := context.Background()
	env.engine.PlaceOrder(ctx, "ball", 40)

	st, err := env.engine.GetStatus(ctx, "ball")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Round == nil || st.Round.ID != r.ID {
		t.Fatalf("status round = %+v, want %s", st.Round, r.ID)
	}
	if st.Expected != 500 {
		t.Errorf("expected_sales = %d, want 500", st.Expected)
	}
	if st.Order == nil || st.Order.Quantity != 40 {
		t.Errorf("order = %+v, want quantity 40", st.Order)
	}
	if len(st.Leaderboard) != 1 || st.Leaderboard[0].Name != "ball" {
		t.Errorf("leaderboard = %+v, want single entry for ball", st.Leaderboard)
	}
}
