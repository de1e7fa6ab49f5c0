package bot

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ladder-bot-go/internal/access"
	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/downloader"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/exchange/exchangetest"
	"ladder-bot-go/internal/ladder"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"
	"ladder-bot-go/internal/risk"
	"ladder-bot-go/internal/statemanager"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

func newController(ex exchange.Exchange, now func() time.Time) *controller.Controller {
	engine := ladder.NewEngine(0)
	return controller.New(controller.Config{
		BotID:  "bot-1",
		Engine: engine,
		Orders: orders.NewManager(orders.Config{Engine: engine, Exchange: ex, Logger: zap.NewNop(), Now: now}),
		Risk:   risk.NewManager(time.Minute, decimal.Zero),
		Oracle: oracle.NewStore(),
		Access: access.New("admin"),
		Logger: zap.NewNop(),
		Now:    now,
	})
}

func ladderParams(mode models.RepostMode, budget string, expiry time.Time) models.StrategyParams {
	return models.StrategyParams{
		MakerAsset:     "WETH",
		TakerAsset:     "USDC",
		StartPrice:     d("3000"),
		SpacingPercent: d("50"),
		OrderSize:      d("0.01"),
		NumOrders:      3,
		StrategyType:   models.BuyLadder,
		RepostMode:     mode,
		Budget:         d(budget),
		ExpiryTime:     expiry,
	}
}

type stubFeed struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (f *stubFeed) Run(ctx context.Context) {
	f.started.Store(true)
	<-ctx.Done()
	f.stopped.Store(true)
}

func TestOrderPollingDispatchesFillsAndRefills(t *testing.T) {
	ex := exchangetest.New()
	ctrl := newController(ex, time.Now)
	ctx := context.Background()
	_, err := ctrl.CreateStrategy(ctx, "admin", ladderParams(models.RepostNone, "45", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	report, err := ctrl.PlaceLadderOrders(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, models.PlacementReport{Placed: 2, Skipped: 1}, report)

	events := statemanager.NewStateManager(ctrl, nil, "admin", 16, zap.NewNop())
	b := New(Config{Controller: ctrl, Events: events, Exchange: ex, Logger: zap.NewNop()})
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	first := ctrl.ActiveOrders()[0]
	ex.MarkFilled(first.ID)
	b.checkOrderStatusAndHandleFills(ctx)

	require.Eventually(t, func() bool {
		open := ctrl.ActiveOrders()
		return len(open) == 2 && open[1].LadderIndex == 2
	}, time.Second, 10*time.Millisecond, "filled level consumed and freed budget placed level 2")
	assert.True(t, ctrl.Budget().Committed.Equal(d("22.5")))
}

func TestRiskTickerStopsExpiredStrategy(t *testing.T) {
	ex := exchangetest.New()
	clk := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	ctrl := newController(ex, clk.Now)
	ctx := context.Background()
	_, err := ctrl.CreateStrategy(ctx, "admin", ladderParams(models.RepostSame, "100", clk.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, err = ctrl.PlaceLadderOrders(ctx, "admin")
	require.NoError(t, err)

	feed := &stubFeed{}
	events := statemanager.NewStateManager(ctrl, nil, "admin", 16, zap.NewNop())
	b := New(Config{
		Controller:        ctrl,
		Events:            events,
		Exchange:          ex,
		Feeds:             []Feed{feed},
		RiskCheckInterval: 5 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, b.Start(ctx))
	assert.Error(t, b.Start(ctx), "second start is rejected")

	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		s := ctrl.Strategy()
		return s != nil && s.State == models.StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, ctrl.ActiveOrders())
	assert.True(t, feed.started.Load())

	b.Stop()
	assert.True(t, feed.stopped.Load())
	b.Stop()
}

func TestPrintStatus(t *testing.T) {
	ex := exchangetest.New()
	ctrl := newController(ex, time.Now)
	var out bytes.Buffer
	b := New(Config{Controller: ctrl, Exchange: ex, StatusOut: &out})

	b.printStatus()
	assert.Contains(t, out.String(), "no strategy")

	_, err := ctrl.CreateStrategy(context.Background(), "admin", ladderParams(models.RepostSame, "100", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	out.Reset()
	b.printStatus()
	assert.Contains(t, out.String(), "WETH/USDC")
}

func TestReplayRunsLadderToCompletion(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	paper := exchange.NewPaperExchange(exchange.PaperConfig{Symbol: "ETHUSDC", InitialQuote: d("1000"), InitialBase: decimal.Zero, MakerFeeRate: decimal.Zero})
	paper.SetTime(start)
	ctrl := newController(paper, paper.CurrentTime)
	replayer := NewReplayer(ctrl, paper, "admin", "WETH", zap.NewNop())

	ctx := context.Background()
	_, err := ctrl.CreateStrategy(ctx, "admin", ladderParams(models.RepostNone, "100", start.Add(24*time.Hour)))
	require.NoError(t, err)

	candle := func(i int, o, h, l, c string) downloader.Candle {
		open := start.Add(time.Duration(i) * time.Minute)
		return downloader.Candle{OpenTime: open, Open: d(o), High: d(h), Low: d(l), Close: d(c), CloseTime: open.Add(time.Minute - time.Millisecond)}
	}
	candles := []downloader.Candle{
		candle(0, "3100", "3120", "2900", "2950"),
		candle(1, "2950", "2960", "1400", "1450"),
		candle(2, "1450", "1500", "700", "800"),
		candle(3, "800", "900", "790", "850"),
	}

	processed, err := replayer.Run(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, 3, processed, "replay stops once the ladder completes")

	s := ctrl.Strategy()
	assert.Equal(t, models.StateCompleted, s.State)
	summary := paper.Summary()
	assert.Equal(t, 3, summary.Fills)
	assert.True(t, summary.Position.Equal(d("0.03")))
	assert.True(t, summary.Cash.Equal(d("947.5")))
}

func TestReplayRepostSameKeepsLadder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	paper := exchange.NewPaperExchange(exchange.PaperConfig{Symbol: "ETHUSDC", InitialQuote: d("1000"), MakerFeeRate: decimal.Zero})
	paper.SetTime(start)
	ctrl := newController(paper, paper.CurrentTime)
	replayer := NewReplayer(ctrl, paper, "admin", "WETH", zap.NewNop())

	ctx := context.Background()
	_, err := ctrl.CreateStrategy(ctx, "admin", ladderParams(models.RepostSame, "100", start.Add(24*time.Hour)))
	require.NoError(t, err)

	c := downloader.Candle{OpenTime: start, Open: d("3100"), High: d("3100"), Low: d("2990"), Close: d("3050"), CloseTime: start.Add(time.Minute)}
	processed, err := replayer.Run(ctx, []downloader.Candle{c})
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	open := ctrl.ActiveOrders()
	require.Len(t, open, 3)
	assert.True(t, open[0].Price.Equal(d("3000")), "filled level reposted at the same price")
	assert.True(t, ctrl.Strategy().IsActive)
}
