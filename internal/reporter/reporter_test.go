package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateMetrics(t *testing.T) {
	summary := exchange.PaperSummary{
		Symbol:       "ETHUSDC",
		InitialValue: d("1000"),
		Equity:       d("1050"),
		PnL:          d("50"),
		TotalFees:    d("0.3"),
	}
	fills := []exchange.Fill{
		{Side: models.Buy, Quantity: d("0.01")},
		{Side: models.Buy, Quantity: d("0.02")},
		{Side: models.Sell, Quantity: d("0.01")},
	}

	m := CalculateMetrics(summary, fills)
	assert.Equal(t, 3, m.TotalFills)
	assert.Equal(t, 2, m.BuyFills)
	assert.Equal(t, 1, m.SellFills)
	assert.True(t, m.BoughtQty.Equal(d("0.03")))
	assert.True(t, m.ProfitPercentage.Equal(d("5")))
}

func TestGenerateReport(t *testing.T) {
	var buf bytes.Buffer
	m := CalculateMetrics(exchange.PaperSummary{Symbol: "ETHUSDC", InitialValue: d("1000"), Equity: d("990"), PnL: d("-10")}, nil)
	m.StartTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.EndTime = m.StartTime.Add(24 * time.Hour)
	GenerateReport(&buf, m, "data/ETHUSDC.csv")

	out := buf.String()
	assert.Contains(t, out, "ETHUSDC")
	assert.Contains(t, out, "-10.00")
	assert.Contains(t, out, "-1.00%")
	assert.Contains(t, out, "2026-01-01 00:00")
}

func TestRenderState(t *testing.T) {
	var buf bytes.Buffer
	RenderState(&buf, &models.BotState{BotID: "bot-1"})
	assert.Contains(t, buf.String(), "no strategy")

	buf.Reset()
	st := &models.BotState{
		BotID: "bot-1",
		Strategy: &models.Strategy{
			ID:    "s-1",
			State: models.StateActive,
			Params: models.StrategyParams{
				MakerAsset: "WETH", TakerAsset: "USDC",
				StartPrice: d("3000"), SpacingPercent: d("50"), NumOrders: 3,
				StrategyType: models.BuyLadder, RepostMode: models.RepostSame,
			},
			LadderSpan: 3,
		},
		Orders: []models.Order{
			{ID: "ord-1", LadderIndex: 0, Kind: models.KindLadder, Side: models.Buy, Price: d("3000"), Quantity: d("0.01"), Cost: d("30"), Status: models.OrderOpen},
			{ID: "ord-2", LadderIndex: 1, Kind: models.KindLadder, Side: models.Buy, Price: d("1500"), Quantity: d("0.01"), Cost: d("15"), Status: models.OrderFilled},
		},
		Budget: models.BudgetState{Budget: d("100"), Committed: d("30"), Available: d("70")},
	}
	RenderState(&buf, st)

	out := buf.String()
	assert.Contains(t, out, "WETH/USDC")
	assert.Contains(t, out, "ord-1")
	assert.NotContains(t, out, "ord-2", "only open orders are listed")
	assert.Contains(t, strings.ToLower(out), "1 orders")
}

func TestRenderStateShowsCreatorAndPendingStop(t *testing.T) {
	var buf bytes.Buffer
	RenderState(&buf, &models.BotState{
		BotID: "bot-1",
		Strategy: &models.Strategy{
			ID:            "s-1",
			Owner:         "admin",
			CreatedBy:     "keeper",
			IsActive:      true,
			State:         models.StateActive,
			PendingState:  models.StateStopped,
			PendingReason: "STOP_LOSS",
			Params:        models.StrategyParams{MakerAsset: "WETH", TakerAsset: "USDC"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "keeper")
	assert.Contains(t, out, "STOPPED (STOP_LOSS)")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	RenderHistory(&buf, []storage.OrderEvent{
		{OrderID: "ord-1", Event: "placed", Side: "BUY", Price: "3000", Quantity: "0.01", Status: "OPEN", RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{OrderID: "ord-1", Event: "filled", Side: "BUY", Price: "3000", Quantity: "0.01", Status: "FILLED"},
	})
	out := buf.String()
	assert.Contains(t, out, "2026-01-02 03:04:05")
	assert.Contains(t, out, "placed")
	assert.Contains(t, out, "filled")
	assert.Equal(t, 2, strings.Count(out, "ord-1"))
}
