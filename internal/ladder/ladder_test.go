package ladder

import (
	"errors"
	"testing"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buyParams() models.StrategyParams {
	return models.StrategyParams{
		MakerAsset:     "WETH",
		TakerAsset:     "USDC",
		StartPrice:     d("3000"),
		SpacingPercent: d("50"),
		OrderSize:      d("0.01"),
		NumOrders:      3,
		StrategyType:   models.BuyLadder,
		RepostMode:     models.RepostSame,
		Budget:         d("100"),
		ExpiryTime:     time.Now().Add(time.Hour),
	}
}

func TestComputeLevelsBuyLadder(t *testing.T) {
	levels, err := NewEngine(0).ComputeLevels(buyParams())
	require.NoError(t, err)
	require.Len(t, levels, 3)

	want := []string{"3000", "1500", "750"}
	for i, lvl := range levels {
		assert.Equal(t, i, lvl.Index)
		assert.True(t, lvl.Price.Equal(d(want[i])), "level %d price %s", i, lvl.Price)
		assert.True(t, lvl.Size.Equal(d("0.01")))
		assert.Equal(t, models.Buy, lvl.Side)
	}
}

func TestComputeLevelsSellLadderIncreasing(t *testing.T) {
	p := buyParams()
	p.StrategyType = models.SellLadder
	p.SpacingPercent = d("1")
	p.OrderSize = d("1")
	p.NumOrders = 5

	levels, err := NewEngine(0).ComputeLevels(p)
	require.NoError(t, err)
	require.Len(t, levels, 5)
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i].Price.GreaterThan(levels[i-1].Price), "level %d not increasing", i)
		assert.Equal(t, models.Sell, levels[i].Side)
	}
	assert.True(t, levels[1].Price.Equal(d("3030")))
}

func TestComputeLevelsSpacingRatio(t *testing.T) {
	cases := []struct {
		name    string
		ladder  models.StrategyType
		spacing string
		count   int
	}{
		{"buy small spacing", models.BuyLadder, "0.5", 20},
		{"buy wide spacing", models.BuyLadder, "12.5", 10},
		{"sell small spacing", models.SellLadder, "0.25", 30},
		{"sell wide spacing", models.SellLadder, "33", 8},
	}
	tolerance := d("0.000001")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := buyParams()
			p.StrategyType = tc.ladder
			p.SpacingPercent = d(tc.spacing)
			p.NumOrders = tc.count

			levels, err := NewEngine(0).ComputeLevels(p)
			require.NoError(t, err)
			require.Len(t, levels, tc.count)

			factor := StepFactor(tc.ladder, p.SpacingPercent)
			for i := 1; i < len(levels); i++ {
				ratio := levels[i].Price.DivRound(levels[i-1].Price, 12)
				assert.True(t, ratio.Sub(factor).Abs().LessThanOrEqual(tolerance),
					"level %d ratio %s want %s", i, ratio, factor)
			}
		})
	}
}

func TestComputeLevelsIsDeterministic(t *testing.T) {
	e := NewEngine(0)
	p := buyParams()
	p.SpacingPercent = d("3.3")
	p.NumOrders = 12

	first, err := e.ComputeLevels(p)
	require.NoError(t, err)
	second, err := e.ComputeLevels(p)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Price.Equal(second[i].Price))
	}
}

func TestComputeLevelsRejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		name  string
		field string
		mut   func(p *models.StrategyParams)
	}{
		{"zero spacing", "spacing_percent", func(p *models.StrategyParams) { p.SpacingPercent = decimal.Zero }},
		{"zero orders", "num_orders", func(p *models.StrategyParams) { p.NumOrders = 0 }},
		{"zero size", "order_size", func(p *models.StrategyParams) { p.OrderSize = decimal.Zero }},
		{"zero start price", "start_price", func(p *models.StrategyParams) { p.StartPrice = decimal.Zero }},
		{"buy spacing of 100%", "spacing_percent", func(p *models.StrategyParams) { p.SpacingPercent = d("100") }},
		{"buy spacing above 100%", "spacing_percent", func(p *models.StrategyParams) { p.SpacingPercent = d("150") }},
		{"unknown type", "strategy_type", func(p *models.StrategyParams) { p.StrategyType = "SIDEWAYS" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := buyParams()
			tc.mut(&p)
			_, err := NewEngine(0).ComputeLevels(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidParameters))
			var pe *models.ParamError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.field, pe.Field)
		})
	}
}

func TestComputeLevelsRejectsCollapsedPrecision(t *testing.T) {
	p := buyParams()
	p.StartPrice = d("0.01")
	p.SpacingPercent = d("1")
	p.NumOrders = 3

	_, err := NewEngine(2).ComputeLevels(p)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestLevelAtMatchesComputeLevels(t *testing.T) {
	e := NewEngine(0)
	p := buyParams()
	p.SpacingPercent = d("7")
	p.NumOrders = 6

	levels, err := e.ComputeLevels(p)
	require.NoError(t, err)
	for _, lvl := range levels {
		at, err := e.LevelAt(p, lvl.Index)
		require.NoError(t, err)
		assert.True(t, at.Price.Equal(lvl.Price), "index %d", lvl.Index)
	}

	beyond, err := e.LevelAt(p, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, beyond.Index)
	assert.True(t, beyond.Price.LessThan(levels[5].Price))

	_, err = e.LevelAt(p, -1)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestCostByUnit(t *testing.T) {
	e := NewEngine(0)
	price := d("2000")

	buyBase := buyParams()
	cost, qty := e.Cost(buyBase, price, d("0.5"))
	assert.True(t, cost.Equal(d("1000")))
	assert.True(t, qty.Equal(d("0.5")))

	buyQuote := buyParams()
	buyQuote.SizeUnit = models.SizeInQuote
	cost, qty = e.Cost(buyQuote, price, d("100"))
	assert.True(t, cost.Equal(d("100")))
	assert.True(t, qty.Equal(d("0.05")))

	sellBase := buyParams()
	sellBase.StrategyType = models.SellLadder
	cost, qty = e.Cost(sellBase, price, d("1"))
	assert.True(t, cost.Equal(d("1")))
	assert.True(t, qty.Equal(d("1")))

	sellQuote := sellBase
	sellQuote.SizeUnit = models.SizeInQuote
	cost, qty = e.Cost(sellQuote, price, d("500"))
	assert.True(t, cost.Equal(d("0.25")))
	assert.True(t, qty.Equal(d("0.25")))
}

func TestQuantityPrecision(t *testing.T) {
	e := NewEngine(2).WithQuantityPrecision(4)
	assert.Equal(t, int32(2), e.Precision())
	assert.Equal(t, int32(4), e.QuantityPrecision())
	assert.Zero(t, NewEngine(2).QuantityPrecision(), "the original engine is unchanged")

	buyQuote := buyParams()
	buyQuote.SizeUnit = models.SizeInQuote
	cost, qty := e.Cost(buyQuote, d("3000"), d("10"))
	assert.True(t, cost.Equal(d("10")))
	assert.True(t, qty.Equal(d("0.0033")), "rounded down so the spend stays within the charge, got %s", qty)

	fine := buyParams()
	fine.OrderSize = d("0.00015")
	_, err := e.ComputeLevels(fine)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
	_, err = NewEngine(2).ComputeLevels(fine)
	assert.NoError(t, err, "no quantity constraint without an exchange step")
}

func TestNextPricePolicies(t *testing.T) {
	e := NewEngine(0)
	p := buyParams()
	filled := models.Order{ID: "o1", LadderIndex: 1, Price: d("1500")}

	level, span, err := BeyondSpan{}.NextLevel(e, p, 3, filled)
	require.NoError(t, err)
	assert.Equal(t, 3, level.Index)
	assert.Equal(t, 4, span)
	assert.True(t, level.Price.Equal(d("375")))

	level, span, err = StepFromFill{}.NextLevel(e, p, 3, filled)
	require.NoError(t, err)
	assert.Equal(t, 3, level.Index)
	assert.Equal(t, 4, span)
	assert.True(t, level.Price.Equal(d("750")))
}

func TestPolicyByName(t *testing.T) {
	pol, err := PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBeyondSpan, pol.Name())

	pol, err = PolicyByName("Step_From_Fill")
	require.NoError(t, err)
	assert.Equal(t, PolicyStepFromFill, pol.Name())

	_, err = PolicyByName("shift_all")
	assert.Error(t, err)
}
