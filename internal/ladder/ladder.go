package ladder

import (
	"fmt"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultPricePrecision 是阶梯价格默认保留的小数位数。
const DefaultPricePrecision int32 = 8

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Engine 计算阶梯档位。除精度外不持有状态, 相同参数总是得到相同档位。
type Engine struct {
	precision    int32
	qtyPrecision int32 // 0 表示数量不受交易所步长约束
}

// NewEngine 创建 Engine; 精度不为正时使用 DefaultPricePrecision。
func NewEngine(precision int32) *Engine {
	if precision <= 0 {
		precision = DefaultPricePrecision
	}
	return &Engine{precision: precision}
}

// WithQuantityPrecision 返回一个副本, 其订单数量按 places 位小数向下对齐,
// BASE 单位的 OrderSize 超出该精度时校验失败。places 不为正时不做约束。
func (e *Engine) WithQuantityPrecision(places int32) *Engine {
	cp := *e
	if places > 0 {
		cp.qtyPrecision = places
	}
	return &cp
}

// QuantityPrecision 返回数量精度, 0 表示不约束。
func (e *Engine) QuantityPrecision() int32 {
	return e.qtyPrecision
}

// Precision 返回价格的舍入精度。
func (e *Engine) Precision() int32 {
	return e.precision
}

// StepFactor 返回相邻两档之间的倍数:
// 买入阶梯为 1 - spacing/100, 卖出阶梯为 1 + spacing/100。
func StepFactor(t models.StrategyType, spacingPercent decimal.Decimal) decimal.Decimal {
	step := spacingPercent.Div(hundred)
	if t == models.SellLadder {
		return one.Add(step)
	}
	return one.Sub(step)
}

// ComputeLevels 根据策略参数计算出全部 numOrders 个档位。
// 买入阶梯价格递减，卖出阶梯价格递增。
func (e *Engine) ComputeLevels(p models.StrategyParams) ([]models.LadderLevel, error) {
	if err := e.validateShape(p); err != nil {
		return nil, err
	}

	factor := StepFactor(p.StrategyType, p.SpacingPercent)
	levels := make([]models.LadderLevel, 0, p.NumOrders)
	raw := p.StartPrice
	for i := 0; i < p.NumOrders; i++ {
		price := raw.Round(e.precision)
		if !price.IsPositive() {
			return nil, models.NewParamError("spacing_percent", "level %d price %s is not positive", i, price)
		}
		if i > 0 && !e.strictlyAfter(p.StrategyType, levels[i-1].Price, price) {
			return nil, models.NewParamError("spacing_percent", "level %d price %s does not move past %s at precision %d", i, price, levels[i-1].Price, e.precision)
		}
		levels = append(levels, models.LadderLevel{
			Index: i,
			Price: price,
			Size:  p.OrderSize,
			Side:  p.StrategyType.Side(),
		})
		raw = raw.Mul(factor)
	}
	return levels, nil
}

// LevelAt 返回任意档位, 包括超出 NumOrders 的档位。
func (e *Engine) LevelAt(p models.StrategyParams, index int) (models.LadderLevel, error) {
	if index < 0 {
		return models.LadderLevel{}, fmt.Errorf("ladder index %d: %w", index, models.ErrInvalidParameters)
	}
	if err := e.validateShape(p); err != nil {
		return models.LadderLevel{}, err
	}
	factor := StepFactor(p.StrategyType, p.SpacingPercent)
	raw := p.StartPrice
	for i := 0; i < index; i++ {
		raw = raw.Mul(factor)
	}
	price := raw.Round(e.precision)
	if !price.IsPositive() {
		return models.LadderLevel{}, models.NewParamError("spacing_percent", "level %d price %s is not positive", index, price)
	}
	return models.LadderLevel{
		Index: index,
		Price: price,
		Size:  p.OrderSize,
		Side:  p.StrategyType.Side(),
	}, nil
}

// Step 沿阶梯方向把价格移动一个间距。
func (e *Engine) Step(p models.StrategyParams, price decimal.Decimal) decimal.Decimal {
	return price.Mul(StepFactor(p.StrategyType, p.SpacingPercent)).Round(e.precision)
}

func (e *Engine) validateShape(p models.StrategyParams) error {
	if !p.StrategyType.Valid() {
		return models.NewParamError("strategy_type", "unknown ladder type %q", p.StrategyType)
	}
	if !p.SpacingPercent.IsPositive() {
		return models.NewParamError("spacing_percent", "must be > 0, got %s", p.SpacingPercent)
	}
	if p.NumOrders < 1 {
		return models.NewParamError("num_orders", "must be >= 1, got %d", p.NumOrders)
	}
	if !p.OrderSize.IsPositive() {
		return models.NewParamError("order_size", "must be > 0, got %s", p.OrderSize)
	}
	if !p.StartPrice.IsPositive() {
		return models.NewParamError("start_price", "must be > 0, got %s", p.StartPrice)
	}
	if e.qtyPrecision > 0 && p.EffectiveSizeUnit() == models.SizeInBase && !p.OrderSize.Equal(p.OrderSize.RoundDown(e.qtyPrecision)) {
		return models.NewParamError("order_size", "%s has more than %d decimal places", p.OrderSize, e.qtyPrecision)
	}
	return nil
}

func (e *Engine) strictlyAfter(t models.StrategyType, prev, next decimal.Decimal) bool {
	if t == models.SellLadder {
		return next.GreaterThan(prev)
	}
	return next.LessThan(prev)
}

// Cost 返回一个订单占用的预算和 maker 资产数量。
// 买入阶梯以 taker 资产计预算, 卖出阶梯以 maker 资产计预算。
func (e *Engine) Cost(p models.StrategyParams, price, size decimal.Decimal) (cost, quantity decimal.Decimal) {
	quoteSized := p.EffectiveSizeUnit() == models.SizeInQuote
	switch p.StrategyType {
	case models.SellLadder:
		if quoteSized {
			quantity = e.quoteToQuantity(size, price)
			return quantity, quantity
		}
		return size, size
	default:
		if quoteSized {
			return size, e.quoteToQuantity(size, price)
		}
		return size.Mul(price), size
	}
}

func (e *Engine) quoteToQuantity(size, price decimal.Decimal) decimal.Decimal {
	if e.qtyPrecision > 0 {
		return size.Div(price).RoundDown(e.qtyPrecision)
	}
	return size.DivRound(price, e.precision)
}
