package ladder

import (
	"fmt"
	"strings"

	"ladder-bot-go/internal/models"
)

// NextPricePolicy 决定 REPOST_NEXT_PRICE 模式下成交后新订单的价格。
type NextPricePolicy interface {
	Name() string
	// NextLevel 返回要下单的档位和新的阶梯跨度。
	NextLevel(e *Engine, p models.StrategyParams, span int, filled models.Order) (models.LadderLevel, int, error)
}

const (
	PolicyBeyondSpan   = "beyond_span"
	PolicyStepFromFill = "step_from_fill"
)

// BeyondSpan 把新订单挂在最后一个已生成档位之外一个间距处, 阶梯沿原方向延伸, 跨度加一。
type BeyondSpan struct{}

func (BeyondSpan) Name() string { return PolicyBeyondSpan }

func (BeyondSpan) NextLevel(e *Engine, p models.StrategyParams, span int, _ models.Order) (models.LadderLevel, int, error) {
	level, err := e.LevelAt(p, span)
	if err != nil {
		return models.LadderLevel{}, span, err
	}
	return level, span + 1, nil
}

// StepFromFill 把新订单挂在成交价之外一个间距处。
// 仍然分配新的档位编号, 保证编号唯一。
type StepFromFill struct{}

func (StepFromFill) Name() string { return PolicyStepFromFill }

func (StepFromFill) NextLevel(e *Engine, p models.StrategyParams, span int, filled models.Order) (models.LadderLevel, int, error) {
	price := e.Step(p, filled.Price)
	if !price.IsPositive() {
		return models.LadderLevel{}, span, models.NewParamError("spacing_percent", "next price %s is not positive", price)
	}
	return models.LadderLevel{
		Index: span,
		Price: price,
		Size:  p.OrderSize,
		Side:  p.StrategyType.Side(),
	}, span + 1, nil
}

// PolicyByName 解析配置的策略名; 为空时使用 BeyondSpan。
func PolicyByName(name string) (NextPricePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyBeyondSpan:
		return BeyondSpan{}, nil
	case PolicyStepFromFill:
		return StepFromFill{}, nil
	default:
		return nil, fmt.Errorf("unknown next price policy %q", name)
	}
}
