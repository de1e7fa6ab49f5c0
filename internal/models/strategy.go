package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType 定义了阶梯方向
type StrategyType string

const (
	BuyLadder  StrategyType = "BUY_LADDER"
	SellLadder StrategyType = "SELL_LADDER"
)

// Valid 判断 t 是否为已知的阶梯类型。
func (t StrategyType) Valid() bool {
	switch t {
	case BuyLadder, SellLadder:
		return true
	}
	return false
}

// Side 返回阶梯挂单的方向。
func (t StrategyType) Side() Side {
	if t == SellLadder {
		return Sell
	}
	return Buy
}

// RepostMode 定义了订单成交后的补单策略
type RepostMode string

const (
	RepostNone      RepostMode = "NONE"
	RepostSame      RepostMode = "REPOST_SAME"
	RepostNextPrice RepostMode = "REPOST_NEXT_PRICE"
)

// Valid 判断 m 是否为已知的补单模式。
func (m RepostMode) Valid() bool {
	switch m {
	case RepostNone, RepostSame, RepostNextPrice:
		return true
	}
	return false
}

// SizeUnit 指明 OrderSize 的计量单位
type SizeUnit string

const (
	// SizeInBase 表示 OrderSize 是 maker 资产的数量。
	SizeInBase SizeUnit = "BASE"
	// SizeInQuote 表示 OrderSize 是 taker 资产的金额。
	SizeInQuote SizeUnit = "QUOTE"
)

// Valid 判断 u 是否为已知的数量单位。
func (u SizeUnit) Valid() bool {
	switch u {
	case SizeInBase, SizeInQuote:
		return true
	}
	return false
}

// StrategyState 是策略状态机的状态
type StrategyState string

const (
	StateUninitialized StrategyState = "UNINITIALIZED"
	StateActive        StrategyState = "ACTIVE"
	StateStopped       StrategyState = "STOPPED"
	StateCompleted     StrategyState = "COMPLETED"
	StateCancelled     StrategyState = "CANCELLED"
)

// Terminal 判断该状态是否结束策略生命周期。
func (s StrategyState) Terminal() bool {
	switch s {
	case StateStopped, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// StrategyParams 是创建策略时提供的全部参数。
// 价格统一表示为 1 个 MakerAsset 值多少 TakerAsset。
type StrategyParams struct {
	MakerAsset     string          `json:"maker_asset"`
	TakerAsset     string          `json:"taker_asset"`
	StartPrice     decimal.Decimal `json:"start_price"`
	SpacingPercent decimal.Decimal `json:"spacing_percent"`
	OrderSize      decimal.Decimal `json:"order_size"`
	SizeUnit       SizeUnit        `json:"size_unit"`
	NumOrders      int             `json:"num_orders"`
	StrategyType   StrategyType    `json:"strategy_type"`
	RepostMode     RepostMode      `json:"repost_mode"`
	Budget         decimal.Decimal `json:"budget"`
	StopLoss       decimal.Decimal `json:"stop_loss"`   // 0 表示禁用
	TakeProfit     decimal.Decimal `json:"take_profit"` // 0 表示禁用
	ExpiryTime     time.Time       `json:"expiry_time"`
	FlipToSell     bool            `json:"flip_to_sell"`
	FlipPercentage decimal.Decimal `json:"flip_percentage"`
}

// EffectiveSizeUnit 返回配置的数量单位, 默认为 BASE。
func (p StrategyParams) EffectiveSizeUnit() SizeUnit {
	if p.SizeUnit == "" {
		return SizeInBase
	}
	return p.SizeUnit
}

// BudgetAsset 返回预算的计价资产: 买入阶梯为 taker 资产, 卖出阶梯为 maker 资产。
func (p StrategyParams) BudgetAsset() string {
	if p.StrategyType == SellLadder {
		return p.MakerAsset
	}
	return p.TakerAsset
}

// Strategy 是每个机器人实例唯一的策略，所有者是实例的管理员。
// PendingState 非空表示离开 Active 的转换已经开始但撤单尚未完成, 此期间不再补单或翻转。
type Strategy struct {
	ID            string         `json:"id"`
	Owner         string         `json:"owner"`
	CreatedBy     string         `json:"created_by,omitempty"` // 发起创建的调用方, 仅用于审计
	Params        StrategyParams `json:"params"`
	IsActive      bool           `json:"is_active"`
	State         StrategyState  `json:"state"`
	LadderSpan    int            `json:"ladder_span"` // 已生成的阶梯索引数量, REPOST_NEXT_PRICE 会使其增长
	CreatedAt     time.Time      `json:"created_at"`
	StoppedAt     time.Time      `json:"stopped_at,omitempty"`
	StopReason    string         `json:"stop_reason,omitempty"`
	PendingState  StrategyState  `json:"pending_state,omitempty"`
	PendingReason string         `json:"pending_reason,omitempty"`
}

// Stopping 判断策略是否处于等待撤单完成的状态
func (s *Strategy) Stopping() bool {
	return s.IsActive && s.PendingState != ""
}
