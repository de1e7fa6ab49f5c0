package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus 是单个订单的生命周期状态
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderReposted  OrderStatus = "REPOSTED"  // 已成交且该档位已重新挂单
	OrderAbandoned OrderStatus = "ABANDONED" // 取消失败后被所有者放弃
)

// OrderKind 区分阶梯订单和翻转卖单
type OrderKind string

const (
	KindLadder OrderKind = "LADDER"
	KindFlip   OrderKind = "FLIP"
)

// LadderLevel 代表阶梯中的一个价格档位
type LadderLevel struct {
	Index int             `json:"index"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  Side            `json:"side"`
}

// Order 是一个正在挂单(或历史)的阶梯订单
type Order struct {
	ID            string          `json:"id"`
	LadderIndex   int             `json:"ladder_index"`
	Kind          OrderKind       `json:"kind"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`     // 配置单位下的数量
	Quantity      decimal.Decimal `json:"quantity"` // 提交给协议的 MakerAsset 数量
	Cost          decimal.Decimal `json:"cost"`     // 占用的预算
	ReservationID uint64          `json:"reservation_id,omitempty"`
	Status        OrderStatus     `json:"status"`
	ParentID      string          `json:"parent_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsOpen 判断订单是否仍在挂单中。
func (o Order) IsOpen() bool {
	return o.Status == OrderOpen
}

// PlacementReport 汇总一次批量下单的结果。
type PlacementReport struct {
	Placed  int `json:"placed"`
	Skipped int `json:"skipped"`
}

// BudgetState 是预算占用情况的快照
type BudgetState struct {
	Budget    decimal.Decimal `json:"budget"`
	Committed decimal.Decimal `json:"committed"`
	Available decimal.Decimal `json:"available"`
}
