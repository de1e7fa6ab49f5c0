package models

import "time"

// StateVersion 是持久化状态模型的版本号，用于未来迁移
const StateVersion = 1

// BotState 定义了需要持久化的所有关键数据
type BotState struct {
	BotID          string      `json:"bot_id"`
	Version        int         `json:"version"`
	Strategy       *Strategy   `json:"strategy,omitempty"` // nil 表示尚未创建策略
	Orders         []Order     `json:"orders"`             // 当前周期内的全部订单(含历史状态)
	Consumed       []int       `json:"consumed,omitempty"` // 已在 NONE 模式下成交、不再补单的档位
	Budget         BudgetState `json:"budget"`
	Authorized     []string    `json:"authorized,omitempty"`
	LastUpdateTime time.Time   `json:"last_update_time"`
}

// Clone 返回深拷贝, 可以安全地交给其他 goroutine。
func (s *BotState) Clone() *BotState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Strategy != nil {
		st := *s.Strategy
		c.Strategy = &st
	}
	if s.Orders != nil {
		c.Orders = make([]Order, len(s.Orders))
		copy(c.Orders, s.Orders)
	}
	if s.Consumed != nil {
		c.Consumed = make([]int, len(s.Consumed))
		copy(c.Consumed, s.Consumed)
	}
	if s.Authorized != nil {
		c.Authorized = make([]string, len(s.Authorized))
		copy(c.Authorized, s.Authorized)
	}
	return &c
}

// OpenOrders 从快照中筛选出挂单。
func (s *BotState) OpenOrders() []Order {
	if s == nil {
		return nil
	}
	open := make([]Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		if o.IsOpen() {
			open = append(open, o)
		}
	}
	return open
}
