package risk

import (
	"fmt"
	"time"

	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"

	"github.com/shopspring/decimal"
)

// Outcome 是一次风控评估的结果。
type Outcome string

const (
	Continue   Outcome = "CONTINUE"
	StopLoss   Outcome = "STOP_LOSS"
	TakeProfit Outcome = "TAKE_PROFIT"
	Expired    Outcome = "EXPIRED"
)

// Triggered 判断该结果是否结束策略。
func (o Outcome) Triggered() bool {
	return o != Continue && o != ""
}

// Manager 根据最新报价判断是否需要止损、止盈或到期停止。
// 它不持有任何可变状态。
type Manager struct {
	freshness     time.Duration
	minConfidence decimal.Decimal
}

// NewManager 创建 Manager。freshness 为零时不检查报价是否过期。
func NewManager(freshness time.Duration, minConfidence decimal.Decimal) *Manager {
	return &Manager{freshness: freshness, minConfidence: minConfidence}
}

// CheckExpiry 只检查过期规则, 不需要价格。
func (m *Manager) CheckExpiry(s *models.Strategy, now time.Time) Outcome {
	if s == nil || s.Params.ExpiryTime.IsZero() {
		return Continue
	}
	if !now.Before(s.Params.ExpiryTime) {
		return Expired
	}
	return Continue
}

// Evaluate 依次检查 Expired、StopLoss、TakeProfit，第一个命中的结果生效。
// 报价过期或可信度不足时返回错误，调用方应保持当前状态不变。
func (m *Manager) Evaluate(s *models.Strategy, q oracle.Quote, now time.Time) (Outcome, error) {
	if s == nil {
		return Continue, models.ErrInvalidState
	}
	if out := m.CheckExpiry(s, now); out == Expired {
		return Expired, nil
	}

	if m.freshness > 0 && q.Age(now) > m.freshness {
		return Continue, fmt.Errorf("%s quote is %s old, window %s: %w", q.Asset, q.Age(now).Round(time.Millisecond), m.freshness, models.ErrStalePrice)
	}
	if q.Confidence.LessThan(m.minConfidence) {
		return Continue, fmt.Errorf("%s quote confidence %s below %s: %w", q.Asset, q.Confidence, m.minConfidence, models.ErrLowConfidence)
	}

	p := s.Params
	price := q.Price
	if p.StrategyType == models.SellLadder {
		if !p.StopLoss.IsZero() && price.GreaterThanOrEqual(p.StopLoss) {
			return StopLoss, nil
		}
		if !p.TakeProfit.IsZero() && price.LessThanOrEqual(p.TakeProfit) {
			return TakeProfit, nil
		}
		return Continue, nil
	}

	if !p.StopLoss.IsZero() && price.LessThanOrEqual(p.StopLoss) {
		return StopLoss, nil
	}
	if !p.TakeProfit.IsZero() && price.GreaterThanOrEqual(p.TakeProfit) {
		return TakeProfit, nil
	}
	return Continue, nil
}
