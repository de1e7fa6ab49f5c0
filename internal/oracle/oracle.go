package oracle

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNoPrice 表示该资产从未写入过报价。
var ErrNoPrice = errors.New("no price available")

// Quote 是一个 MakerAsset 以 TakerAsset 计价的最新价格。
type Quote struct {
	Asset      string          `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"` // 0..1, 1 表示完全可信
	Timestamp  time.Time       `json:"timestamp"`
	Source     string          `json:"source,omitempty"`
}

// Age 返回报价在 now 时刻的年龄。
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Oracle 是策略读取价格的来源。
type Oracle interface {
	UpdatePrice(q Quote) error
	GetPrice(asset string) (Quote, error)
}

// Store 是内存中的价格表，每个资产只保留最新的一条报价。
// 时间戳早于已有报价的更新会被忽略。
type Store struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[string]Quote)}
}

// UpdatePrice 校验并保存 q。
func (s *Store) UpdatePrice(q Quote) error {
	q.Asset = strings.TrimSpace(q.Asset)
	if q.Asset == "" {
		return models.NewParamError("asset", "must not be empty")
	}
	if !q.Price.IsPositive() {
		return models.NewParamError("price", "must be > 0, got %s", q.Price)
	}
	if q.Confidence.IsNegative() || q.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		return models.NewParamError("confidence", "must be within [0, 1], got %s", q.Confidence)
	}
	if q.Timestamp.IsZero() {
		return models.NewParamError("timestamp", "must be set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.quotes[q.Asset]; ok && q.Timestamp.Before(prev.Timestamp) {
		return nil
	}
	s.quotes[q.Asset] = q
	return nil
}

func (s *Store) GetPrice(asset string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[asset]
	if !ok {
		return Quote{}, fmt.Errorf("asset %s: %w", asset, ErrNoPrice)
	}
	return q, nil
}

// Assets 列出已有报价的资产。
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for a := range s.quotes {
		out = append(out, a)
	}
	return out
}
