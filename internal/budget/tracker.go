package budget

import (
	"fmt"
	"sync"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Reservation 是一个挂单占用的一份预算。
type Reservation struct {
	ID     uint64          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Tracker 记录策略预算的占用情况。
// committed 始终等于所有未释放预算占用之和，并且永远不超过 budget。
type Tracker struct {
	mu           sync.Mutex
	budget       decimal.Decimal
	committed    decimal.Decimal
	nextID       uint64
	reservations map[uint64]decimal.Decimal
}

// NewTracker 创建一个没有任何占用的预算账本。
func NewTracker(budget decimal.Decimal) *Tracker {
	return &Tracker{
		budget:       budget,
		committed:    decimal.Zero,
		reservations: make(map[uint64]decimal.Decimal),
	}
}

// Reserve 从预算中占用 amount。
func (t *Tracker) Reserve(amount decimal.Decimal) (Reservation, error) {
	if !amount.IsPositive() {
		return Reservation{}, fmt.Errorf("reserve %s: %w", amount, models.ErrAccountingInvariant)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.committed.Add(amount).GreaterThan(t.budget) {
		return Reservation{}, fmt.Errorf("reserve %s with %s of %s committed: %w",
			amount, t.committed, t.budget, models.ErrBudgetExceeded)
	}
	t.nextID++
	t.reservations[t.nextID] = amount
	t.committed = t.committed.Add(amount)
	return Reservation{ID: t.nextID, Amount: amount}, nil
}

// Release 释放一份占用, 每份只能释放一次, 返回释放的金额。
func (t *Tracker) Release(id uint64) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	amount, ok := t.reservations[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("release of unknown reservation %d: %w", id, models.ErrAccountingInvariant)
	}
	next := t.committed.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("release %d would leave committed at %s: %w", id, next, models.ErrAccountingInvariant)
	}
	delete(t.reservations, id)
	t.committed = next
	return amount, nil
}

// CanAfford 判断 amount 是否在剩余预算之内, 不实际占用。
func (t *Tracker) CanAfford(amount decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return amount.IsPositive() && t.committed.Add(amount).LessThanOrEqual(t.budget)
}

func (t *Tracker) Budget() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget
}

func (t *Tracker) Committed() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tracker) Available() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget.Sub(t.committed)
}

// State 返回账本的时点视图。
func (t *Tracker) State() models.BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.BudgetState{
		Budget:    t.budget,
		Committed: t.committed,
		Available: t.budget.Sub(t.committed),
	}
}

// Outstanding 返回未释放的占用数量。
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reservations)
}

// Restore 用持久化的预算占用重建账本，旧的占用全部丢弃。
// 重复 ID、非正数金额或总额超出预算都视为账本损坏。
func (t *Tracker) Restore(reservations []Reservation) error {
	rebuilt := make(map[uint64]decimal.Decimal, len(reservations))
	committed := decimal.Zero
	var maxID uint64
	for _, r := range reservations {
		if r.ID == 0 || !r.Amount.IsPositive() {
			return fmt.Errorf("restore reservation %d amount %s: %w", r.ID, r.Amount, models.ErrAccountingInvariant)
		}
		if _, dup := rebuilt[r.ID]; dup {
			return fmt.Errorf("restore duplicate reservation %d: %w", r.ID, models.ErrAccountingInvariant)
		}
		rebuilt[r.ID] = r.Amount
		committed = committed.Add(r.Amount)
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if committed.GreaterThan(t.budget) {
		return fmt.Errorf("restored commitments %s exceed budget %s: %w", committed, t.budget, models.ErrAccountingInvariant)
	}
	t.reservations = rebuilt
	t.committed = committed
	if maxID > t.nextID {
		t.nextID = maxID
	}
	return nil
}
