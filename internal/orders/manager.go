package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ladder-bot-go/internal/budget"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/ladder"
	"ladder-bot-go/internal/metrics"
	"ladder-bot-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 订单流水事件
const (
	EventPlaced    = "PLACED"
	EventFilled    = "FILLED"
	EventReposted  = "REPOSTED"
	EventCancelled = "CANCELLED"
	EventAbandoned = "ABANDONED"
)

const defaultHistoryLimit = 1000

var hundred = decimal.NewFromInt(100)

// Recorder 接收每次订单状态变化, 例如写入流水账。
type Recorder interface {
	Record(ctx context.Context, strategyID, event string, o models.Order) error
}

// FillResult 描述一次成交通知带来的变化。
type FillResult struct {
	Order     models.Order
	Duplicate bool          // 订单已不处于 Open 状态, 本次通知被忽略
	Reposted  *models.Order // 按补单策略新挂出的订单
	Flip      *models.Order // 翻转卖单
	RepostErr error
	FlipErr   error
}

// CancelReport 汇总一次 CancelAll 的结果。
type CancelReport struct {
	Cancelled int
	Filled    int            // 撤单时发现已经成交的订单, 按成交结算但不补单
	StillOpen []models.Order // 撤单失败的订单; abandon 时它们已被标记为 Abandoned
	Failures  map[string]error
}

// Config 组装 Manager 依赖的组件。
type Config struct {
	Engine       *ladder.Engine
	Policy       ladder.NextPricePolicy
	Exchange     exchange.Exchange
	Recorder     Recorder // 可选
	Logger       *zap.Logger
	Now          func() time.Time
	NewClientID  func() string
	HistoryLimit int // 保留的已结束订单数量上限
}

// Manager 持有一个策略周期内的全部订单，负责下单、成交后的补单以及撤单。
// Manager 本身不加锁，调用方 (controller) 负责串行化所有调用。
type Manager struct {
	engine       *ladder.Engine
	policy       ladder.NextPricePolicy
	ex           exchange.Exchange
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
	newClientID  func() string
	historyLimit int

	budget   *budget.Tracker
	orders   map[string]*models.Order
	consumed map[int]struct{}
	// pruned 记录已从历史中删除的订单的最终状态, 使重复的成交通知仍被识别
	pruned map[string]models.OrderStatus
}

// NewManager 创建预算为空的 Manager; 下单前需要调用 Reset。
func NewManager(cfg Config) *Manager {
	if cfg.Engine == nil {
		cfg.Engine = ladder.NewEngine(0)
	}
	if cfg.Policy == nil {
		cfg.Policy = ladder.BeyondSpan{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Manager{
		engine:       cfg.Engine,
		policy:       cfg.Policy,
		ex:           cfg.Exchange,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		now:          cfg.Now,
		newClientID:  cfg.NewClientID,
		historyLimit: cfg.HistoryLimit,
		budget:       budget.NewTracker(decimal.Zero),
		orders:       make(map[string]*models.Order),
		consumed:     make(map[int]struct{}),
		pruned:       make(map[string]models.OrderStatus),
	}
}

// Reset 开始新的策略周期, 预算重置且没有订单。
func (m *Manager) Reset(budgetAmount decimal.Decimal) {
	m.budget = budget.NewTracker(budgetAmount)
	m.orders = make(map[string]*models.Order)
	m.consumed = make(map[int]struct{})
	m.pruned = make(map[string]models.OrderStatus)
}

// Restore 根据持久化快照重建订单表和预算占用。
func (m *Manager) Restore(s *models.Strategy, orders []models.Order, consumed []int) error {
	tracker := budget.NewTracker(s.Params.Budget)
	var reservations []budget.Reservation
	rebuilt := make(map[string]*models.Order, len(orders))
	for i := range orders {
		o := orders[i]
		if _, dup := rebuilt[o.ID]; dup {
			return fmt.Errorf("restore: duplicate order id %s: %w", o.ID, models.ErrAccountingInvariant)
		}
		rebuilt[o.ID] = &o
		if o.IsOpen() && o.ReservationID != 0 {
			reservations = append(reservations, budget.Reservation{ID: o.ReservationID, Amount: o.Cost})
		}
	}
	if err := tracker.Restore(reservations); err != nil {
		return fmt.Errorf("restore budget: %w", err)
	}

	m.budget = tracker
	m.orders = rebuilt
	m.pruned = make(map[string]models.OrderStatus)
	m.consumed = make(map[int]struct{}, len(consumed))
	for _, idx := range consumed {
		m.consumed[idx] = struct{}{}
	}
	return nil
}

// BudgetState 返回当前预算账本。
func (m *Manager) BudgetState() models.BudgetState {
	return m.budget.State()
}

// PlaceLadderOrders 为每个尚未挂单、未被消耗的档位预留预算并下单。
// 遇到第一次预算不足即停止, 剩余档位计入 Skipped。
// 一个档位都未能下单且原因是预算不足时返回 ErrBudgetExceeded。
func (m *Manager) PlaceLadderOrders(ctx context.Context, s *models.Strategy) (models.PlacementReport, error) {
	var report models.PlacementReport
	levels, err := m.engine.ComputeLevels(s.Params)
	if err != nil {
		return report, err
	}

	openIdx := m.openLadderIndexes()
	pending := make([]models.LadderLevel, 0, len(levels))
	for _, lvl := range levels {
		if _, open := openIdx[lvl.Index]; open {
			continue
		}
		if _, used := m.consumed[lvl.Index]; used {
			continue
		}
		pending = append(pending, lvl)
	}

	for i, lvl := range pending {
		_, err := m.place(ctx, s, lvl, models.KindLadder, "")
		if err == nil {
			report.Placed++
			continue
		}
		if errors.Is(err, models.ErrBudgetExceeded) {
			report.Skipped = len(pending) - i
			m.logger.Info("Budget exhausted, partial ladder placed",
				zap.Int("placed", report.Placed),
				zap.Int("skipped", report.Skipped),
				zap.String("available", m.budget.Available().String()))
			if report.Placed == 0 {
				return report, err
			}
			return report, nil
		}
		report.Skipped = len(pending) - i
		return report, fmt.Errorf("place level %d: %w", lvl.Index, err)
	}
	return report, nil
}

// place 为阶梯订单占用预算, 提交订单并记录为 Open。
func (m *Manager) place(ctx context.Context, s *models.Strategy, lvl models.LadderLevel, kind models.OrderKind, parentID string) (*models.Order, error) {
	cost, qty := m.engine.Cost(s.Params, lvl.Price, lvl.Size)
	if kind == models.KindFlip {
		cost, qty = decimal.Zero, lvl.Size
	}
	if !qty.IsPositive() {
		return nil, models.NewParamError("order_size", "level %d quantity %s is not positive", lvl.Index, qty)
	}

	var res budget.Reservation
	if kind == models.KindLadder {
		var err error
		res, err = m.budget.Reserve(cost)
		if err != nil {
			return nil, err
		}
	}

	id, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		ClientID:   m.newClientID(),
		Side:       lvl.Side,
		Price:      lvl.Price,
		Quantity:   qty,
		MakerAsset: s.Params.MakerAsset,
		TakerAsset: s.Params.TakerAsset,
	})
	if err == nil && m.known(id) {
		err = fmt.Errorf("exchange reused order id %s: %w", id, models.ErrAccountingInvariant)
	}
	if err != nil {
		if res.ID != 0 {
			if _, relErr := m.budget.Release(res.ID); relErr != nil {
				m.logger.Error("CRITICAL: failed to release reservation after rejected order", zap.Uint64("reservation", res.ID), zap.Error(relErr))
			}
		}
		return nil, err
	}

	now := m.now()
	o := &models.Order{
		ID:            id,
		LadderIndex:   lvl.Index,
		Kind:          kind,
		Side:          lvl.Side,
		Price:         lvl.Price,
		Size:          lvl.Size,
		Quantity:      qty,
		Cost:          cost,
		ReservationID: res.ID,
		Status:        models.OrderOpen,
		ParentID:      parentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[id] = o
	m.logger.Info("Order placed",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.Int("index", lvl.Index),
		zap.String("side", string(lvl.Side)),
		zap.String("price", lvl.Price.String()),
		zap.String("qty", qty.String()))
	m.record(ctx, s, EventPlaced, *o)
	return o, nil
}

// HandleOrderFill 处理一次成交通知。重复通知是无副作用的成功。
func (m *Manager) HandleOrderFill(ctx context.Context, s *models.Strategy, id string) (FillResult, error) {
	o, ok := m.orders[id]
	if !ok {
		if status, seen := m.pruned[id]; seen {
			m.logger.Debug("Ignoring duplicate fill for pruned order", zap.String("id", id), zap.String("status", string(status)))
			return FillResult{Order: models.Order{ID: id, Status: status}, Duplicate: true}, nil
		}
		return FillResult{}, fmt.Errorf("fill for %s: %w", id, models.ErrUnknownOrder)
	}
	if !o.IsOpen() {
		m.logger.Debug("Ignoring duplicate fill", zap.String("id", id), zap.String("status", string(o.Status)))
		return FillResult{Order: *o, Duplicate: true}, nil
	}

	if o.ReservationID != 0 {
		if _, err := m.budget.Release(o.ReservationID); err != nil {
			return FillResult{}, fmt.Errorf("fill for %s: %w", id, err)
		}
	}
	o.Status = models.OrderFilled
	o.UpdatedAt = m.now()
	m.record(ctx, s, EventFilled, *o)

	result := FillResult{}
	// 停止中的策略只结算成交, 不再补单或翻转
	if s.IsActive && !s.Stopping() && o.Kind == models.KindLadder {
		result.Reposted, result.RepostErr = m.repost(ctx, s, o)
		if result.Reposted != nil {
			o.Status = models.OrderReposted
			m.record(ctx, s, EventReposted, *o)
		}
		if s.Params.FlipToSell && o.Side == models.Buy {
			result.Flip, result.FlipErr = m.flip(ctx, s, o)
		}
	}
	if result.RepostErr != nil {
		m.logger.Warn("Repost failed", zap.String("filled", id), zap.Error(result.RepostErr))
	}
	if result.FlipErr != nil {
		m.logger.Warn("Flip order failed", zap.String("filled", id), zap.Error(result.FlipErr))
	}
	result.Order = *o
	m.prune()
	return result, nil
}

// repost 对成交的阶梯订单执行策略的补单模式。
func (m *Manager) repost(ctx context.Context, s *models.Strategy, filled *models.Order) (*models.Order, error) {
	switch s.Params.RepostMode {
	case models.RepostNone:
		m.consumed[filled.LadderIndex] = struct{}{}
		return nil, nil
	case models.RepostSame:
		lvl := models.LadderLevel{Index: filled.LadderIndex, Price: filled.Price, Size: filled.Size, Side: filled.Side}
		return m.place(ctx, s, lvl, models.KindLadder, filled.ID)
	case models.RepostNextPrice:
		lvl, span, err := m.policy.NextLevel(m.engine, s.Params, s.LadderSpan, *filled)
		if err != nil {
			return nil, err
		}
		o, err := m.place(ctx, s, lvl, models.KindLadder, filled.ID)
		if err != nil {
			return nil, err
		}
		s.LadderSpan = span
		m.consumed[filled.LadderIndex] = struct{}{}
		return o, nil
	default:
		return nil, fmt.Errorf("repost mode %q: %w", s.Params.RepostMode, models.ErrInvalidParameters)
	}
}

// flip 在买单成交后挂出一个翻转卖单, 数量等于成交数量, 不占用预算
func (m *Manager) flip(ctx context.Context, s *models.Strategy, filled *models.Order) (*models.Order, error) {
	markup := decimal.NewFromInt(1).Add(s.Params.FlipPercentage.Div(hundred))
	lvl := models.LadderLevel{
		Index: filled.LadderIndex,
		Price: filled.Price.Mul(markup).Round(m.engine.Precision()),
		Size:  filled.Quantity,
		Side:  models.Sell,
	}
	return m.place(ctx, s, lvl, models.KindFlip, filled.ID)
}

// CancelOrder 按 id 撤销一个 Open 订单。
func (m *Manager) CancelOrder(ctx context.Context, s *models.Strategy, id string) error {
	o, ok := m.orders[id]
	if !ok || !o.IsOpen() {
		return fmt.Errorf("cancel %s: %w", id, models.ErrUnknownOrder)
	}
	if err := m.ex.CancelOrder(ctx, id); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return m.closeOrder(ctx, s, o, models.OrderCancelled, EventCancelled)
}

// CancelAll 撤销所有 Open 订单, 每个订单在交易所确认撤单后才释放预算。
// 交易所报告订单已不在挂单中时按其实际状态结算: 已成交按成交结算, 已撤销或不存在按撤单结算。
// 撤单失败的订单保持 Open 并返回 ErrCancelIncomplete;
// abandon 为 true 时这些订单被标记为 Abandoned 并释放预算, 同时在报告中列出。
func (m *Manager) CancelAll(ctx context.Context, s *models.Strategy, abandon bool) (CancelReport, error) {
	report := CancelReport{Failures: make(map[string]error)}
	for _, snapshot := range m.ActiveOrders() {
		o := m.orders[snapshot.ID]
		if err := m.ex.CancelOrder(ctx, o.ID); err != nil {
			settled, rerr := m.reconcileClosed(ctx, s, o, err)
			if rerr != nil {
				return report, rerr
			}
			switch settled {
			case models.OrderFilled:
				report.Filled++
				continue
			case models.OrderCancelled:
				report.Cancelled++
				continue
			}
			report.Failures[o.ID] = err
			m.logger.Warn("Cancel failed", zap.String("id", o.ID), zap.Error(err))
			if abandon {
				if cerr := m.closeOrder(ctx, s, o, models.OrderAbandoned, EventAbandoned); cerr != nil {
					return report, cerr
				}
			}
			report.StillOpen = append(report.StillOpen, *o)
			continue
		}
		if err := m.closeOrder(ctx, s, o, models.OrderCancelled, EventCancelled); err != nil {
			return report, err
		}
		report.Cancelled++
	}
	m.prune()
	if len(report.StillOpen) > 0 && !abandon {
		total := len(report.StillOpen) + report.Cancelled + report.Filled
		return report, fmt.Errorf("%d of %d orders still open: %w", len(report.StillOpen), total, models.ErrCancelIncomplete)
	}
	return report, nil
}

// reconcileClosed 在撤单返回 ErrOrderNotOpen 或 ErrOrderNotFound 时查询订单的实际状态并结算。
// 返回结算后的状态; 无法确认时返回空字符串, 订单保持 Open。
func (m *Manager) reconcileClosed(ctx context.Context, s *models.Strategy, o *models.Order, cancelErr error) (models.OrderStatus, error) {
	if !errors.Is(cancelErr, exchange.ErrOrderNotOpen) && !errors.Is(cancelErr, exchange.ErrOrderNotFound) {
		return "", nil
	}
	info, err := m.ex.GetOrderInfo(ctx, o.ID)
	if err != nil {
		m.logger.Warn("Order status lookup failed during cancel", zap.String("id", o.ID), zap.Error(err))
		return "", nil
	}
	switch {
	case info.Exists && info.Status == exchange.StatusFilled:
		m.logger.Info("Order filled before it could be cancelled", zap.String("id", o.ID))
		return models.OrderFilled, m.closeOrder(ctx, s, o, models.OrderFilled, EventFilled)
	case !info.Exists || info.Status == exchange.StatusCancelled:
		m.logger.Info("Order already gone at the exchange", zap.String("id", o.ID), zap.Bool("exists", info.Exists))
		return models.OrderCancelled, m.closeOrder(ctx, s, o, models.OrderCancelled, EventCancelled)
	default:
		return "", nil
	}
}

func (m *Manager) closeOrder(ctx context.Context, s *models.Strategy, o *models.Order, status models.OrderStatus, event string) error {
	if o.ReservationID != 0 {
		if _, err := m.budget.Release(o.ReservationID); err != nil {
			return fmt.Errorf("close %s: %w", o.ID, err)
		}
	}
	o.Status = status
	o.UpdatedAt = m.now()
	m.record(ctx, s, event, *o)
	return nil
}

// ActiveOrders 返回所有 Open 订单, 按档位索引排序, 无副作用。
func (m *Manager) ActiveOrders() []models.Order {
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.IsOpen() {
			out = append(out, *o)
		}
	}
	sortOrders(out)
	return out
}

// Orders 返回所有跟踪中的订单, 包括已结束的。
func (m *Manager) Orders() []models.Order {
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sortOrders(out)
	return out
}

// Order 查找一个跟踪中的订单。
func (m *Manager) Order(id string) (models.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// Consumed 返回不会再次下单的档位编号。
func (m *Manager) Consumed() []int {
	out := make([]int, 0, len(m.consumed))
	for idx := range m.consumed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// HasPlaceableLevel 判断是否还有空闲且预算足够的基础档位。
func (m *Manager) HasPlaceableLevel(s *models.Strategy) bool {
	levels, err := m.engine.ComputeLevels(s.Params)
	if err != nil {
		return false
	}
	openIdx := m.openLadderIndexes()
	for _, lvl := range levels {
		if _, open := openIdx[lvl.Index]; open {
			continue
		}
		if _, used := m.consumed[lvl.Index]; used {
			continue
		}
		cost, _ := m.engine.Cost(s.Params, lvl.Price, lvl.Size)
		if m.budget.CanAfford(cost) {
			return true
		}
	}
	return false
}

func (m *Manager) openLadderIndexes() map[int]struct{} {
	idx := make(map[int]struct{})
	for _, o := range m.orders {
		if o.IsOpen() && o.Kind == models.KindLadder {
			idx[o.LadderIndex] = struct{}{}
		}
	}
	return idx
}

// prune 删除最旧的已结束订单, 使历史记录不超过上限
func (m *Manager) prune() {
	var closed []*models.Order
	for _, o := range m.orders {
		if !o.IsOpen() {
			closed = append(closed, o)
		}
	}
	excess := len(closed) - m.historyLimit
	if excess <= 0 {
		return
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].UpdatedAt.Before(closed[j].UpdatedAt) })
	for _, o := range closed[:excess] {
		m.pruned[o.ID] = o.Status
		delete(m.orders, o.ID)
	}
}

func (m *Manager) known(id string) bool {
	if _, ok := m.orders[id]; ok {
		return true
	}
	_, ok := m.pruned[id]
	return ok
}

func (m *Manager) record(ctx context.Context, s *models.Strategy, event string, o models.Order) {
	metrics.OrderEvents.WithLabelValues(event).Inc()
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, s.ID, event, o); err != nil {
		m.logger.Warn("Failed to record order event", zap.String("event", event), zap.String("id", o.ID), zap.Error(err))
	}
}

func sortOrders(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].LadderIndex != orders[j].LadderIndex {
			return orders[i].LadderIndex < orders[j].LadderIndex
		}
		if orders[i].Kind != orders[j].Kind {
			return orders[i].Kind == models.KindLadder
		}
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
