package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ladder-bot-go/internal/access"
	"ladder-bot-go/internal/ladder"
	"ladder-bot-go/internal/metrics"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"
	"ladder-bot-go/internal/risk"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StateObserver 在每次修改后收到一份私有的状态副本。
type StateObserver func(*models.BotState)

// Config 组装控制器依赖的组件
type Config struct {
	BotID  string
	Engine *ladder.Engine
	Orders *orders.Manager
	Risk   *risk.Manager
	Oracle oracle.Oracle
	Access *access.Control
	Logger *zap.Logger
	Now    func() time.Time
}

// Controller 是策略状态机: Uninitialized -> Active -> {Stopped, Completed, Cancelled}。
// 所有修改操作在同一把互斥锁下串行执行; 读取操作只读取原子发布的快照, 不会阻塞写入。
type Controller struct {
	mu sync.Mutex

	botID  string
	engine *ladder.Engine
	orders *orders.Manager
	risk   *risk.Manager
	oracle oracle.Oracle
	access *access.Control
	logger *zap.Logger
	now    func() time.Time

	strategy  *models.Strategy
	observers []StateObserver
	snapshot  atomic.Pointer[models.BotState]
}

func New(cfg Config) *Controller {
	if cfg.Engine == nil {
		cfg.Engine = ladder.NewEngine(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{
		botID:  cfg.BotID,
		engine: cfg.Engine,
		orders: cfg.Orders,
		risk:   cfg.Risk,
		oracle: cfg.Oracle,
		access: cfg.Access,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c
}

// OnStateChange 注册观察者。观察者在临界区内执行, 不能阻塞。
func (c *Controller) OnStateChange(fn StateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// CreateStrategy 校验参数并试算阶梯, 成功后策略进入 Active 状态。
// 校验失败时不修改任何状态。
func (c *Controller) CreateStrategy(ctx context.Context, caller string, p models.StrategyParams) (*models.Strategy, error) {
	if err := c.access.Check(caller); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy != nil && c.strategy.IsActive {
		return nil, fmt.Errorf("strategy %s: %w", c.strategy.ID, models.ErrStrategyActive)
	}
	now := c.now()
	if err := c.validateParams(p, now); err != nil {
		return nil, err
	}
	if _, err := c.engine.ComputeLevels(p); err != nil {
		return nil, err
	}

	s := &models.Strategy{
		ID:         uuid.NewString(),
		Owner:      c.access.Admin(),
		CreatedBy:  caller,
		Params:     p,
		IsActive:   true,
		State:      models.StateActive,
		LadderSpan: p.NumOrders,
		CreatedAt:  now,
	}
	c.orders.Reset(p.Budget)
	c.strategy = s
	c.logger.Info("Strategy created",
		zap.String("id", s.ID),
		zap.String("owner", s.Owner),
		zap.String("createdBy", caller),
		zap.String("type", string(p.StrategyType)),
		zap.String("repost", string(p.RepostMode)),
		zap.String("startPrice", p.StartPrice.String()),
		zap.Int("levels", p.NumOrders))
	c.publishLocked()
	return cloneStrategy(s), nil
}

func (c *Controller) validateParams(p models.StrategyParams, now time.Time) error {
	if strings.TrimSpace(p.MakerAsset) == "" {
		return models.NewParamError("maker_asset", "must not be empty")
	}
	if strings.TrimSpace(p.TakerAsset) == "" {
		return models.NewParamError("taker_asset", "must not be empty")
	}
	if p.MakerAsset == p.TakerAsset {
		return models.NewParamError("taker_asset", "must differ from maker asset %s", p.MakerAsset)
	}
	if !p.StrategyType.Valid() {
		return models.NewParamError("strategy_type", "unknown ladder type %q", p.StrategyType)
	}
	if !p.RepostMode.Valid() {
		return models.NewParamError("repost_mode", "unknown repost mode %q", p.RepostMode)
	}
	if p.SizeUnit != "" && !p.SizeUnit.Valid() {
		return models.NewParamError("size_unit", "unknown size unit %q", p.SizeUnit)
	}
	if !p.Budget.IsPositive() {
		return models.NewParamError("budget", "must be > 0, got %s", p.Budget)
	}
	if p.StopLoss.IsNegative() {
		return models.NewParamError("stop_loss", "must be >= 0, got %s", p.StopLoss)
	}
	if p.TakeProfit.IsNegative() {
		return models.NewParamError("take_profit", "must be >= 0, got %s", p.TakeProfit)
	}
	if !p.StopLoss.IsZero() && !p.TakeProfit.IsZero() {
		if p.StrategyType == models.BuyLadder && !p.StopLoss.LessThan(p.TakeProfit) {
			return models.NewParamError("stop_loss", "buy ladder stop loss %s must be below take profit %s", p.StopLoss, p.TakeProfit)
		}
		if p.StrategyType == models.SellLadder && !p.StopLoss.GreaterThan(p.TakeProfit) {
			return models.NewParamError("stop_loss", "sell ladder stop loss %s must be above take profit %s", p.StopLoss, p.TakeProfit)
		}
	}
	if p.FlipPercentage.IsNegative() {
		return models.NewParamError("flip_percentage", "must be >= 0, got %s", p.FlipPercentage)
	}
	if !p.ExpiryTime.After(now) {
		return models.NewParamError("expiry_time", "%s is not in the future", p.ExpiryTime.Format(time.RFC3339))
	}
	return nil
}

// PlaceLadderOrders 为所有未下单的档位下单。部分下单通过报告返回, 不视为错误。
func (c *Controller) PlaceLadderOrders(ctx context.Context, caller string) (models.PlacementReport, error) {
	if err := c.access.Check(caller); err != nil {
		return models.PlacementReport{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return models.PlacementReport{}, err
	}
	report, err := c.orders.PlaceLadderOrders(ctx, c.strategy)
	c.publishLocked()
	if err != nil {
		return report, err
	}
	c.logger.Info("Ladder placement finished", zap.Int("placed", report.Placed), zap.Int("skipped", report.Skipped))
	return report, nil
}

// HandleOrderFill 处理成交通知。重复通知是无副作用的成功。
// 补单模式为 NONE 且没有剩余挂单和可负担的档位时, 策略进入 Completed。
func (c *Controller) HandleOrderFill(ctx context.Context, caller, orderID string) (orders.FillResult, error) {
	if err := c.access.Check(caller); err != nil {
		return orders.FillResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == nil {
		return orders.FillResult{}, fmt.Errorf("fill for %s: %w", orderID, models.ErrUnknownOrder)
	}
	res, err := c.orders.HandleOrderFill(ctx, c.strategy, orderID)
	if err != nil {
		return res, err
	}
	if res.Duplicate {
		return res, nil
	}

	s := c.strategy
	switch {
	case s.Stopping() && len(c.orders.ActiveOrders()) == 0:
		// 最后一个撤单失败的订单已经成交, 挂起的转换可以完成
		if _, err := c.transitionLocked(ctx, s.PendingState, s.PendingReason, false); err != nil {
			c.logger.Warn("Pending transition failed", zap.Error(err))
		}
	case s.IsActive && !s.Stopping() && s.Params.RepostMode == models.RepostNone &&
		len(c.orders.ActiveOrders()) == 0 && !c.orders.HasPlaceableLevel(s):
		if _, err := c.transitionLocked(ctx, models.StateCompleted, "ladder exhausted", false); err != nil {
			c.logger.Warn("Completion transition failed", zap.Error(err))
		}
	}
	c.publishLocked()
	return res, nil
}

// UpdatePrice 写入一条报价, 如果是当前策略的 MakerAsset 则立即进行风控评估。
func (c *Controller) UpdatePrice(ctx context.Context, caller string, q oracle.Quote) (risk.Outcome, error) {
	if err := c.access.Check(caller); err != nil {
		return risk.Continue, err
	}
	if err := c.oracle.UpdatePrice(q); err != nil {
		return risk.Continue, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == nil || !c.strategy.IsActive || q.Asset != c.strategy.Params.MakerAsset {
		return risk.Continue, nil
	}
	latest, err := c.oracle.GetPrice(q.Asset)
	if err != nil {
		return risk.Continue, err
	}
	metrics.LastPrice.Set(latest.Price.InexactFloat64())
	if c.strategy.Stopping() {
		return c.retryPendingLocked(ctx)
	}
	return c.evaluateLocked(ctx, latest)
}

// CheckRisk 由定时器驱动。即使没有可用价格也会检查过期。
func (c *Controller) CheckRisk(ctx context.Context) (risk.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == nil || !c.strategy.IsActive {
		return risk.Continue, nil
	}
	if c.strategy.Stopping() {
		return c.retryPendingLocked(ctx)
	}
	if out := c.risk.CheckExpiry(c.strategy, c.now()); out == risk.Expired {
		return c.triggerLocked(ctx, out)
	}
	q, err := c.oracle.GetPrice(c.strategy.Params.MakerAsset)
	if err != nil {
		return risk.Continue, err
	}
	return c.evaluateLocked(ctx, q)
}

func (c *Controller) evaluateLocked(ctx context.Context, q oracle.Quote) (risk.Outcome, error) {
	out, err := c.risk.Evaluate(c.strategy, q, c.now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrStalePrice):
			metrics.RiskSkips.WithLabelValues("stale").Inc()
		case errors.Is(err, models.ErrLowConfidence):
			metrics.RiskSkips.WithLabelValues("low_confidence").Inc()
		}
		c.logger.Debug("Risk evaluation skipped", zap.Error(err))
		return risk.Continue, err
	}
	if !out.Triggered() {
		return out, nil
	}
	return c.triggerLocked(ctx, out)
}

func (c *Controller) triggerLocked(ctx context.Context, out risk.Outcome) (risk.Outcome, error) {
	c.logger.Warn("Risk trigger, stopping strategy", zap.String("outcome", string(out)), zap.String("strategy", c.strategy.ID))
	metrics.RiskTriggers.WithLabelValues(string(out)).Inc()
	_, err := c.transitionLocked(ctx, models.StateStopped, string(out), false)
	c.publishLocked()
	return out, err
}

// retryPendingLocked 重试上次未完成的转换, 与当前价格无关。
// 之前的触发原因是风控结果时原样返回, 这样调用方看到的结果保持一致。
func (c *Controller) retryPendingLocked(ctx context.Context) (risk.Outcome, error) {
	s := c.strategy
	out := risk.Continue
	if s.PendingState == models.StateStopped {
		out = risk.Outcome(s.PendingReason)
	}
	c.logger.Info("Retrying pending transition", zap.String("target", string(s.PendingState)), zap.String("reason", s.PendingReason))
	_, err := c.transitionLocked(ctx, s.PendingState, s.PendingReason, false)
	c.publishLocked()
	return out, err
}

// CancelAll 撤销全部挂单并把策略置为 Cancelled。没有活跃策略时是无操作。
// 撤单不完整时策略保持 Active; abandon 为 true 时放弃未能撤销的订单并照常结束策略。
func (c *Controller) CancelAll(ctx context.Context, caller string, abandon bool) (orders.CancelReport, error) {
	if err := c.access.Check(caller); err != nil {
		return orders.CancelReport{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == nil || !c.strategy.IsActive {
		return orders.CancelReport{}, nil
	}
	report, err := c.transitionLocked(ctx, models.StateCancelled, "cancelled by "+caller, abandon)
	c.publishLocked()
	return report, err
}

// CancelOrder 按 id 撤销一个挂单。
func (c *Controller) CancelOrder(ctx context.Context, caller, orderID string) error {
	if err := c.access.Check(caller); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == nil {
		return fmt.Errorf("cancel %s: %w", orderID, models.ErrUnknownOrder)
	}
	err := c.orders.CancelOrder(ctx, c.strategy, orderID)
	c.publishLocked()
	return err
}

// transitionLocked 离开 Active 状态前先撤销所有挂单; 撤单不完整则保持 Active,
// 并记录挂起的目标状态, 在此期间成交不再补单, 直到转换完成。
func (c *Controller) transitionLocked(ctx context.Context, target models.StrategyState, reason string, abandon bool) (orders.CancelReport, error) {
	s := c.strategy
	s.PendingState = target
	s.PendingReason = reason
	report, err := c.orders.CancelAll(ctx, s, abandon)
	if err != nil {
		c.logger.Error("Cancel incomplete, strategy stays active",
			zap.String("target", string(target)),
			zap.Int("stillOpen", len(report.StillOpen)),
			zap.Error(err))
		return report, err
	}
	if len(report.StillOpen) > 0 {
		c.logger.Warn("Abandoned orders that could not be cancelled", zap.Int("count", len(report.StillOpen)))
	}

	s.IsActive = false
	s.PendingState = ""
	s.PendingReason = ""
	s.State = target
	s.StoppedAt = c.now()
	s.StopReason = reason
	c.logger.Info("Strategy deactivated",
		zap.String("id", s.ID),
		zap.String("state", string(target)),
		zap.String("reason", reason),
		zap.Int("cancelled", report.Cancelled))
	return report, nil
}

func (c *Controller) requireActiveLocked() error {
	if c.strategy == nil {
		return fmt.Errorf("no strategy: %w", models.ErrInvalidState)
	}
	if !c.strategy.IsActive {
		return fmt.Errorf("strategy %s is %s: %w", c.strategy.ID, c.strategy.State, models.ErrInvalidState)
	}
	if c.strategy.Stopping() {
		return fmt.Errorf("strategy %s is stopping (%s): %w", c.strategy.ID, c.strategy.PendingState, models.ErrInvalidState)
	}
	return nil
}

// Authorize 把 caller 加入授权列表, 仅管理员可调用。
func (c *Controller) Authorize(actor, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.access.Authorize(actor, caller); err != nil {
		return err
	}
	c.publishLocked()
	return nil
}

// Revoke 把 caller 移出授权列表, 仅管理员可调用。
func (c *Controller) Revoke(actor, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.access.Revoke(actor, caller); err != nil {
		return err
	}
	c.publishLocked()
	return nil
}

// Restore 从持久化快照恢复策略、订单、预算和授权列表。
func (c *Controller) Restore(st *models.BotState) error {
	if st == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.Strategy != nil {
		s := cloneStrategy(st.Strategy)
		if err := c.orders.Restore(s, st.Orders, st.Consumed); err != nil {
			return err
		}
		c.strategy = s
	}
	c.access.Restore(st.Authorized)
	c.logger.Info("State restored", zap.String("botId", st.BotID), zap.Int("openOrders", len(st.OpenOrders())))
	c.publishLocked()
	return nil
}

// publishLocked 生成新的不可变快照并通知观察者。必须在持有锁的情况下调用。
func (c *Controller) publishLocked() {
	st := &models.BotState{
		BotID:          c.botID,
		Version:        models.StateVersion,
		Strategy:       cloneStrategy(c.strategy),
		Orders:         c.orders.Orders(),
		Consumed:       c.orders.Consumed(),
		Budget:         c.orders.BudgetState(),
		Authorized:     c.access.List(),
		LastUpdateTime: c.now(),
	}
	c.snapshot.Store(st)
	metrics.ObserveState(st)
	for _, obs := range c.observers {
		obs(st.Clone())
	}
}

// Snapshot 返回最新发布状态的深拷贝。
func (c *Controller) Snapshot() *models.BotState {
	return c.snapshot.Load().Clone()
}

// Strategy 返回当前策略; 首次 CreateStrategy 之前返回 nil。
func (c *Controller) Strategy() *models.Strategy {
	return cloneStrategy(c.snapshot.Load().Strategy)
}

// ActiveOrders 返回按档位排序的挂单。
func (c *Controller) ActiveOrders() []models.Order {
	return c.snapshot.Load().OpenOrders()
}

func (c *Controller) Budget() models.BudgetState {
	return c.snapshot.Load().Budget
}

func cloneStrategy(s *models.Strategy) *models.Strategy {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
