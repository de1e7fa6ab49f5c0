package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/reporter"
	"ladder-bot-go/internal/statemanager"

	"go.uber.org/zap"
)

// Feed 是长期运行的价格源, 例如 oracle.StreamFeed 或 oracle.Poller。
type Feed interface {
	Run(ctx context.Context)
}

// Config 组装运行时所需的组件
type Config struct {
	Controller        *controller.Controller
	Events            *statemanager.StateManager
	Exchange          exchange.Exchange
	Feeds             []Feed
	OrderPollInterval time.Duration // 0 表示不轮询订单状态(成交由外部推送)
	RiskCheckInterval time.Duration
	StatusInterval    time.Duration
	StatusOut         io.Writer // nil 时状态只写日志
	Logger            *zap.Logger
}

// LadderBot 是阶梯机器人的运行时: 价格源、订单状态轮询、定时风控和状态监控。
// 所有状态修改都通过 StateManager 的事件队列串行送达控制器。
type LadderBot struct {
	ctrl     *controller.Controller
	events   *statemanager.StateManager
	exchange exchange.Exchange
	feeds    []Feed

	orderPollInterval time.Duration
	riskCheckInterval time.Duration
	statusInterval    time.Duration
	statusOut         io.Writer
	logger            *zap.Logger

	mutex     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config) *LadderBot {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &LadderBot{
		ctrl:              cfg.Controller,
		events:            cfg.Events,
		exchange:          cfg.Exchange,
		feeds:             cfg.Feeds,
		orderPollInterval: cfg.OrderPollInterval,
		riskCheckInterval: cfg.RiskCheckInterval,
		statusInterval:    cfg.StatusInterval,
		statusOut:         cfg.StatusOut,
		logger:            cfg.Logger,
	}
}

// Start 启动事件循环和所有后台任务。
func (b *LadderBot) Start(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.isRunning {
		return errors.New("bot is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.isRunning = true

	b.events.Start(ctx)

	for _, f := range b.feeds {
		b.spawn(func() { f.Run(ctx) })
	}
	if b.orderPollInterval > 0 {
		b.spawn(func() { b.every(ctx, b.orderPollInterval, b.checkOrderStatusAndHandleFills) })
	}
	if b.riskCheckInterval > 0 {
		b.spawn(func() { b.every(ctx, b.riskCheckInterval, b.dispatchRiskCheck) })
	}
	if b.statusInterval > 0 {
		b.spawn(func() { b.every(ctx, b.statusInterval, func(context.Context) { b.printStatus() }) })
	}

	b.logger.Info("Ladder bot started",
		zap.Int("feeds", len(b.feeds)),
		zap.Duration("orderPoll", b.orderPollInterval),
		zap.Duration("riskCheck", b.riskCheckInterval))
	return nil
}

// Stop 停止所有后台任务。挂单保持不变, 下次启动时从快照恢复。
func (b *LadderBot) Stop() {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return
	}
	b.isRunning = false
	b.cancel()
	b.mutex.Unlock()

	b.wg.Wait()
	b.events.Stop()
	b.logger.Info("Ladder bot stopped", zap.Int("openOrders", len(b.ctrl.ActiveOrders())))
}

func (b *LadderBot) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *LadderBot) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// checkOrderStatusAndHandleFills 并发查询所有挂单的状态, 已成交的订单作为成交事件派发。
// 派发成交后追加一次补挂, 成交释放的预算可能让待挂档位变得可负担。
func (b *LadderBot) checkOrderStatusAndHandleFills(ctx context.Context) {
	open := b.ctrl.ActiveOrders()
	if len(open) == 0 {
		return
	}

	filled := make(chan string, len(open))
	var wg sync.WaitGroup
	for _, o := range open {
		wg.Add(1)
		go func(o models.Order) {
			defer wg.Done()
			info, err := b.exchange.GetOrderInfo(ctx, o.ID)
			if err != nil {
				b.logger.Warn("Order status query failed", zap.String("id", o.ID), zap.Error(err))
				return
			}
			switch {
			case !info.Exists:
				b.logger.Warn("Open order is unknown to the protocol", zap.String("id", o.ID), zap.Int("index", o.LadderIndex))
			case info.Status == exchange.StatusFilled:
				filled <- o.ID
			case info.Status == exchange.StatusCancelled:
				b.logger.Warn("Order was cancelled outside the bot", zap.String("id", o.ID), zap.Int("index", o.LadderIndex))
			}
		}(o)
	}
	wg.Wait()
	close(filled)

	fills := 0
	for id := range filled {
		if err := b.events.DispatchEvent(statemanager.NormalizedEvent{
			Type: statemanager.FillEvent,
			Data: statemanager.FillEventData{OrderID: id},
		}); err != nil {
			return
		}
		fills++
	}
	if fills > 0 {
		b.logger.Info("Detected fills", zap.Int("count", fills))
		_ = b.events.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.PlaceEvent})
	}
}

func (b *LadderBot) dispatchRiskCheck(context.Context) {
	_ = b.events.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.RiskCheckEvent})
}

func (b *LadderBot) printStatus() {
	st := b.ctrl.Snapshot()
	if b.statusOut != nil {
		reporter.RenderState(b.statusOut, st)
		return
	}
	if st.Strategy == nil {
		b.logger.Info("Status: no strategy")
		return
	}
	b.logger.Info("Status",
		zap.String("strategy", st.Strategy.ID),
		zap.String("state", string(st.Strategy.State)),
		zap.Int("openOrders", len(st.OpenOrders())),
		zap.String("committed", st.Budget.Committed.String()),
		zap.String("available", st.Budget.Available.String()),
		zap.String("summary", fmt.Sprintf("%s %s/%s", st.Strategy.Params.StrategyType, st.Strategy.Params.MakerAsset, st.Strategy.Params.TakerAsset)))
}
