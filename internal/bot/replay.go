package bot

import (
	"context"
	"errors"

	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/downloader"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Replayer 用历史K线驱动模拟交易所和控制器。与实盘不同, 成交在回调中同步处理,
// 每根K线结束后用收盘价更新预言机并做一次风控评估。
type Replayer struct {
	ctrl   *controller.Controller
	paper  *exchange.PaperExchange
	caller string
	asset  string
	logger *zap.Logger

	fillsSinceCandle int
}

// NewReplayer 把自己注册为模拟交易所的成交回调。
func NewReplayer(ctrl *controller.Controller, paper *exchange.PaperExchange, caller, asset string, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replayer{ctrl: ctrl, paper: paper, caller: caller, asset: asset, logger: logger}
	paper.OnFill(r.onFill)
	return r
}

func (r *Replayer) onFill(f exchange.Fill) {
	r.fillsSinceCandle++
	res, err := r.ctrl.HandleOrderFill(context.Background(), r.caller, f.OrderID)
	if err != nil {
		r.logger.Warn("Replay fill rejected", zap.String("id", f.OrderID), zap.Error(err))
		return
	}
	r.logger.Debug("Replay fill",
		zap.String("id", f.OrderID),
		zap.String("side", string(f.Side)),
		zap.String("price", f.Price.String()),
		zap.Bool("reposted", res.Reposted != nil),
		zap.Bool("flipped", res.Flip != nil))
}

// Run 回放K线, 直到K线用完或策略离开 Active 状态, 返回处理的K线数量。
func (r *Replayer) Run(ctx context.Context, candles []downloader.Candle) (int, error) {
	if _, err := r.ctrl.PlaceLadderOrders(ctx, r.caller); err != nil && !errors.Is(err, models.ErrBudgetExceeded) {
		return 0, err
	}

	processed := 0
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if s := r.ctrl.Strategy(); s == nil || !s.IsActive {
			break
		}

		r.fillsSinceCandle = 0
		r.paper.SetPrice(c.Open, c.High, c.Low, c.Close, c.CloseTime)
		processed++

		if r.fillsSinceCandle > 0 {
			if _, err := r.ctrl.PlaceLadderOrders(ctx, r.caller); err != nil &&
				!errors.Is(err, models.ErrBudgetExceeded) && !errors.Is(err, models.ErrInvalidState) {
				r.logger.Warn("Replay placement failed", zap.Error(err))
			}
		}

		q := oracle.Quote{Asset: r.asset, Price: c.Close, Confidence: decimal.NewFromInt(1), Timestamp: c.CloseTime, Source: "replay"}
		out, err := r.ctrl.UpdatePrice(ctx, r.caller, q)
		if err != nil {
			r.logger.Debug("Replay price not applied", zap.Error(err))
		}
		if out.Triggered() {
			r.logger.Info("Replay risk trigger", zap.String("outcome", string(out)), zap.Time("at", c.CloseTime))
		}
		if _, err := r.ctrl.CheckRisk(ctx); err != nil {
			r.logger.Debug("Replay risk check", zap.Error(err))
		}
	}
	return processed, nil
}
