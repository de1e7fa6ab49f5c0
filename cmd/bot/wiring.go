package main

import (
	"time"

	"ladder-bot-go/internal/access"
	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/ladder"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"
	"ladder-bot-go/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// buildController 按配置组装阶梯引擎、订单管理器、风控和控制器
func buildController(cfg *models.Config, ex exchange.Exchange, recorder orders.Recorder, now func() time.Time, logger *zap.Logger) (*controller.Controller, error) {
	policy, err := ladder.PolicyByName(cfg.Engine.NextPricePolicy)
	if err != nil {
		return nil, err
	}
	engine := newEngine(cfg)
	om := orders.NewManager(orders.Config{
		Engine:   engine,
		Policy:   policy,
		Exchange: ex,
		Recorder: recorder,
		Logger:   logger.Named("orders"),
		Now:      now,
	})
	return controller.New(controller.Config{
		BotID:  cfg.BotID,
		Engine: engine,
		Orders: om,
		Risk: risk.NewManager(
			time.Duration(cfg.Oracle.FreshnessSec)*time.Second,
			decimal.NewFromFloat(cfg.Oracle.MinConfidence),
		),
		Oracle: oracle.NewStore(),
		Access: access.New(cfg.Owner),
		Logger: logger.Named("controller"),
		Now:    now,
	}), nil
}

// newEngine 在币安模式下按交易对的价格和数量精度计算档位, 挂出的订单与本地记录一致
func newEngine(cfg *models.Config) *ladder.Engine {
	if cfg.Exchange.Mode == "binance" {
		return ladder.NewEngine(cfg.Exchange.PricePrecision).WithQuantityPrecision(cfg.Exchange.QuantityPrecision)
	}
	return ladder.NewEngine(cfg.Engine.PricePrecision)
}
