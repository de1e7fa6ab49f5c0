package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ladder-bot-go/internal/api"
	"ladder-bot-go/internal/bot"
	"ladder-bot-go/internal/config"
	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/logger"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/persistence"
	"ladder-bot-go/internal/statemanager"
	"ladder-bot-go/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	strategyPath string
	paperQuote   string
	paperBase    string
	printStatus  bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ladder bot until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLive(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.strategyPath, "strategy", "s", "", "create a strategy from this YAML file on startup")
	cmd.Flags().StringVar(&opts.paperQuote, "paper-quote", "10000", "initial taker asset balance in paper mode")
	cmd.Flags().StringVar(&opts.paperBase, "paper-base", "0", "initial maker asset balance in paper mode")
	cmd.Flags().BoolVar(&opts.printStatus, "table", false, "print the periodic status as a table instead of a log line")
	return cmd
}

func runLive(parent context.Context, opts *runOptions) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}
	log := logger.InitLogger(cfg.LogConfig)
	log.Info("--- 启动阶梯交易机器人 ---", zap.String("bot", cfg.BotID), zap.String("mode", cfg.Exchange.Mode))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath, cfg.BotID)
	if err != nil {
		return err
	}
	defer repo.Close()

	ledger, err := storage.NewLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var (
		ex    exchange.Exchange
		paper *exchange.PaperExchange
	)
	switch cfg.Exchange.Mode {
	case "binance":
		be := exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:            cfg.Exchange.APIKey,
			SecretKey:         cfg.Exchange.SecretKey,
			Symbol:            cfg.Exchange.Symbol,
			IsTestnet:         cfg.Exchange.IsTestnet,
			PricePrecision:    cfg.Exchange.PricePrecision,
			QuantityPrecision: cfg.Exchange.QuantityPrecision,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			RequestBurst:      cfg.Exchange.RequestBurst,
		}, log.Named("binance"))
		if err := be.SyncTime(ctx); err != nil {
			log.Warn("与币安服务器同步时间失败", zap.Error(err))
		}
		ex = be
	default:
		quote, err := decimal.NewFromString(opts.paperQuote)
		if err != nil {
			return fmt.Errorf("--paper-quote: %w", err)
		}
		base, err := decimal.NewFromString(opts.paperBase)
		if err != nil {
			return fmt.Errorf("--paper-base: %w", err)
		}
		paper = exchange.NewPaperExchange(exchange.PaperConfig{
			Symbol:       cfg.Exchange.Symbol,
			InitialQuote: quote,
			InitialBase:  base,
			MakerFeeRate: decimal.Zero,
		})
		ex = paper
	}

	ctrl, err := buildController(cfg, ex, ledger, time.Now, log)
	if err != nil {
		return err
	}
	events := statemanager.NewStateManager(ctrl, repo, cfg.Owner, cfg.Engine.EventBufferSize, log.Named("events"))
	ctrl.OnStateChange(events.Persist)

	saved, err := repo.LoadState()
	if err != nil {
		return fmt.Errorf("无法加载状态: %w", err)
	}
	if err := ctrl.Restore(saved); err != nil {
		return fmt.Errorf("无法恢复状态: %w", err)
	}
	if paper != nil && saved != nil && len(saved.OpenOrders()) > 0 {
		log.Warn("纸面交易所不保留挂单, 恢复的订单不会再成交", zap.Int("openOrders", len(saved.OpenOrders())))
	}

	if opts.strategyPath != "" {
		if err := createFromFile(ctx, ctrl, cfg.Owner, opts.strategyPath, log); err != nil {
			return err
		}
	}

	dispatchPrice := func(q oracle.Quote) {
		if paper != nil {
			paper.SetPrice(q.Price, q.Price, q.Price, q.Price, q.Timestamp)
		}
		_ = events.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.PriceEvent, Caller: cfg.Owner, Data: q})
	}
	if paper != nil {
		paper.OnFill(func(f exchange.Fill) {
			_ = events.DispatchEvent(statemanager.NormalizedEvent{
				Type: statemanager.FillEvent,
				Data: statemanager.FillEventData{OrderID: f.OrderID},
			})
			_ = events.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.PlaceEvent})
		})
	}

	var feeds []bot.Feed
	switch cfg.Oracle.Source {
	case "websocket":
		feeds = append(feeds, oracle.NewStreamFeed(oracle.StreamConfig{
			BaseURL:      cfg.Oracle.WSBaseURL,
			Symbol:       cfg.Oracle.StreamSymbol,
			Asset:        cfg.Oracle.Asset,
			PingInterval: time.Duration(cfg.Oracle.PingIntervalSec) * time.Second,
			PongWait:     time.Duration(cfg.Oracle.PongTimeoutSec) * time.Second,
		}, dispatchPrice, log.Named("stream")))
	case "rest":
		feeds = append(feeds, oracle.NewPoller(
			oracle.NewBinanceFetcher(cfg.Exchange.IsTestnet),
			strings.ToUpper(cfg.Oracle.StreamSymbol),
			cfg.Oracle.Asset,
			time.Duration(cfg.Oracle.PollIntervalSec)*time.Second,
			dispatchPrice,
			log.Named("poller"),
		))
	}

	// 纸面模式的成交由回调推送, 不需要轮询
	pollInterval := time.Duration(cfg.Engine.OrderPollIntervalSec) * time.Second
	if paper != nil {
		pollInterval = 0
	}
	botCfg := bot.Config{
		Controller:        ctrl,
		Events:            events,
		Exchange:          ex,
		Feeds:             feeds,
		OrderPollInterval: pollInterval,
		RiskCheckInterval: time.Duration(cfg.Engine.RiskCheckIntervalSec) * time.Second,
		StatusInterval:    time.Duration(cfg.Engine.StatusIntervalSec) * time.Second,
		Logger:            log.Named("bot"),
	}
	if opts.printStatus {
		botCfg.StatusOut = os.Stdout
	}
	ladderBot := bot.New(botCfg)
	if err := ladderBot.Start(ctx); err != nil {
		return fmt.Errorf("机器人启动失败: %w", err)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(ctrl, cfg.API, log.Named("api"))
		go func() {
			if err := server.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("收到退出信号, 正在停止...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("API server shutdown", zap.Error(err))
		}
		cancel()
	}
	ladderBot.Stop()
	log.Info("机器人已停止, 挂单保持不变, 状态已保存。")
	return nil
}

// createFromFile 创建策略并挂出首批订单。已有活跃策略时保留恢复的策略。
func createFromFile(ctx context.Context, ctrl *controller.Controller, owner, path string, log *zap.Logger) error {
	params, err := loadStrategyFile(path, time.Now())
	if err != nil {
		return err
	}
	s, err := ctrl.CreateStrategy(ctx, owner, params)
	if errors.Is(err, models.ErrStrategyActive) {
		log.Warn("已有活跃策略, 忽略策略文件", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("创建策略失败: %w", err)
	}
	report, err := ctrl.PlaceLadderOrders(ctx, owner)
	if err != nil && !errors.Is(err, models.ErrBudgetExceeded) {
		return fmt.Errorf("挂单失败: %w", err)
	}
	log.Info("策略已创建",
		zap.String("strategy", s.ID),
		zap.Int("placed", report.Placed),
		zap.Int("skipped", report.Skipped))
	return nil
}
