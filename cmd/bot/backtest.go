package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ladder-bot-go/internal/bot"
	"ladder-bot-go/internal/config"
	"ladder-bot-go/internal/downloader"
	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/logger"
	"ladder-bot-go/internal/reporter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type backtestOptions struct {
	dataPath     string
	symbol       string
	startDate    string
	endDate      string
	interval     string
	strategyPath string
	initialQuote string
	initialBase  string
	makerFee     string
}

func newBacktestCmd() *cobra.Command {
	opts := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical klines against a strategy on the paper exchange",
		Example: "  ladder-bot backtest --symbol ETHUSDC --start 2025-03-01 --end 2025-04-01 -s strategy.yaml\n" +
			"  ladder-bot backtest --data data/ETHUSDC-2025-03-01-2025-04-01.csv -s strategy.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktest(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dataPath, "data", "", "path to a kline CSV file")
	f.StringVar(&opts.symbol, "symbol", "", "symbol to download (e.g. ETHUSDC)")
	f.StringVar(&opts.startDate, "start", "", "download start date (YYYY-MM-DD)")
	f.StringVar(&opts.endDate, "end", "", "download end date (YYYY-MM-DD)")
	f.StringVar(&opts.interval, "interval", "1m", "kline interval")
	f.StringVarP(&opts.strategyPath, "strategy", "s", "", "strategy YAML file")
	f.StringVar(&opts.initialQuote, "initial-quote", "10000", "initial taker asset balance")
	f.StringVar(&opts.initialBase, "initial-base", "0", "initial maker asset balance")
	f.StringVar(&opts.makerFee, "maker-fee", "0", "maker fee rate charged on each fill")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

// resolveDataPath 需要下载时返回下载好的文件路径, 否则要求通过 --data 指定
func resolveDataPath(ctx context.Context, opts *backtestOptions, log *zap.Logger) (string, error) {
	if opts.symbol == "" || opts.startDate == "" || opts.endDate == "" {
		if opts.dataPath == "" {
			return "", errors.New("回测模式需要通过 --data 或 --symbol/--start/--end 参数指定数据源")
		}
		return opts.dataPath, nil
	}

	startTime, err1 := time.Parse("2006-01-02", opts.startDate)
	endTime, err2 := time.Parse("2006-01-02", opts.endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	path := opts.dataPath
	if path == "" {
		path = filepath.Join("data", fmt.Sprintf("%s-%s-%s-%s.csv", opts.symbol, opts.interval, opts.startDate, opts.endDate))
	}
	d := downloader.NewKlineDownloader(opts.interval, log.Named("downloader"))
	if err := d.DownloadKlines(ctx, opts.symbol, path, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return path, nil
}

func runBacktest(ctx context.Context, opts *backtestOptions) error {
	// 回测只使用纸面交易所, 不需要 API 和交易所密钥
	os.Setenv("LADDER_API_ENABLED", "false")
	os.Setenv("LADDER_EXCHANGE_MODE", "paper")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}
	log := logger.InitLogger(cfg.LogConfig)
	log.Info("--- 启动回测模式 ---")

	dataPath, err := resolveDataPath(ctx, opts, log)
	if err != nil {
		return err
	}
	candles, err := downloader.LoadCandles(dataPath)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("历史数据文件 %s 为空", dataPath)
	}

	var amounts [3]decimal.Decimal
	for i, raw := range []string{opts.initialQuote, opts.initialBase, opts.makerFee} {
		if amounts[i], err = decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("invalid amount %q: %w", raw, err)
		}
	}
	paper := exchange.NewPaperExchange(exchange.PaperConfig{
		Symbol:       cfg.Exchange.Symbol,
		InitialQuote: amounts[0],
		InitialBase:  amounts[1],
		MakerFeeRate: amounts[2],
	})
	// 模拟时钟从第一根K线开始, 策略有效期也以此为准
	start := candles[0].OpenTime
	paper.SetTime(start)

	ctrl, err := buildController(cfg, paper, nil, paper.CurrentTime, log)
	if err != nil {
		return err
	}
	params, err := loadStrategyFile(opts.strategyPath, start)
	if err != nil {
		return err
	}
	if _, err := ctrl.CreateStrategy(ctx, cfg.Owner, params); err != nil {
		return fmt.Errorf("创建策略失败: %w", err)
	}

	replayer := bot.NewReplayer(ctrl, paper, cfg.Owner, params.MakerAsset, log.Named("replay"))
	processed, err := replayer.Run(ctx, candles)
	if err != nil {
		return err
	}
	log.Info("回测结束。", zap.Int("candles", processed), zap.Int("total", len(candles)))

	m := reporter.CalculateMetrics(paper.Summary(), paper.Fills())
	m.StartTime = start
	m.EndTime = paper.CurrentTime()
	reporter.GenerateReport(os.Stdout, m, dataPath)
	reporter.RenderState(os.Stdout, ctrl.Snapshot())
	return nil
}
