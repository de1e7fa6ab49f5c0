package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceFetcher 返回交易对的最新成交价。
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BinanceFetcher 通过公开 REST 接口读取现货价格。
type BinanceFetcher struct {
	client *binance.Client
}

// NewBinanceFetcher 创建一个公共行情客户端，不需要 API Key
func NewBinanceFetcher(isTestnet bool) *BinanceFetcher {
	binance.UseTestnet = isTestnet
	return &BinanceFetcher{client: binance.NewClient("", "")}
}

func (b *BinanceFetcher) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list prices %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("symbol %s missing from ticker response", symbol)
}

// Poller 以固定间隔拉取价格，适用于没有推送流的环境
type Poller struct {
	fetcher  PriceFetcher
	symbol   string
	asset    string
	interval time.Duration
	sink     Sink
	now      func() time.Time
	logger   *zap.Logger
}

func NewPoller(fetcher PriceFetcher, symbol, asset string, interval time.Duration, sink Sink, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		fetcher:  fetcher,
		symbol:   symbol,
		asset:    asset,
		interval: interval,
		sink:     sink,
		now:      time.Now,
		logger:   logger,
	}
}

// Run 立即轮询一次, 之后每隔 interval 轮询, 直到 ctx 结束。
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil {
			p.logger.Warn("Price poll failed", zap.String("symbol", p.symbol), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Price poller stopped.")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce 获取一次价格并交给 sink。
func (p *Poller) PollOnce(ctx context.Context) error {
	price, err := p.fetcher.FetchPrice(ctx, p.symbol)
	if err != nil {
		return err
	}
	p.sink(Quote{
		Asset:      p.asset,
		Price:      price,
		Confidence: decimal.NewFromInt(1),
		Timestamp:  p.now(),
		Source:     "rest",
	})
	return nil
}
