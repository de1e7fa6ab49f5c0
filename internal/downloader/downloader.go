package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// Candle 是回放使用的一根K线
type Candle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	CloseTime time.Time
}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client   *binance.Client
	logger   *zap.Logger
	interval string
	pause    time.Duration
}

// NewKlineDownloader 创建一个新的下载器实例, 公共接口不需要API Key
func NewKlineDownloader(interval string, logger *zap.Logger) *KlineDownloader {
	if interval == "" {
		interval = "1m"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{
		client:   binance.NewClient("", ""),
		logger:   logger,
		interval: interval,
		pause:    200 * time.Millisecond,
	}
}

// DownloadKlines 下载指定交易对和时间范围内的K线数据并保存到CSV文件。
// 如果文件已存在则直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("Using cached klines", zap.String("path", filePath))
		return nil
	}

	d.logger.Info("Downloading klines",
		zap.String("symbol", symbol),
		zap.String("interval", d.interval),
		zap.Time("from", startTime),
		zap.Time("to", endTime))

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", filepath.Dir(filePath), err)
	}

	// 先写临时文件, 下载中断时不会留下不完整的缓存
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	writer := csv.NewWriter(file)

	rows, err := d.fetchAll(ctx, writer, symbol, startTime, endTime)
	writer.Flush()
	if err == nil {
		err = writer.Error()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return err
	}

	d.logger.Info("Klines downloaded", zap.String("path", filePath), zap.Int("rows", rows))
	return nil
}

func (d *KlineDownloader) fetchAll(ctx context.Context, writer *csv.Writer, symbol string, startTime, endTime time.Time) (int, error) {
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(d.interval).
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli()).
			Limit(1000). // 币安单次请求最多1000条
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("Klines page fetched", zap.Time("until", t))

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-time.After(d.pause):
		}
	}
	return rows, nil
}

// LoadCandles 读取 DownloadKlines 写出的 CSV。
func LoadCandles(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var candles []Candle
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		c, err := parseCandle(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandle(rec []string) (Candle, error) {
	if len(rec) < 7 {
		return Candle{}, fmt.Errorf("expected at least 7 columns, got %d", len(rec))
	}
	openMs, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("open_time: %w", err)
	}
	closeMs, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("close_time: %w", err)
	}
	var prices [4]decimal.Decimal
	for i := range prices {
		prices[i], err = decimal.NewFromString(rec[i+1])
		if err != nil {
			return Candle{}, fmt.Errorf("%s: %w", header[i+1], err)
		}
	}
	return Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}
