package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sink 接收价格源产生的每条报价。
type Sink func(Quote)

// StreamConfig 定义了 WebSocket 价格流的参数
type StreamConfig struct {
	BaseURL        string // e.g. wss://stream.binance.com:9443
	Symbol         string // 交易所交易对, e.g. ETHUSDC
	Asset          string // 报价对应的 MakerAsset
	PingInterval   time.Duration // 不大于 PongWait, 为零时取 PongWait 的 9/10
	PongWait       time.Duration
	ReconnectDelay time.Duration
}

// StreamFeed 订阅 aggTrade 流，把每一笔成交价作为报价推送给 Sink。
// 连接断开后会自动重连，直到 ctx 被取消。
type StreamFeed struct {
	cfg    StreamConfig
	sink   Sink
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewStreamFeed(cfg StreamConfig, sink Sink, logger *zap.Logger) *StreamFeed {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &StreamFeed{
		cfg:    cfg,
		sink:   sink,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// PingInterval 返回实际使用的心跳间隔。
func (f *StreamFeed) PingInterval() time.Duration {
	return f.cfg.PingInterval
}

// URL 返回数据流地址。
func (f *StreamFeed) URL() string {
	return fmt.Sprintf("%s/ws/%s@aggTrade", strings.TrimRight(f.cfg.BaseURL, "/"), strings.ToLower(f.cfg.Symbol))
}

// Run 维持连接并在断开后重连，直到 ctx 结束。
func (f *StreamFeed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			f.logger.Info("Price stream stopped.")
			return
		}

		conn, _, err := f.dialer.DialContext(ctx, f.URL(), nil)
		if err != nil {
			f.logger.Warn("Price stream connect failed, retrying", zap.Error(err), zap.Duration("delay", f.cfg.ReconnectDelay))
			if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		f.logger.Info("Price stream connected.", zap.String("url", f.URL()))
		if err := f.readLoop(ctx, conn); err != nil {
			f.logger.Warn("Price stream dropped", zap.Error(err))
		}
		conn.Close()
		if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
			return
		}
	}
}

type aggTrade struct {
	Price     json.Number `json:"p"`
	TradeTime int64       `json:"T"`
}

// readLoop 处理单个连接上的消息，并用 ping/pong 维持心跳
func (f *StreamFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pongWait := f.cfg.PongWait
	pingPeriod := f.cfg.PingInterval

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.logger.Debug("Ping failed", zap.Error(err))
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		q, err := f.parse(message)
		if err != nil {
			f.logger.Debug("Skipping unparsable stream message", zap.Error(err))
			continue
		}
		f.sink(q)
	}
}

func (f *StreamFeed) parse(message []byte) (Quote, error) {
	var trade aggTrade
	if err := json.Unmarshal(message, &trade); err != nil {
		return Quote{}, err
	}
	price, err := decimal.NewFromString(trade.Price.String())
	if err != nil {
		return Quote{}, fmt.Errorf("price %q: %w", trade.Price, err)
	}
	ts := time.Now()
	if trade.TradeTime > 0 {
		ts = time.UnixMilli(trade.TradeTime)
	}
	return Quote{
		Asset:      f.cfg.Asset,
		Price:      price,
		Confidence: decimal.NewFromInt(1),
		Timestamp:  ts,
		Source:     "stream",
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
