package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 币安错误码
const (
	codeUnknownOrder   = -2011 // 撤单被拒绝: 订单不存在或已结束
	codeOrderNotExists = -2013
)

// BinanceConfig 定义了币安现货适配器的参数
type BinanceConfig struct {
	APIKey            string
	SecretKey         string
	Symbol            string
	IsTestnet         bool
	PricePrecision    int32
	QuantityPrecision int32
	RequestsPerSecond float64
	RequestBurst      int
}

// BinanceExchange 实现了 Exchange 接口，通过币安现货限价单执行阶梯订单。
// 订单以客户端订单号标识，因此本地 ID 与交易所 ID 一致。
type BinanceExchange struct {
	client  *binance.Client
	cfg     BinanceConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBinanceExchange 创建一个新的 BinanceExchange 实例
func NewBinanceExchange(cfg BinanceConfig, logger *zap.Logger) *BinanceExchange {
	binance.UseTestnet = cfg.IsTestnet
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 1
	}
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = 2
	}
	if cfg.QuantityPrecision <= 0 {
		cfg.QuantityPrecision = 4
	}
	return &BinanceExchange{
		client:  binance.NewClient(cfg.APIKey, cfg.SecretKey),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		logger:  logger,
	}
}

// SyncTime 与币安服务器同步时间，签名请求会带上该偏移。
func (e *BinanceExchange) SyncTime(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	offset, err := e.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("sync server time: %w", err)
	}
	e.logger.Info("Synced time with Binance server", zap.Int64("timeOffsetMs", offset))
	return nil
}

func (e *BinanceExchange) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.ClientID == "" {
		return "", fmt.Errorf("binance order needs a client id: %w", models.ErrInvalidParameters)
	}
	side := binance.SideTypeBuy
	if req.Side == models.Sell {
		side = binance.SideTypeSell
	}
	// 价格和数量必须已经对齐交易所精度, 否则实际挂单会与本地记录不一致
	if !req.Price.IsPositive() || !req.Price.Equal(req.Price.Round(e.cfg.PricePrecision)) {
		return "", fmt.Errorf("price %s does not fit precision %d: %w", req.Price, e.cfg.PricePrecision, models.ErrInvalidParameters)
	}
	if !req.Quantity.IsPositive() || !req.Quantity.Equal(req.Quantity.RoundDown(e.cfg.QuantityPrecision)) {
		return "", fmt.Errorf("quantity %s does not fit precision %d: %w", req.Quantity, e.cfg.QuantityPrecision, models.ErrInvalidParameters)
	}
	price := req.Price.StringFixed(e.cfg.PricePrecision)
	qty := req.Quantity

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	res, err := e.client.NewCreateOrderService().
		Symbol(e.cfg.Symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.StringFixed(e.cfg.QuantityPrecision)).
		Price(price).
		NewClientOrderID(req.ClientID).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create %s order %s @ %s: %w", side, qty, price, err)
	}
	e.logger.Debug("Binance order accepted",
		zap.String("clientOrderId", res.ClientOrderID),
		zap.Int64("orderId", res.OrderID),
		zap.String("side", string(side)),
		zap.String("price", price))
	return res.ClientOrderID, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, id string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.client.NewCancelOrderService().
		Symbol(e.cfg.Symbol).
		OrigClientOrderID(id).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, translateAPIError(err))
	}
	return nil
}

func (e *BinanceExchange) GetOrderInfo(ctx context.Context, id string) (OrderInfo, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return OrderInfo{}, err
	}
	o, err := e.client.NewGetOrderService().
		Symbol(e.cfg.Symbol).
		OrigClientOrderID(id).
		Do(ctx)
	if err != nil {
		if errors.Is(translateAPIError(err), ErrOrderNotFound) {
			return OrderInfo{ID: id, Exists: false}, nil
		}
		return OrderInfo{}, fmt.Errorf("get order %s: %w", id, err)
	}

	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	return OrderInfo{
		ID:        id,
		Exists:    true,
		Status:    mapBinanceStatus(o.Status),
		FilledQty: filled,
		UpdatedAt: time.UnixMilli(o.UpdateTime),
	}, nil
}

// mapBinanceStatus 把币安订单状态折叠为三种协议状态。
// 部分成交仍视为挂单中，直到完全成交。
func mapBinanceStatus(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected:
		return StatusCancelled
	default:
		return StatusOpen
	}
}

func translateAPIError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeOrderNotExists:
			return fmt.Errorf("%s: %w", apiErr.Message, ErrOrderNotFound)
		case codeUnknownOrder:
			return fmt.Errorf("%s: %w", apiErr.Message, ErrOrderNotOpen)
		}
	}
	return err
}
