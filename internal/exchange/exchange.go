package exchange

import (
	"context"
	"errors"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotFound 表示协议中没有该 id 的订单。
	ErrOrderNotFound = errors.New("order not found on exchange")
	// ErrOrderNotOpen 表示要撤销的订单已经成交或已被撤销。
	ErrOrderNotOpen = errors.New("order is not open on exchange")
	// ErrInsufficientBalance 表示账户余额不足以下单。
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// OrderRequest 是提交给下单协议的限价单
type OrderRequest struct {
	ClientID   string // 本地生成的关联 ID, 协议支持时用作客户端订单号
	Side       models.Side
	Price      decimal.Decimal // TakerAsset per MakerAsset
	Quantity   decimal.Decimal // MakerAsset 数量
	MakerAsset string
	TakerAsset string
}

// OrderStatus 是协议侧的订单状态
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// OrderInfo 是协议视角下的订单信息。
type OrderInfo struct {
	ID        string
	Exists    bool
	Status    OrderStatus
	FilledQty decimal.Decimal
	UpdatedAt time.Time
}

// Exchange 定义了所有下单协议实现必须提供的方法。
// 这使得机器人可以在真实交易和模拟撮合之间轻松切换。
type Exchange interface {
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, id string) error
	GetOrderInfo(ctx context.Context, id string) (OrderInfo, error)
}
