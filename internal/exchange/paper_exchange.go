package exchange

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// PaperConfig 定义了模拟撮合的初始资金和费率
type PaperConfig struct {
	Symbol       string
	InitialQuote decimal.Decimal // 初始 TakerAsset 余额
	InitialBase  decimal.Decimal // 初始 MakerAsset 余额
	MakerFeeRate decimal.Decimal // 挂单手续费率, 从 TakerAsset 中扣除
}

// Fill 是模拟撮合产生的一笔成交
type Fill struct {
	OrderID  string
	Side     models.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
	Time     time.Time
}

type paperOrder struct {
	id        string
	seq       uint64
	req       OrderRequest
	status    OrderStatus
	createdAt time.Time
	updatedAt time.Time
}

// PaperExchange 实现了 Exchange 接口，在本地按 K 线路径模拟限价单成交。
// 用于回放回测和无真实协议时的纸面交易。
type PaperExchange struct {
	mu sync.Mutex

	symbol       string
	makerFeeRate decimal.Decimal
	cash         decimal.Decimal // TakerAsset
	position     decimal.Decimal // MakerAsset
	initialQuote decimal.Decimal
	initialBase  decimal.Decimal
	totalFees    decimal.Decimal

	currentPrice decimal.Decimal
	firstPrice   decimal.Decimal
	currentTime  time.Time

	orders map[string]*paperOrder
	seq    uint64
	fills  []Fill
	equity []decimal.Decimal

	onFill func(Fill)
}

// NewPaperExchange 用配置的初始余额创建模拟交易所。
func NewPaperExchange(cfg PaperConfig) *PaperExchange {
	return &PaperExchange{
		symbol:       cfg.Symbol,
		makerFeeRate: cfg.MakerFeeRate,
		cash:         cfg.InitialQuote,
		position:     cfg.InitialBase,
		initialQuote: cfg.InitialQuote,
		initialBase:  cfg.InitialBase,
		totalFees:    decimal.Zero,
		orders:       make(map[string]*paperOrder),
		currentTime:  time.Now(),
	}
}

// OnFill 注册成交回调, 每次模拟成交后在锁外调用。
func (e *PaperExchange) OnFill(fn func(Fill)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = fn
}

func (e *PaperExchange) nextID() string {
	e.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], e.seq)
	return "P" + base62.EncodeToString(buf[:])
}

// CreateOrder 接受一个限价单。可用余额需扣除其他挂单已锁定的部分。
func (e *PaperExchange) CreateOrder(_ context.Context, req OrderRequest) (string, error) {
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return "", fmt.Errorf("paper order price %s quantity %s: %w", req.Price, req.Quantity, models.ErrInvalidParameters)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lockedQuote, lockedBase := e.lockedLocked()
	switch req.Side {
	case models.Buy:
		need := req.Price.Mul(req.Quantity)
		if e.cash.Sub(lockedQuote).LessThan(need) {
			return "", fmt.Errorf("buy %s @ %s needs %s, free %s: %w", req.Quantity, req.Price, need, e.cash.Sub(lockedQuote), ErrInsufficientBalance)
		}
	case models.Sell:
		if e.position.Sub(lockedBase).LessThan(req.Quantity) {
			return "", fmt.Errorf("sell %s needs free base, free %s: %w", req.Quantity, e.position.Sub(lockedBase), ErrInsufficientBalance)
		}
	default:
		return "", fmt.Errorf("paper order side %q: %w", req.Side, models.ErrInvalidParameters)
	}

	id := e.nextID()
	e.orders[id] = &paperOrder{
		id:        id,
		seq:       e.seq,
		req:       req,
		status:    StatusOpen,
		createdAt: e.currentTime,
		updatedAt: e.currentTime,
	}
	return id, nil
}

// lockedLocked 计算挂单锁定的资金。必须在持有锁的情况下调用。
func (e *PaperExchange) lockedLocked() (quote, base decimal.Decimal) {
	quote, base = decimal.Zero, decimal.Zero
	for _, o := range e.orders {
		if o.status != StatusOpen {
			continue
		}
		if o.req.Side == models.Buy {
			quote = quote.Add(o.req.Price.Mul(o.req.Quantity))
		} else {
			base = base.Add(o.req.Quantity)
		}
	}
	return quote, base
}

func (e *PaperExchange) CancelOrder(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrOrderNotFound)
	}
	if o.status != StatusOpen {
		return fmt.Errorf("cancel %s in status %s: %w", id, o.status, ErrOrderNotOpen)
	}
	o.status = StatusCancelled
	o.updatedAt = e.currentTime
	return nil
}

func (e *PaperExchange) GetOrderInfo(_ context.Context, id string) (OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return OrderInfo{ID: id, Exists: false}, nil
	}
	info := OrderInfo{ID: id, Exists: true, Status: o.status, FilledQty: decimal.Zero, UpdatedAt: o.updatedAt}
	if o.status == StatusFilled {
		info.FilledQty = o.req.Quantity
	}
	return info, nil
}

// SetPrice 是模拟撮合的核心，按 O->L->H->C 的路径推进价格并检查挂单成交。
func (e *PaperExchange) SetPrice(open, high, low, close decimal.Decimal, timestamp time.Time) {
	e.mu.Lock()
	e.currentTime = timestamp
	if e.firstPrice.IsZero() {
		e.firstPrice = open
	}

	var fills []Fill
	for _, p := range []decimal.Decimal{open, low, high, close} {
		fills = append(fills, e.matchAtPriceLocked(p)...)
	}
	e.currentPrice = close
	e.equity = append(e.equity, e.equityLocked())
	cb := e.onFill
	e.mu.Unlock()

	if cb != nil {
		for _, f := range fills {
			cb(f)
		}
	}
}

// matchAtPriceLocked 按下单顺序检查所有挂单在该价格点能否成交。必须在持有锁的情况下调用。
func (e *PaperExchange) matchAtPriceLocked(price decimal.Decimal) []Fill {
	open := make([]*paperOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if o.status == StatusOpen {
			open = append(open, o)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })

	var fills []Fill
	for _, o := range open {
		limit := o.req.Price
		hit := (o.req.Side == models.Buy && price.LessThanOrEqual(limit)) ||
			(o.req.Side == models.Sell && price.GreaterThanOrEqual(limit))
		if hit {
			fills = append(fills, e.fillLocked(o))
		}
	}
	return fills
}

// fillLocked 以挂单价成交并更新余额。必须在持有锁的情况下调用。
func (e *PaperExchange) fillLocked(o *paperOrder) Fill {
	o.status = StatusFilled
	o.updatedAt = e.currentTime

	qty := o.req.Quantity
	notional := o.req.Price.Mul(qty)
	fee := notional.Mul(e.makerFeeRate)
	e.totalFees = e.totalFees.Add(fee)
	e.cash = e.cash.Sub(fee)

	if o.req.Side == models.Buy {
		e.cash = e.cash.Sub(notional)
		e.position = e.position.Add(qty)
	} else {
		e.cash = e.cash.Add(notional)
		e.position = e.position.Sub(qty)
	}

	f := Fill{OrderID: o.id, Side: o.req.Side, Price: o.req.Price, Quantity: qty, Fee: fee, Time: e.currentTime}
	e.fills = append(e.fills, f)
	return f
}

func (e *PaperExchange) equityLocked() decimal.Decimal {
	return e.cash.Add(e.position.Mul(e.currentPrice))
}

// PaperSummary 汇总模拟账户的表现
type PaperSummary struct {
	Symbol       string
	Cash         decimal.Decimal
	Position     decimal.Decimal
	LastPrice    decimal.Decimal
	Equity       decimal.Decimal
	InitialValue decimal.Decimal
	PnL          decimal.Decimal
	TotalFees    decimal.Decimal
	Fills        int
	MaxDrawdown  decimal.Decimal // 以百分比表示
}

// Summary 返回按最近处理价格计算的账户状态。
func (e *PaperExchange) Summary() PaperSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.equityLocked()
	initial := e.initialQuote.Add(e.initialBase.Mul(e.firstPrice))

	maxDD := decimal.Zero
	peak := decimal.Zero
	for _, v := range e.equity {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsPositive() {
			dd := peak.Sub(v).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return PaperSummary{
		Symbol:       e.symbol,
		Cash:         e.cash,
		Position:     e.position,
		LastPrice:    e.currentPrice,
		Equity:       equity,
		InitialValue: initial,
		PnL:          equity.Sub(initial),
		TotalFees:    e.totalFees,
		Fills:        len(e.fills),
		MaxDrawdown:  maxDD,
	}
}

// Fills 返回成交记录的副本。
func (e *PaperExchange) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Fill, len(e.fills))
	copy(out, e.fills)
	return out
}

// SetTime 移动模拟时钟, 不撮合任何订单。
func (e *PaperExchange) SetTime(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTime = t
}

// CurrentTime 返回模拟时钟。
func (e *PaperExchange) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}
