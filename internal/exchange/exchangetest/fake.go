// Package exchangetest provides an in-memory Exchange for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ladder-bot-go/internal/exchange"
)

// Fake is a mock implementation of exchange.Exchange that records every call.
type Fake struct {
	sync.Mutex
	seq       int
	Requests  map[string]exchange.OrderRequest
	Status    map[string]exchange.OrderStatus
	Cancelled []string

	CreateErr  error            // 非 nil 时所有下单都失败
	CancelErrs map[string]error // 指定订单撤单失败
	createFail map[int]error    // 第 n 次下单失败 (从 1 开始)
	creates    int
}

func New() *Fake {
	return &Fake{
		Requests:   make(map[string]exchange.OrderRequest),
		Status:     make(map[string]exchange.OrderStatus),
		CancelErrs: make(map[string]error),
		createFail: make(map[int]error),
	}
}

// FailCreateAt makes the n-th CreateOrder call (1-based) return err.
func (f *Fake) FailCreateAt(n int, err error) {
	f.Lock()
	defer f.Unlock()
	f.createFail[n] = err
}

// FailCancel makes cancelling id return err.
func (f *Fake) FailCancel(id string, err error) {
	f.Lock()
	defer f.Unlock()
	f.CancelErrs[id] = err
}

func (f *Fake) CreateOrder(_ context.Context, req exchange.OrderRequest) (string, error) {
	f.Lock()
	defer f.Unlock()
	f.creates++
	if err, ok := f.createFail[f.creates]; ok {
		return "", err
	}
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.seq++
	id := fmt.Sprintf("ord-%d", f.seq)
	f.Requests[id] = req
	f.Status[id] = exchange.StatusOpen
	return id, nil
}

func (f *Fake) CancelOrder(_ context.Context, id string) error {
	f.Lock()
	defer f.Unlock()
	if err, ok := f.CancelErrs[id]; ok {
		return err
	}
	st, ok := f.Status[id]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if st != exchange.StatusOpen {
		return fmt.Errorf("cancel %s in status %s: %w", id, st, exchange.ErrOrderNotOpen)
	}
	f.Status[id] = exchange.StatusCancelled
	f.Cancelled = append(f.Cancelled, id)
	return nil
}

func (f *Fake) GetOrderInfo(_ context.Context, id string) (exchange.OrderInfo, error) {
	f.Lock()
	defer f.Unlock()
	st, ok := f.Status[id]
	if !ok {
		return exchange.OrderInfo{ID: id}, nil
	}
	return exchange.OrderInfo{ID: id, Exists: true, Status: st, UpdatedAt: time.Now()}, nil
}

// MarkFilled flips an order to FILLED as the protocol would report it.
func (f *Fake) MarkFilled(id string) {
	f.Lock()
	defer f.Unlock()
	f.Status[id] = exchange.StatusFilled
}

// Request returns the request an order was created with.
func (f *Fake) Request(id string) exchange.OrderRequest {
	f.Lock()
	defer f.Unlock()
	return f.Requests[id]
}

// CreateCalls returns how many CreateOrder calls were made.
func (f *Fake) CreateCalls() int {
	f.Lock()
	defer f.Unlock()
	return f.creates
}
