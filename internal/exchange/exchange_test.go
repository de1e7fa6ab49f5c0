package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newPaper() *PaperExchange {
	return NewPaperExchange(PaperConfig{
		Symbol:       "ETHUSDC",
		InitialQuote: d("10000"),
		InitialBase:  d("1"),
		MakerFeeRate: decimal.Zero,
	})
}

func TestPaperCreateAndQuery(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()

	id, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("3000"), Quantity: d("1")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	id2, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("2900"), Quantity: d("1")})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	info, err := ex.GetOrderInfo(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, StatusOpen, info.Status)

	info, err = ex.GetOrderInfo(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestPaperRejectsUnfundedOrders(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()

	_, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("3000"), Quantity: d("3")})
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("1000"), Quantity: d("1.5")})
	assert.ErrorIs(t, err, ErrInsufficientBalance, "funds locked by the first order are not free")

	_, err = ex.CreateOrder(ctx, OrderRequest{Side: models.Sell, Price: d("3500"), Quantity: d("2")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: decimal.Zero, Quantity: d("1")})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestPaperFillsAlongPricePath(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	var fills []Fill
	ex.OnFill(func(f Fill) { fills = append(fills, f) })

	buyID, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("2900"), Quantity: d("1")})
	require.NoError(t, err)
	sellID, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Sell, Price: d("3100"), Quantity: d("1")})
	require.NoError(t, err)
	farID, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("2000"), Quantity: d("1")})
	require.NoError(t, err)

	ts := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	ex.SetPrice(d("3000"), d("3150"), d("2850"), d("3050"), ts)

	require.Len(t, fills, 2)
	assert.Equal(t, buyID, fills[0].OrderID, "low is visited before high")
	assert.Equal(t, sellID, fills[1].OrderID)
	assert.Equal(t, ts, fills[0].Time)

	info, err := ex.GetOrderInfo(ctx, buyID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, info.Status)
	assert.True(t, info.FilledQty.Equal(d("1")))

	info, err = ex.GetOrderInfo(ctx, farID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, info.Status)

	sum := ex.Summary()
	assert.True(t, sum.Cash.Equal(d("10200")), "cash %s", sum.Cash)
	assert.True(t, sum.Position.Equal(d("1")))
	assert.True(t, sum.Equity.Equal(d("13250")))
	assert.True(t, sum.InitialValue.Equal(d("13000")))
	assert.True(t, sum.PnL.Equal(d("250")))
	assert.Equal(t, 2, sum.Fills)
}

func TestPaperFeesReduceCash(t *testing.T) {
	ex := NewPaperExchange(PaperConfig{InitialQuote: d("1000"), MakerFeeRate: d("0.001")})
	ctx := context.Background()
	_, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("100"), Quantity: d("2")})
	require.NoError(t, err)

	ex.SetPrice(d("100"), d("100"), d("100"), d("100"), time.Now())
	sum := ex.Summary()
	assert.True(t, sum.TotalFees.Equal(d("0.2")))
	assert.True(t, sum.Cash.Equal(d("799.8")))
}

func TestPaperCancel(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	id, err := ex.CreateOrder(ctx, OrderRequest{Side: models.Buy, Price: d("2000"), Quantity: d("1")})
	require.NoError(t, err)

	require.NoError(t, ex.CancelOrder(ctx, id))
	assert.ErrorIs(t, ex.CancelOrder(ctx, id), ErrOrderNotOpen)
	assert.ErrorIs(t, ex.CancelOrder(ctx, "nope"), ErrOrderNotFound)

	ex.SetPrice(d("1900"), d("1900"), d("1900"), d("1900"), time.Now())
	assert.Empty(t, ex.Fills(), "cancelled orders never fill")
}

func TestMapBinanceStatus(t *testing.T) {
	assert.Equal(t, StatusFilled, mapBinanceStatus(binance.OrderStatusTypeFilled))
	assert.Equal(t, StatusCancelled, mapBinanceStatus(binance.OrderStatusTypeCanceled))
	assert.Equal(t, StatusCancelled, mapBinanceStatus(binance.OrderStatusTypeExpired))
	assert.Equal(t, StatusOpen, mapBinanceStatus(binance.OrderStatusTypeNew))
	assert.Equal(t, StatusOpen, mapBinanceStatus(binance.OrderStatusTypePartiallyFilled))
}

func TestTranslateAPIError(t *testing.T) {
	err := translateAPIError(&common.APIError{Code: -2013, Message: "Order does not exist."})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	err = translateAPIError(&common.APIError{Code: -2011, Message: "Unknown order sent."})
	assert.ErrorIs(t, err, ErrOrderNotOpen)

	plain := errors.New("network down")
	assert.Equal(t, plain, translateAPIError(plain))
}

func TestBinanceGetOrderInfoMissingOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	}))
	defer srv.Close()

	ex := NewBinanceExchange(BinanceConfig{APIKey: "k", SecretKey: "s", Symbol: "ETHUSDC"}, zap.NewNop())
	ex.client.BaseURL = srv.URL

	info, err := ex.GetOrderInfo(context.Background(), "ladder-1")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestBinanceCreateOrderNeedsClientID(t *testing.T) {
	ex := NewBinanceExchange(BinanceConfig{Symbol: "ETHUSDC"}, zap.NewNop())
	_, err := ex.CreateOrder(context.Background(), OrderRequest{Side: models.Buy, Price: d("1"), Quantity: d("1")})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestBinanceCreateOrderRejectsUnalignedPriceAndQuantity(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ex := NewBinanceExchange(BinanceConfig{APIKey: "k", SecretKey: "s", Symbol: "ETHUSDC", PricePrecision: 2, QuantityPrecision: 4}, zap.NewNop())
	ex.client.BaseURL = srv.URL

	_, err := ex.CreateOrder(context.Background(), OrderRequest{ClientID: "ladder-1", Side: models.Buy, Price: d("1234.56789"), Quantity: d("0.01")})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
	_, err = ex.CreateOrder(context.Background(), OrderRequest{ClientID: "ladder-2", Side: models.Buy, Price: d("1234.56"), Quantity: d("0.00333333")})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
	assert.Zero(t, calls, "nothing is sent for an order the exchange would place at a different price or size")
}

func TestBinanceCreateOrderSendsAlignedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1234.50", r.Form.Get("price"))
		assert.Equal(t, "0.0100", r.Form.Get("quantity"))
		assert.Equal(t, "ladder-1", r.Form.Get("newClientOrderId"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"ETHUSDC","orderId":7,"clientOrderId":"ladder-1","status":"NEW"}`))
	}))
	defer srv.Close()

	ex := NewBinanceExchange(BinanceConfig{APIKey: "k", SecretKey: "s", Symbol: "ETHUSDC", PricePrecision: 2, QuantityPrecision: 4}, zap.NewNop())
	ex.client.BaseURL = srv.URL

	id, err := ex.CreateOrder(context.Background(), OrderRequest{ClientID: "ladder-1", Side: models.Buy, Price: d("1234.5"), Quantity: d("0.01")})
	require.NoError(t, err)
	assert.Equal(t, "ladder-1", id)
}
