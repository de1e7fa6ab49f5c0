package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ladder-bot-go/internal/access"
	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/exchange/exchangetest"
	"ladder-bot-go/internal/ladder"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"
	"ladder-bot-go/internal/risk"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

type testAPI struct {
	srv  *httptest.Server
	ctrl *controller.Controller
	ex   *exchangetest.Fake
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ex := exchangetest.New()
	engine := ladder.NewEngine(0)
	ctrl := controller.New(controller.Config{
		BotID:  "bot-1",
		Engine: engine,
		Orders: orders.NewManager(orders.Config{Engine: engine, Exchange: ex, Logger: zap.NewNop()}),
		Risk:   risk.NewManager(time.Minute, decimal.Zero),
		Oracle: oracle.NewStore(),
		Access: access.New("admin"),
		Logger: zap.NewNop(),
	})
	s := NewServer(ctrl, models.APIConfig{JWTSecret: secret}, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, ctrl: ctrl, ex: ex}
}

func (a *testAPI) do(t *testing.T, method, path, subject string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	if subject != "" {
		token, err := IssueToken(secret, subject, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 && raw[0] == '[' {
		var list []interface{}
		require.NoError(t, json.Unmarshal(raw, &list))
		out["items"] = list
	}
	return resp.StatusCode, out
}

func strategyBody() map[string]interface{} {
	return map[string]interface{}{
		"maker_asset":     "WETH",
		"taker_asset":     "USDC",
		"start_price":     "3000",
		"spacing_percent": "50",
		"order_size":      "0.01",
		"num_orders":      3,
		"strategy_type":   "BUY_LADDER",
		"repost_mode":     "REPOST_SAME",
		"budget":          "100",
		"stop_loss":       "2500",
		"take_profit":     "3500",
		"expiry_time":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ladder_open_orders")
}

func TestAuthentication(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(t, http.MethodGet, "/api/strategy", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	wrong, err := IssueToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, a.srv.URL+"/api/strategy", nil)
	req.Header.Set("Authorization", "Bearer "+wrong)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := IssueToken(secret, "admin", -time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+unsigned)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStrategyLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(t, http.MethodPost, "/api/strategy", "mallory", strategyBody())
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], "unauthorized")

	status, body = a.do(t, http.MethodPost, "/api/strategy", "admin", strategyBody())
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "ACTIVE", body["state"])

	status, _ = a.do(t, http.MethodPost, "/api/strategy", "admin", strategyBody())
	assert.Equal(t, http.StatusConflict, status)

	status, body = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["placed"])

	status, body = a.do(t, http.MethodGet, "/api/orders", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]interface{})
	require.Len(t, items, 3)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "3000", first["price"])

	status, body = a.do(t, http.MethodPost, "/api/fills", "admin", map[string]string{"order_id": first["id"].(string)})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["duplicate"])
	assert.NotNil(t, body["reposted"])

	status, _ = a.do(t, http.MethodPost, "/api/fills", "admin", map[string]string{"order_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodGet, "/api/strategy", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["active_orders"])

	status, body = a.do(t, http.MethodPost, "/api/strategy/cancel", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["cancelled"])

	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestInvalidStrategyIsBadRequest(t *testing.T) {
	a := newTestAPI(t)
	body := strategyBody()
	body["spacing_percent"] = "0"
	status, resp := a.do(t, http.MethodPost, "/api/strategy", "admin", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp["error"], "spacing_percent")

	body = strategyBody()
	body["surprise"] = true
	status, _ = a.do(t, http.MethodPost, "/api/strategy", "admin", body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBudgetExhaustedIsUnprocessable(t *testing.T) {
	a := newTestAPI(t)
	body := strategyBody()
	body["budget"] = "10"
	status, _ := a.do(t, http.MethodPost, "/api/strategy", "admin", body)
	require.Equal(t, http.StatusCreated, status)

	status, resp := a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotNil(t, resp["report"])
}

func TestPriceTriggersStopLoss(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(t, http.MethodPost, "/api/strategy", "admin", strategyBody())
	require.Equal(t, http.StatusCreated, status)
	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := a.do(t, http.MethodPost, "/api/prices", "admin", map[string]string{"asset": "WETH", "price": "2400"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "STOP_LOSS", body["outcome"])
	assert.False(t, a.ctrl.Strategy().IsActive)
	assert.Empty(t, a.ctrl.ActiveOrders())

	stale := map[string]string{"asset": "WETH", "price": "2400", "timestamp": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)}
	status, _ = a.do(t, http.MethodPost, "/api/prices", "admin", stale)
	assert.Equal(t, http.StatusOK, status, "older quotes are ignored and the strategy is no longer active")
}

func TestCancelIncompleteIsBadGateway(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(t, http.MethodPost, "/api/strategy", "admin", strategyBody())
	require.Equal(t, http.StatusCreated, status)
	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	stuck := a.ctrl.ActiveOrders()[0].ID
	a.ex.FailCancel(stuck, errors.New("timeout"))

	status, body := a.do(t, http.MethodPost, "/api/strategy/cancel", "admin", map[string]bool{"abandon": false})
	assert.Equal(t, http.StatusBadGateway, status)
	report := body["report"].(map[string]interface{})
	assert.Contains(t, report["failures"], stuck)
	assert.True(t, a.ctrl.Strategy().IsActive)

	status, body = a.do(t, http.MethodPost, "/api/strategy/cancel", "admin", map[string]bool{"abandon": true})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["still_open"], 1)
}

func TestCancelSingleOrder(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(t, http.MethodPost, "/api/strategy", "admin", strategyBody())
	require.Equal(t, http.StatusCreated, status)
	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	require.Equal(t, http.StatusOK, status)

	id := a.ctrl.ActiveOrders()[1].ID
	status, _ = a.do(t, http.MethodDelete, "/api/orders/"+id, "admin", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = a.do(t, http.MethodDelete, "/api/orders/"+id, "admin", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminEndpoints(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(t, http.MethodPost, "/api/admin/authorize", "keeper", map[string]string{"caller": "keeper"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body := a.do(t, http.MethodPost, "/api/admin/authorize", "admin", map[string]string{"caller": "keeper"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"keeper"}, body["authorized"])

	status, _ = a.do(t, http.MethodPost, "/api/strategy", "keeper", strategyBody())
	assert.Equal(t, http.StatusCreated, status)

	status, _ = a.do(t, http.MethodPost, "/api/admin/revoke", "admin", map[string]string{"caller": "keeper"})
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "keeper", nil)
	assert.Equal(t, http.StatusForbidden, status, "revocation applies to the caller that created the strategy")
	status, _ = a.do(t, http.MethodPost, "/api/strategy/cancel", "keeper", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = a.do(t, http.MethodPost, "/api/strategy/place", "admin", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodPost, "/api/admin/authorize", "admin", map[string]string{"caller": ""})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.ErrInvalidParameters:                  http.StatusBadRequest,
		fmt.Errorf("x: %w", models.ErrUnauthorized):  http.StatusForbidden,
		models.ErrUnknownOrder:                       http.StatusNotFound,
		models.ErrStrategyActive:                     http.StatusConflict,
		models.ErrInvalidState:                       http.StatusConflict,
		models.ErrBudgetExceeded:                     http.StatusUnprocessableEntity,
		models.ErrStalePrice:                         http.StatusUnprocessableEntity,
		models.ErrCancelIncomplete:                   http.StatusBadGateway,
		errors.New("boom"):                           http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
