package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ladder-bot-go/internal/controller"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ctxKey struct{}

// Server 通过 HTTP 暴露控制器。除 health 以外的 /api 路由都需要 bearer JWT (HS256),
// 其 subject 即调用方身份。
type Server struct {
	ctrl   *controller.Controller
	secret []byte
	addr   string
	logger *zap.Logger
	now    func() time.Time
	srv    *http.Server
}

func NewServer(ctrl *controller.Controller, cfg models.APIConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:   ctrl,
		secret: []byte(cfg.JWTSecret),
		addr:   cfg.ListenAddr,
		logger: logger,
		now:    time.Now,
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 构建路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/strategy", s.auth(s.handleGetStrategy))
	mux.Handle("POST /api/strategy", s.auth(s.handleCreateStrategy))
	mux.Handle("POST /api/strategy/place", s.auth(s.handlePlace))
	mux.Handle("POST /api/strategy/cancel", s.auth(s.handleCancelAll))
	mux.Handle("GET /api/orders", s.auth(s.handleOrders))
	mux.Handle("DELETE /api/orders/{id}", s.auth(s.handleCancelOrder))
	mux.Handle("POST /api/fills", s.auth(s.handleFill))
	mux.Handle("POST /api/prices", s.auth(s.handlePrice))
	mux.Handle("POST /api/admin/authorize", s.auth(s.handleAuthorize))
	mux.Handle("POST /api/admin/revoke", s.auth(s.handleRevoke))

	return mux
}

// Start 阻塞提供服务, 直到调用 Shutdown。
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// IssueToken 为 subject 签发有效期为 ttl 的 HS256 令牌。
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token: %w", err))
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			s.writeError(w, http.StatusUnauthorized, errors.New("token has no subject"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sub)))
	})
}

func caller(r *http.Request) string {
	sub, _ := r.Context().Value(ctxKey{}).(string)
	return sub
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Strategy()
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"active":    st != nil && st.IsActive,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type strategyResponse struct {
	Strategy     *models.Strategy   `json:"strategy"`
	Budget       models.BudgetState `json:"budget"`
	ActiveOrders int                `json:"active_orders"`
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Snapshot()
	s.writeJSON(w, http.StatusOK, strategyResponse{
		Strategy:     st.Strategy,
		Budget:       st.Budget,
		ActiveOrders: len(st.OpenOrders()),
	})
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var p models.StrategyParams
	if !s.decode(w, r, &p) {
		return
	}
	strategy, err := s.ctrl.CreateStrategy(r.Context(), caller(r), p)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, strategy)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.PlaceLadderOrders(r.Context(), caller(r))
	if err != nil && !errors.Is(err, models.ErrBudgetExceeded) {
		s.writeDomainError(w, err)
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"error": err.Error(), "report": report})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type cancelRequest struct {
	Abandon bool `json:"abandon"`
}

type cancelResponse struct {
	Cancelled int               `json:"cancelled"`
	Filled    int               `json:"filled,omitempty"`
	StillOpen []models.Order    `json:"still_open,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
}

func newCancelResponse(rep orders.CancelReport) cancelResponse {
	resp := cancelResponse{Cancelled: rep.Cancelled, Filled: rep.Filled, StillOpen: rep.StillOpen}
	if len(rep.Failures) > 0 {
		resp.Failures = make(map[string]string, len(rep.Failures))
		for id, err := range rep.Failures {
			resp.Failures[id] = err.Error()
		}
	}
	return resp
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	rep, err := s.ctrl.CancelAll(r.Context(), caller(r), req.Abandon)
	if errors.Is(err, models.ErrCancelIncomplete) {
		s.writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": err.Error(), "report": newCancelResponse(rep)})
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCancelResponse(rep))
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.ActiveOrders())
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CancelOrder(r.Context(), caller(r), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fillRequest struct {
	OrderID string `json:"order_id"`
}

type fillResponse struct {
	Order     models.Order  `json:"order"`
	Duplicate bool          `json:"duplicate"`
	Reposted  *models.Order `json:"reposted,omitempty"`
	Flip      *models.Order `json:"flip,omitempty"`
	RepostErr string        `json:"repost_error,omitempty"`
	FlipErr   string        `json:"flip_error,omitempty"`
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ctrl.HandleOrderFill(r.Context(), caller(r), req.OrderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := fillResponse{Order: res.Order, Duplicate: res.Duplicate, Reposted: res.Reposted, Flip: res.Flip}
	if res.RepostErr != nil {
		resp.RepostErr = res.RepostErr.Error()
	}
	if res.FlipErr != nil {
		resp.FlipErr = res.FlipErr.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type priceRequest struct {
	Asset      string           `json:"asset"`
	Price      decimal.Decimal  `json:"price"`
	Confidence *decimal.Decimal `json:"confidence"` // 缺省为 1
	Timestamp  time.Time        `json:"timestamp"`  // 缺省为服务器当前时间
	Source     string           `json:"source"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !s.decode(w, r, &req) {
		return
	}
	q := oracle.Quote{Asset: req.Asset, Price: req.Price, Confidence: decimal.NewFromInt(1), Timestamp: req.Timestamp, Source: req.Source}
	if req.Confidence != nil {
		q.Confidence = *req.Confidence
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = s.now()
	}
	if q.Source == "" {
		q.Source = "api"
	}
	out, err := s.ctrl.UpdatePrice(r.Context(), caller(r), q)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": string(out)})
}

type accessRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.Authorize(caller(r), req.Caller); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"authorized": s.ctrl.Snapshot().Authorized})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.Revoke(caller(r), req.Caller); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"authorized": s.ctrl.Snapshot().Authorized})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// StatusFor 把领域错误映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStrategyActive), errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrBudgetExceeded),
		errors.Is(err, models.ErrStalePrice),
		errors.Is(err, models.ErrLowConfidence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrCancelIncomplete):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}
