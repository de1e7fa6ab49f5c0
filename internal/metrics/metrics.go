// Package metrics 定义机器人运行时更新的 Prometheus 指标:
//
//	ladder_order_events_total{event}  - 订单状态变化 (PLACED, FILLED, REPOSTED, CANCELLED, ABANDONED)
//	ladder_open_orders                - 当前挂单数
//	ladder_budget_committed           - 挂单占用的预算
//	ladder_budget_available           - 剩余可用预算
//	ladder_strategy_active            - 策略活跃时为 1
//	ladder_risk_triggers_total{outcome} - 风控触发次数
//	ladder_risk_skips_total{reason}   - 因报价过期或置信度不足跳过的评估
//	ladder_last_price                 - 最近接受的预言机价格
//	ladder_events_total{type,result}  - 状态管理器处理的入站事件
//
// 指标在 init() 中注册, 由 API 服务器在 /metrics 暴露。
package metrics

import (
	"ladder-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_order_events_total",
			Help: "Order lifecycle transitions",
		},
		[]string{"event"},
	)

	OpenOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ladder_open_orders",
		Help: "Orders currently resting on the protocol",
	})

	BudgetCommitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ladder_budget_committed",
		Help: "Budget committed to open orders",
	})

	BudgetAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ladder_budget_available",
		Help: "Budget still available for new orders",
	})

	StrategyActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ladder_strategy_active",
		Help: "1 while a strategy is active, 0 otherwise",
	})

	RiskTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_risk_triggers_total",
			Help: "Risk evaluations that stopped the strategy",
		},
		[]string{"outcome"},
	)

	RiskSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_risk_skips_total",
			Help: "Risk evaluations skipped because the quote was unusable",
		},
		[]string{"reason"},
	)

	LastPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ladder_last_price",
		Help: "Latest accepted oracle price of the maker asset",
	})

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_events_total",
			Help: "Inbound events processed, by type and result",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		OrderEvents,
		OpenOrders,
		BudgetCommitted,
		BudgetAvailable,
		StrategyActive,
		RiskTriggers,
		RiskSkips,
		LastPrice,
		Events,
	)
}

// ObserveState 根据状态快照刷新各个 gauge。
func ObserveState(st *models.BotState) {
	if st == nil {
		return
	}
	OpenOrders.Set(float64(len(st.OpenOrders())))
	BudgetCommitted.Set(st.Budget.Committed.InexactFloat64())
	BudgetAvailable.Set(st.Budget.Available.InexactFloat64())
	if st.Strategy != nil && st.Strategy.IsActive {
		StrategyActive.Set(1)
	} else {
		StrategyActive.Set(0)
	}
}
