package reporter

import (
	"fmt"
	"io"
	"time"

	"ladder-bot-go/internal/exchange"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// Metrics 存储回放结束时的绩效指标
type Metrics struct {
	Symbol           string
	InitialValue     decimal.Decimal
	FinalValue       decimal.Decimal
	TotalProfit      decimal.Decimal
	ProfitPercentage decimal.Decimal
	TotalFills       int
	BuyFills         int
	SellFills        int
	BoughtQty        decimal.Decimal
	SoldQty          decimal.Decimal
	TotalFees        decimal.Decimal
	MaxDrawdown      decimal.Decimal
	EndingCash       decimal.Decimal
	EndingPosition   decimal.Decimal
	LastPrice        decimal.Decimal
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据模拟账户计算报告数据。
func CalculateMetrics(summary exchange.PaperSummary, fills []exchange.Fill) Metrics {
	m := Metrics{
		Symbol:         summary.Symbol,
		InitialValue:   summary.InitialValue,
		FinalValue:     summary.Equity,
		TotalProfit:    summary.PnL,
		TotalFills:     len(fills),
		BoughtQty:      decimal.Zero,
		SoldQty:        decimal.Zero,
		TotalFees:      summary.TotalFees,
		MaxDrawdown:    summary.MaxDrawdown,
		EndingCash:     summary.Cash,
		EndingPosition: summary.Position,
		LastPrice:      summary.LastPrice,
	}
	for _, f := range fills {
		if f.Side == models.Buy {
			m.BuyFills++
			m.BoughtQty = m.BoughtQty.Add(f.Quantity)
		} else {
			m.SellFills++
			m.SoldQty = m.SoldQty.Add(f.Quantity)
		}
	}
	if m.InitialValue.IsPositive() {
		m.ProfitPercentage = m.TotalProfit.Div(m.InitialValue).Mul(decimal.NewFromInt(100))
	}
	return m
}

// GenerateReport 打印回放结果报告
func GenerateReport(w io.Writer, m Metrics, dataPath string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("回放结果报告")
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", m.Symbol},
		{"回放周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始价值", m.InitialValue.StringFixed(2)},
		{"最终价值", m.FinalValue.StringFixed(2)},
		{"总利润", m.TotalProfit.StringFixed(2)},
		{"收益率", m.ProfitPercentage.StringFixed(2) + "%"},
		{"最大回撤", m.MaxDrawdown.StringFixed(2) + "%"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"成交次数", m.TotalFills},
		{"买入成交", fmt.Sprintf("%d (%s)", m.BuyFills, m.BoughtQty)},
		{"卖出成交", fmt.Sprintf("%d (%s)", m.SellFills, m.SoldQty)},
		{"手续费", m.TotalFees.StringFixed(4)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", m.EndingCash.StringFixed(2)},
		{"期末持仓", m.EndingPosition.String()},
		{"最新价格", m.LastPrice.String()},
	})
	t.Render()
}

// RenderState 打印快照中的策略、预算和挂单。
func RenderState(w io.Writer, st *models.BotState) {
	if st == nil || st.Strategy == nil {
		fmt.Fprintln(w, "no strategy")
		return
	}
	s := st.Strategy
	p := s.Params

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Strategy " + s.ID)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Bot", st.BotID},
		{"State", s.State},
		{"Owner", s.Owner},
		{"Pair", p.MakerAsset + "/" + p.TakerAsset},
		{"Type", p.StrategyType},
		{"Repost", p.RepostMode},
		{"Start / Spacing", fmt.Sprintf("%s / %s%%", p.StartPrice, p.SpacingPercent)},
		{"Levels (span)", fmt.Sprintf("%d (%d)", p.NumOrders, s.LadderSpan)},
		{"Stop loss / Take profit", fmt.Sprintf("%s / %s", p.StopLoss, p.TakeProfit)},
		{"Expiry", p.ExpiryTime.Format(time.RFC3339)},
	})
	if s.CreatedBy != "" && s.CreatedBy != s.Owner {
		t.AppendRow(table.Row{"Created by", s.CreatedBy})
	}
	if s.Stopping() {
		t.AppendRow(table.Row{"Pending", fmt.Sprintf("%s (%s)", s.PendingState, s.PendingReason)})
	}
	if s.StopReason != "" {
		t.AppendRow(table.Row{"Stop reason", s.StopReason})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Budget", st.Budget.Budget.String()},
		{"Committed", st.Budget.Committed.String()},
		{"Available", st.Budget.Available.String()},
	})
	t.Render()

	RenderOrders(w, st.OpenOrders())
}

// RenderOrders 按档位顺序打印订单。
func RenderOrders(w io.Writer, orders []models.Order) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "ID", "Kind", "Side", "Price", "Quantity", "Cost", "Status"})
	for _, o := range orders {
		t.AppendRow(table.Row{o.LadderIndex, o.ID, o.Kind, o.Side, o.Price.String(), o.Quantity.String(), o.Cost.String(), o.Status})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", fmt.Sprintf("%d orders", len(orders))})
	t.Render()
}

// RenderHistory 按时间先后打印流水事件。
func RenderHistory(w io.Writer, events []storage.OrderEvent) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("订单流水")
	t.AppendHeader(table.Row{"Time", "Event", "#", "Order", "Side", "Price", "Quantity", "Status"})
	for _, e := range events {
		t.AppendRow(table.Row{e.RecordedAt.Format("2006-01-02 15:04:05"), e.Event, e.LadderIndex, e.OrderID, e.Side, e.Price, e.Quantity, e.Status})
	}
	t.Render()
}
