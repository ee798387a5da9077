package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики бумажного движка
// ============================================================
//
// - поток тиков и латентность обработки
// - исполнения симулятора и отказы по причинам
// - состояние подключений и переподключения
// - переполнения буферов

// ============ Поток данных ============

// TicksProcessed - обработанные тики по символам
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "market",
		Name:      "ticks_total",
		Help:      "Total number of ticks applied to the market data store",
	},
	[]string{"symbol"},
)

// TickProcessingLatency - время обработки тика (store + оценка позиций)
var TickProcessingLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "papertrade",
		Subsystem: "market",
		Name:      "tick_processing_latency_ms",
		Help:      "Time to apply a tick and evaluate open positions in milliseconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
)

// ============ Исполнение ============

// FillsTotal - успешные симулированные исполнения
var FillsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "fills_total",
		Help:      "Total number of simulated fills",
	},
	[]string{"symbol", "action"}, // open, close
)

// FillLatency - симулированная задержка исполнения
var FillLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "fill_latency_ms",
		Help:      "Simulated fill latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 150, 200, 300, 500},
	},
)

// FillSlippage - проскальзывание исполнения (доля цены)
var FillSlippage = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "fill_slippage_ratio",
		Help:      "Simulated slippage as a fraction of the base price",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01},
	},
)

// Rejections - отказы риск-контроля и симулятора
var Rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "rejections_total",
		Help:      "Orders rejected by risk checks or the simulator",
	},
	[]string{"reason"},
)

// TradesTotal - закрытые сделки по причинам
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "closed_trades_total",
		Help:      "Closed positions by close reason",
	},
	[]string{"symbol", "reason"},
)

// RealizedPnl - суммарный реализованный P&L по всем сессиям
var RealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "execution",
		Name:      "realized_pnl",
		Help:      "Sum of realized PnL across sessions",
	},
)

// StopLossTriggered - срабатывания стоп-лосса
var StopLossTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "risk",
		Name:      "stop_loss_triggered_total",
		Help:      "Number of stop loss triggers",
	},
	[]string{"symbol"},
)

// ============ Подключения ============

// ConnectionState - текущее состояние подключения (1 у активного состояния)
var ConnectionState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "exchange",
		Name:      "connection_state",
		Help:      "Venue connection state (1 for the current state)",
	},
	[]string{"conn", "state"},
)

// Reconnects - попытки переподключения
var Reconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "exchange",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts per connection kind",
	},
	[]string{"conn"},
)

// ============ Буферы ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // updates, persistence
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "runtime",
		Name:      "buffer_backlog_ratio",
		Help:      "Buffer fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordTick записывает обработку тика
func RecordTick(symbol string, latencyMs float64) {
	TicksProcessed.WithLabelValues(symbol).Inc()
	TickProcessingLatency.Observe(latencyMs)
}

// RecordFill записывает исполнение симулятора
func RecordFill(symbol, action string, latencyMs, slippage float64) {
	FillsTotal.WithLabelValues(symbol, action).Inc()
	FillLatency.Observe(latencyMs)
	FillSlippage.Observe(slippage)
}

// RecordRejection записывает отказ
func RecordRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	Rejections.WithLabelValues(reason).Inc()
}

// RecordTrade записывает закрытие позиции
func RecordTrade(symbol, reason string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, reason).Inc()
	if pnl != 0 {
		RealizedPnl.Add(pnl)
	}
}

// RecordConnectionState выставляет состояние подключения
func RecordConnectionState(conn, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(conn, s).Set(v)
	}
}

// RecordReconnect записывает попытку переподключения
func RecordReconnect(conn string) {
	Reconnects.WithLabelValues(conn).Inc()
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}
