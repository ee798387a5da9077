package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueDropped - записи, отброшенные из-за переполнения очереди
var QueueDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "persistence",
		Name:      "dropped_total",
		Help:      "Records dropped because the persistence queue was full",
	},
	[]string{"kind"},
)

// QueueDepth - текущая длина очереди
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "persistence",
		Name:      "queue_depth",
		Help:      "Current number of queued records",
	},
)

// WriteFailures - записи, не сохранённые после всех повторов
var WriteFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "persistence",
		Name:      "write_failures_total",
		Help:      "Records that failed to persist after retries",
	},
	[]string{"sink", "kind"},
)

// Written - успешно сохранённые записи
var Written = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "persistence",
		Name:      "written_total",
		Help:      "Records persisted per sink",
	},
	[]string{"sink", "kind"},
)
