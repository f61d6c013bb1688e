package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelgraph_phase_seconds",
		Help:    "Time spent executing one statement phase against the graph backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	StatementsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelgraph_statements_executed_total",
		Help: "Total number of statements committed to the graph backend.",
	}, []string{"phase"})

	PhaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelgraph_phase_failures_total",
		Help: "Total number of phases whose transaction failed and was rolled back.",
	}, []string{"phase"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelgraph_executor_queue_depth",
		Help: "Current number of submissions waiting for the executor worker.",
	})

	ModelsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelgraph_models_saved_total",
		Help: "Total number of models handed to the graph executor.",
	})

	StreamsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelgraph_streams_indexed_total",
		Help: "Total number of model streams scanned for reference targets.",
	})
)
