package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apubot_pipeline_messages_total",
			Help: "Inbound messages by terminal pipeline stage.",
		},
		[]string{"stage"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apubot_pipeline_duration_seconds",
			Help:    "End-to-end handling latency of one inbound message.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	aiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apubot_ai_requests_total",
			Help: "Generative service calls by pipeline stage and outcome.",
		},
		[]string{"stage", "status"},
	)
	aiRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apubot_ai_request_duration_seconds",
			Help:    "Generative service call latency by pipeline stage.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"stage"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apubot_query_executions_total",
			Help: "Generated query executions by result kind.",
		},
		[]string{"kind"},
	)
	outboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apubot_outbound_messages_total",
			Help: "Outbound chat message sends by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineMessagesTotal,
		pipelineDurationSeconds,
		aiRequestsTotal,
		aiRequestDurationSeconds,
		queryExecutionsTotal,
		outboundMessagesTotal,
	)
}

func ObservePipeline(stage string, elapsed time.Duration) {
	pipelineMessagesTotal.WithLabelValues(stage).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveAIRequest(stage, status string, elapsed time.Duration) {
	aiRequestsTotal.WithLabelValues(stage, status).Inc()
	aiRequestDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementQueryExecution(kind string) {
	queryExecutionsTotal.WithLabelValues(kind).Inc()
}

func IncrementOutboundMessage(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	outboundMessagesTotal.WithLabelValues(result).Inc()
}
