package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirmations_total",
			Help: "Payment confirmations by outcome",
		},
		[]string{"result"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Verified webhook events by event name and outcome",
		},
		[]string{"event", "result"},
	)

	signatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_failures_total",
			Help: "Rejected signatures by source",
		},
		[]string{"source"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment gateway API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(paymentConfirmationsTotal)
	prometheus.MustRegister(webhookEventsTotal)
	prometheus.MustRegister(signatureFailuresTotal)
	prometheus.MustRegister(gatewayRequestDuration)
}

func RecordConfirmation(result string) {
	paymentConfirmationsTotal.WithLabelValues(result).Inc()
}

func RecordWebhookEvent(event, result string) {
	webhookEventsTotal.WithLabelValues(event, result).Inc()
}

func RecordSignatureFailure(source string) {
	signatureFailuresTotal.WithLabelValues(source).Inc()
}

func ObserveGatewayRequest(operation, result string, seconds float64) {
	gatewayRequestDuration.WithLabelValues(operation, result).Observe(seconds)
}
