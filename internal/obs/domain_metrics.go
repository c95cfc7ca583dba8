package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTotal counts checkout initiation attempts by flow mode and outcome.
	CheckoutTotal *prometheus.CounterVec
	// PaymentCallbackTotal counts inbound payment callback processing outcomes per channel.
	PaymentCallbackTotal *prometheus.CounterVec
	// ProviderVerifyTotal counts server-to-server verification query outcomes.
	ProviderVerifyTotal *prometheus.CounterVec
	// ProviderRequestDuration records outbound provider call latency in milliseconds.
	ProviderRequestDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout initiation outcomes.",
		}, []string{"mode", "result"})
		PaymentCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed payment callbacks by channel and outcome.",
		}, []string{"channel", "result"})
		ProviderVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_verify_total",
			Help:      "Count of provider verification query outcomes.",
		}, []string{"result"})
		ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_ms",
			Help:      "Latency of outbound provider requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"})

		registerCounterVec(reg, &CheckoutTotal)
		registerCounterVec(reg, &PaymentCallbackTotal)
		registerCounterVec(reg, &ProviderVerifyTotal)
		registerHistogramVec(reg, &ProviderRequestDuration)
	})
}
