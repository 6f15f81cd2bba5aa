package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	GatewayRequests     *prometheus.CounterVec
	GatewayLatency      *prometheus.HistogramVec
	ReconcileOutcomes   *prometheus.CounterVec
	DepositsCredited    *prometheus.CounterVec
	ScanRuns            *prometheus.CounterVec
	DepositsExpired     prometheus.Counter
	InvestmentPayouts   *prometheus.CounterVec
	ReferralCommissions *prometheus.CounterVec
	WebhookRequests     *prometheus.CounterVec
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total WestWallet API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency distribution for WestWallet API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			ReconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_outcomes_total",
				Help:      "Reconciliation decisions by event source and outcome.",
			}, []string{"source", "outcome"}),
			DepositsCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_credited_total",
				Help:      "Deposits credited by asset.",
			}, []string{"asset"}),
			ScanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_runs_total",
				Help:      "History scan passes by status.",
			}, []string{"status"}),
			DepositsExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_expired_total",
				Help:      "Pending deposits cancelled after expiry.",
			}),
			InvestmentPayouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "investment_payouts_total",
				Help:      "Investment claims and completions by operation type.",
			}, []string{"type"}),
			ReferralCommissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "referral_commissions_total",
				Help:      "Referral commissions paid by level.",
			}, []string{"level"}),
			WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Inbound gateway notifications by handling result.",
			}, []string{"result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.ReconcileOutcomes,
			metricsInstance.DepositsCredited,
			metricsInstance.ScanRuns,
			metricsInstance.DepositsExpired,
			metricsInstance.InvestmentPayouts,
			metricsInstance.ReferralCommissions,
			metricsInstance.WebhookRequests,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
