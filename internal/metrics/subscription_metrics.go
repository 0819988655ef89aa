package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы саги, используемые как значение метки outcome
const (
	OutcomeProvisioned = "provisioned"
	OutcomeFailed      = "failed"
)

// Причины, по которым событие подтверждено, но не применено
const (
	SkipUnknownKind    = "unknown_kind"
	SkipUnaddressable  = "unaddressable"
	SkipDuplicate      = "duplicate"
	SkipStale          = "stale"
	SkipOtherSubject   = "other_subscription"
	SkipNoSubscription = "no_subscription"
)

// ProvisioningMetrics интерфейс для метрик саги подключения подписки
type ProvisioningMetrics interface {
	IncProvisioned(status string)
	IncProvisioningFailed(kind string)
	ObserveProvisioningDuration(outcome string, d time.Duration)
}

// ReconcileMetrics интерфейс для метрик обработки вебхуков
type ReconcileMetrics interface {
	IncEventReceived(kind string)
	IncEventApplied(kind string)
	IncEventSkipped(kind, reason string)
	IncEventRejected(errKind string)
}

type provisioningMetrics struct {
	provisioned *prometheus.CounterVec
	failed      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewProvisioningMetrics создает метрики саги
func NewProvisioningMetrics(registry *prometheus.Registry) ProvisioningMetrics {
	return &provisioningMetrics{
		provisioned: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscriptions_provisioned_total",
				Help: "The total number of subscriptions created by the provisioning saga, by initial status",
			},
			[]string{"status"},
		),
		failed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscriptions_provisioning_failed_total",
				Help: "The total number of failed provisioning attempts, by error kind",
			},
			[]string{"kind"},
		),
		duration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subscriptions_provisioning_duration_seconds",
				Help:    "Provisioning saga duration distribution",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
			},
			[]string{"outcome"},
		),
	}
}

func (m *provisioningMetrics) IncProvisioned(status string) {
	m.provisioned.WithLabelValues(status).Inc()
}

func (m *provisioningMetrics) IncProvisioningFailed(kind string) {
	m.failed.WithLabelValues(kind).Inc()
}

func (m *provisioningMetrics) ObserveProvisioningDuration(outcome string, d time.Duration) {
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

type reconcileMetrics struct {
	received *prometheus.CounterVec
	applied  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewReconcileMetrics создает метрики обработки вебхуков
func NewReconcileMetrics(registry *prometheus.Registry) ReconcileMetrics {
	return &reconcileMetrics{
		received: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_received_total",
				Help: "The total number of verified webhook events, by kind",
			},
			[]string{"kind"},
		),
		applied: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_applied_total",
				Help: "The total number of webhook events applied to local records, by kind",
			},
			[]string{"kind"},
		),
		skipped: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_skipped_total",
				Help: "The total number of acknowledged but not applied webhook events",
			},
			[]string{"kind", "reason"},
		),
		rejected: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_rejected_total",
				Help: "The total number of rejected webhook deliveries, by error kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *reconcileMetrics) IncEventReceived(kind string) {
	m.received.WithLabelValues(kind).Inc()
}

func (m *reconcileMetrics) IncEventApplied(kind string) {
	m.applied.WithLabelValues(kind).Inc()
}

func (m *reconcileMetrics) IncEventSkipped(kind, reason string) {
	m.skipped.WithLabelValues(kind, reason).Inc()
}

func (m *reconcileMetrics) IncEventRejected(errKind string) {
	m.rejected.WithLabelValues(errKind).Inc()
}
