package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pool_created_total",
			Help: "Total number of backend connection pools created",
		},
		[]string{"family"},
	)

	poolEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pool_evicted_total",
			Help: "Total number of backend connection pools evicted for idleness",
		},
		[]string{"family"},
	)

	poolCreateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pool_create_failures_total",
			Help: "Pool creation attempts that failed and were rolled back",
		},
		[]string{"family"},
	)

	poolsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_pools_active",
			Help: "Number of live backend connection pools",
		},
		[]string{"family"},
	)

	admissionInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_admission_inflight",
			Help: "Requests currently holding an admission permit",
		},
		[]string{"family"},
	)

	admissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admission_rejected_total",
			Help: "Requests rejected because no admission permit became available",
		},
		[]string{"family"},
	)

	quotaConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_quota_consumed_total",
			Help: "Quota consume operations by token type and status",
		},
		[]string{"token_type", "status"},
	)

	usageLogFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_usage_log_failures_total",
			Help: "Failed quota consume transactions",
		},
	)

	dispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Duration of backend command dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "operation"},
	)

	initialized bool
)

// InitServiceMetrics 將 gateway metrics 註冊到指定 registry
func InitServiceMetrics(registry *prometheus.Registry) error {
	if registry == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		poolCreatedTotal,
		poolEvictedTotal,
		poolCreateFailuresTotal,
		poolsActive,
		admissionInflight,
		admissionRejectedTotal,
		quotaConsumedTotal,
		usageLogFailuresTotal,
		dispatchDurationSeconds,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	initialized = true
	return nil
}

func RecordPoolCreated(family string) {
	if !initialized {
		return
	}
	poolCreatedTotal.WithLabelValues(family).Inc()
	poolsActive.WithLabelValues(family).Inc()
}

func RecordPoolEvicted(family string, count int) {
	if !initialized || count <= 0 {
		return
	}
	poolEvictedTotal.WithLabelValues(family).Add(float64(count))
	poolsActive.WithLabelValues(family).Sub(float64(count))
}

// RecordPoolCreateFailed 池建立失敗回滾時使用；失敗的嘗試不曾計入 active，只累計失敗次數
func RecordPoolCreateFailed(family string) {
	if !initialized {
		return
	}
	poolCreateFailuresTotal.WithLabelValues(family).Inc()
}

func RecordAdmissionAcquired(family string) {
	if !initialized {
		return
	}
	admissionInflight.WithLabelValues(family).Inc()
}

func RecordAdmissionReleased(family string) {
	if !initialized {
		return
	}
	admissionInflight.WithLabelValues(family).Dec()
}

func RecordAdmissionRejected(family string) {
	if !initialized {
		return
	}
	admissionRejectedTotal.WithLabelValues(family).Inc()
}

func RecordQuotaConsumed(tokenType, status string) {
	if !initialized {
		return
	}
	quotaConsumedTotal.WithLabelValues(tokenType, status).Inc()
}

func RecordUsageLogFailure() {
	if !initialized {
		return
	}
	usageLogFailuresTotal.Inc()
}

func RecordDispatchDuration(family, operation string, duration time.Duration) {
	if !initialized {
		return
	}
	dispatchDurationSeconds.WithLabelValues(family, operation).Observe(duration.Seconds())
}
