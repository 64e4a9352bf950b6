package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	releaseCounter          *prometheus.CounterVec
	transferFailureCounter  *prometheus.CounterVec
	releaseDurationHist     prometheus.Histogram
	depositDetectedCounter  prometheus.Counter
	recorderFallbackCounter prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		releaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_releases_total",
			Help: "Release attempts by terminal outcome",
		}, []string{"outcome"})

		transferFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transfer_failures_total",
			Help: "Outbound transfer failures by classified reason",
		}, []string{"reason"})

		releaseDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_release_duration_seconds",
			Help:    "Wall time of one release attempt",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		})

		depositDetectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_deposits_detected_total",
			Help: "Escrow deposits observed by the watcher",
		})

		recorderFallbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_recorder_fallback_total",
			Help: "Transaction records persisted with a composite identifier",
		})

		prometheus.MustRegister(
			releaseCounter,
			transferFailureCounter,
			releaseDurationHist,
			depositDetectedCounter,
			recorderFallbackCounter,
		)
	})
}

func ObserveRelease(outcome string, duration time.Duration) {
	if releaseCounter == nil {
		return
	}
	releaseCounter.WithLabelValues(outcome).Inc()
	releaseDurationHist.Observe(duration.Seconds())
}

func IncrementTransferFailure(reason string) {
	if transferFailureCounter == nil {
		return
	}
	transferFailureCounter.WithLabelValues(reason).Inc()
}

func IncrementDepositDetected() {
	if depositDetectedCounter == nil {
		return
	}
	depositDetectedCounter.Inc()
}

func IncrementRecorderFallback() {
	if recorderFallbackCounter == nil {
		return
	}
	recorderFallbackCounter.Inc()
}
