package metrics

import "github.com/seekd/seekd/pkg/shares"

// NewShareMetrics creates a Prometheus-backed shares.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called). A nil
// value disables instrumentation in the share cache with zero overhead.
func NewShareMetrics() shares.Metrics {
	if !IsEnabled() || newPrometheusShareMetrics == nil {
		return nil
	}
	return newPrometheusShareMetrics()
}

// newPrometheusShareMetrics is installed by pkg/metrics/prometheus during
// package initialization. The indirection avoids an import cycle.
var newPrometheusShareMetrics func() shares.Metrics

// RegisterShareMetricsConstructor registers the Prometheus share metrics
// constructor. Called by pkg/metrics/prometheus during init.
func RegisterShareMetricsConstructor(constructor func() shares.Metrics) {
	newPrometheusShareMetrics = constructor
}
