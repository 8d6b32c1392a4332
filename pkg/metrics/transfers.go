package metrics

import "github.com/seekd/seekd/pkg/transfers"

// NewTransferMetrics creates a Prometheus-backed transfers.TransferMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called). A nil
// value disables instrumentation in the upload service with zero overhead.
func NewTransferMetrics() transfers.TransferMetrics {
	if !IsEnabled() || newPrometheusTransferMetrics == nil {
		return nil
	}
	return newPrometheusTransferMetrics()
}

// newPrometheusTransferMetrics is installed by pkg/metrics/prometheus
// during package initialization. The indirection avoids an import cycle.
var newPrometheusTransferMetrics func() transfers.TransferMetrics

// RegisterTransferMetricsConstructor registers the Prometheus transfer
// metrics constructor. Called by pkg/metrics/prometheus during init.
func RegisterTransferMetricsConstructor(constructor func() transfers.TransferMetrics) {
	newPrometheusTransferMetrics = constructor
}
