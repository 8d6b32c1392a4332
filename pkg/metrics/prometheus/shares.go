package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seekd/seekd/pkg/metrics"
	"github.com/seekd/seekd/pkg/shares"
)

func init() {
	metrics.RegisterShareMetricsConstructor(newShareMetrics)
}

// shareMetrics is the Prometheus implementation of shares.Metrics.
type shareMetrics struct {
	scans          *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	files          prometheus.Gauge
	directories    prometheus.Gauge
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
}

func newShareMetrics() shares.Metrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &shareMetrics{
		scans: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_share_scans_total",
			Help: "Total number of share scans by outcome",
		}, []string{"outcome"}),
		scanDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "seekd_share_scan_duration_seconds",
			Help: "Share scan duration by outcome",
			Buckets: []float64{
				1, 5, 15, 60, 300, 900, 3600,
			},
		}, []string{"outcome"}),
		files: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "seekd_share_files",
			Help: "Files currently in the share index",
		}),
		directories: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "seekd_share_directories",
			Help: "Directories currently in the share index",
		}),
		searchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "seekd_share_search_duration_seconds",
			Help: "Search query duration",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
			},
		}),
		searchResults: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "seekd_share_search_results",
			Help: "Search result counts",
			Buckets: []float64{
				0, 1, 10, 50, 100, 500, 1000,
			},
		}),
	}
}

func (m *shareMetrics) ObserveScan(outcome string, duration time.Duration, files, directories int) {
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.files.Set(float64(files))
	m.directories.Set(float64(directories))
}

func (m *shareMetrics) ObserveSearch(duration time.Duration, results int) {
	m.searchDuration.Observe(duration.Seconds())
	m.searchResults.Observe(float64(results))
}
