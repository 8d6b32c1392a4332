// Package prometheus holds the Prometheus implementations of the metric
// interfaces declared by the domain packages. Importing it for side effects
// installs the constructors into pkg/metrics:
//
//	import _ "github.com/seekd/seekd/pkg/metrics/prometheus"
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seekd/seekd/pkg/metrics"
	"github.com/seekd/seekd/pkg/transfers"
)

func init() {
	metrics.RegisterTransferMetricsConstructor(newTransferMetrics)
}

// transferMetrics is the Prometheus implementation of
// transfers.TransferMetrics.
type transferMetrics struct {
	enqueued      prometheus.Counter
	rejected      *prometheus.CounterVec
	completed     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesSent     prometheus.Counter
	admitted      *prometheus.CounterVec
	admissionWait *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	usedSlots     *prometheus.GaugeVec
	bytesGranted  *prometheus.CounterVec
	bytesReturned *prometheus.CounterVec
}

func newTransferMetrics() transfers.TransferMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &transferMetrics{
		enqueued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "seekd_uploads_enqueued_total",
			Help: "Total number of upload requests admitted to the queue",
		}),
		rejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_uploads_rejected_total",
			Help: "Total number of upload requests rejected at admission by reason",
		}, []string{"reason"}),
		completed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_uploads_completed_total",
			Help: "Total number of terminal uploads by disposition",
		}, []string{"disposition"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "seekd_upload_duration_seconds",
			Help: "Upload duration from first byte to terminal state",
			Buckets: []float64{
				1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
			},
		}, []string{"disposition"}),
		bytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "seekd_upload_bytes_sent_total",
			Help: "Total bytes sent to peers by completed uploads",
		}),
		admitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_upload_queue_admitted_total",
			Help: "Total number of queue entries granted a slot by group",
		}, []string{"group"}),
		admissionWait: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "seekd_upload_queue_wait_seconds",
			Help: "Time spent waiting for a slot before admission",
			Buckets: []float64{
				0.1, 1, 5, 15, 60, 300, 900, 3600,
			},
		}, []string{"group"}),
		queueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "seekd_upload_queue_depth",
			Help: "Pending queue entries per group",
		}, []string{"group"}),
		usedSlots: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "seekd_upload_slots_used",
			Help: "Upload slots currently held per group",
		}, []string{"group"}),
		bytesGranted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_governor_bytes_granted_total",
			Help: "Bytes handed out by the upload governor per group",
		}, []string{"group"}),
		bytesReturned: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "seekd_governor_bytes_returned_total",
			Help: "Unused bytes credited back to the governor per group",
		}, []string{"group"}),
	}
}

func (m *transferMetrics) ObserveEnqueued() {
	m.enqueued.Inc()
}

func (m *transferMetrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *transferMetrics) ObserveCompleted(disposition string, duration time.Duration, bytes int64) {
	m.completed.WithLabelValues(disposition).Inc()
	m.duration.WithLabelValues(disposition).Observe(duration.Seconds())
	m.bytesSent.Add(float64(bytes))
}

func (m *transferMetrics) ObserveAdmitted(group string, waited time.Duration) {
	m.admitted.WithLabelValues(group).Inc()
	m.admissionWait.WithLabelValues(group).Observe(waited.Seconds())
}

func (m *transferMetrics) SetQueueDepth(group string, depth int) {
	m.queueDepth.WithLabelValues(group).Set(float64(depth))
}

func (m *transferMetrics) SetUsedSlots(group string, used int) {
	m.usedSlots.WithLabelValues(group).Set(float64(used))
}

func (m *transferMetrics) ObserveBytesGranted(group string, bytes int) {
	m.bytesGranted.WithLabelValues(group).Add(float64(bytes))
}

func (m *transferMetrics) ObserveBytesReturned(group string, bytes int) {
	m.bytesReturned.WithLabelValues(group).Add(float64(bytes))
}
