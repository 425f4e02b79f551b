package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "frames_extracted_total",
			Help:      "Raw JPEG payloads extracted from the transport stream.",
		},
		[]string{"mode"},
	)
	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "frames_decoded_total",
			Help:      "Frames decoded and published to the latest-frame cache.",
		},
	)
	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "decode_failures_total",
			Help:      "Extracted payloads the JPEG decoder rejected.",
		},
	)
	segmentsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "segments_skipped_total",
			Help:      "Multipart segments carrying no JPEG start marker.",
		},
	)
	bytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "bytes_read_total",
			Help:      "Transport bytes consumed.",
		},
	)
	bufferBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camstream",
			Subsystem: "stream",
			Name:      "buffer_bytes",
			Help:      "Bytes currently retained by the frame extractor.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camstream",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total viewer HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camstream",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Viewer HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesExtracted, framesDecoded, decodeFailures, segmentsSkipped,
			bytesRead, bufferBytes, httpRequests, httpDuration,
		)
	})
}

func RecordFrameExtracted(mode string) {
	RegisterMetrics()
	framesExtracted.WithLabelValues(mode).Inc()
}

func RecordFrameDecoded() {
	RegisterMetrics()
	framesDecoded.Inc()
}

func RecordDecodeFailure() {
	RegisterMetrics()
	decodeFailures.Inc()
}

func RecordSegmentsSkipped(n uint64) {
	RegisterMetrics()
	segmentsSkipped.Add(float64(n))
}

func RecordBytesRead(n int) {
	RegisterMetrics()
	bytesRead.Add(float64(n))
}

func SetBufferBytes(n int) {
	RegisterMetrics()
	bufferBytes.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
