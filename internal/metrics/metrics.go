// Package metrics provides Prometheus metrics for the fileroom server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileroom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileroom_upload_bytes_total",
			Help: "Total bytes committed by uploads",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileroom_uploads_total",
			Help: "Uploaded file parts by outcome",
		},
		[]string{"status"},
	)

	downloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileroom_download_bytes_total",
			Help: "Total bytes sent by downloads",
		},
		[]string{"kind"}, // file, zip
	)

	archiveEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileroom_archive_entries_total",
			Help: "Entries written into streamed zip archives",
		},
	)

	archivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileroom_archives_total",
			Help: "Streamed zip archives by outcome",
		},
		[]string{"status"},
	)

	pathViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileroom_path_violations_total",
			Help: "Requests rejected because a path escaped the root",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpload records one uploaded file part.
func RecordUpload(bytes int64, success bool) {
	if success {
		uploadBytes.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordDownload records bytes sent for a file or zip download.
func RecordDownload(kind string, bytes int64) {
	downloadBytes.WithLabelValues(kind).Add(float64(bytes))
}

// RecordArchive records a finished zip stream.
func RecordArchive(entries int, success bool) {
	archiveEntries.Add(float64(entries))
	archivesTotal.WithLabelValues(status(success)).Inc()
}

// RecordPathViolation counts a rejected path.
func RecordPathViolation() {
	pathViolations.Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request metrics labelled by the matched route
// template, which keeps label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
