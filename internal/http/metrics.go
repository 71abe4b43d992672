package http

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"logdash/internal/analysis"
)

var (
	appStartedAtUnix = time.Now().Unix()
	inFlightRequests int64
	metricsMu        sync.Mutex
	httpSeries       = map[httpMetricKey]*httpMetricSeries{}
	fetchSeries      = map[fetchMetricKey]*durationSeries{}
	uploadSeries     = map[string]*durationSeries{}
	batchSeries      = map[string]*durationSeries{}
	droppedEvents    = map[string]uint64{}
)

type httpMetricKey struct {
	Method string
	Path   string
	Status string
}

type httpMetricSeries struct {
	Count              uint64
	DurationSecondsSum float64
}

type fetchMetricKey struct {
	Endpoint string
	Outcome  string
}

type durationSeries struct {
	Count              uint64
	DurationSecondsSum float64
}

// FetchMetrics counts every analysis fetch by endpoint and outcome. The
// outcome is "ok" or the failure cause.
func FetchMetrics() analysis.Observer {
	return analysis.ObserverFunc(func(_ context.Context, _ uuid.UUID, _ int, ep analysis.Endpoint, res analysis.Result, elapsed time.Duration) {
		outcome := "ok"
		if res.Failed() {
			outcome = string(res.Cause)
		}
		recordFetch(ep.Path, outcome, elapsed.Seconds())
	})
}

// RecordBatch counts a finished batch as "published" or "discarded".
func RecordBatch(status string, batch analysis.Batch) {
	observeDuration(batchSeries, status, batch.FinishedAt.Sub(batch.StartedAt).Seconds())
}

// RecordEventDropped counts a failure event the recorder could not queue.
func RecordEventDropped(eventType string) {
	metricsMu.Lock()
	droppedEvents[eventType]++
	metricsMu.Unlock()
}

func recordUpload(status string, durationSeconds float64) {
	observeDuration(uploadSeries, status, durationSeconds)
}

func recordFetch(endpoint, outcome string, durationSeconds float64) {
	if endpoint == "" {
		return
	}
	key := fetchMetricKey{Endpoint: endpoint, Outcome: outcome}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := fetchSeries[key]
	if !ok {
		row = &durationSeries{}
		fetchSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

func observeDuration(series map[string]*durationSeries, status string, durationSeconds float64) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		status = "unknown"
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := series[status]
	if !ok {
		row = &durationSeries{}
		series[status] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

func recordHTTPMetric(method, path string, status int, durationSeconds float64) {
	key := httpMetricKey{Method: method, Path: path, Status: strconv.Itoa(status)}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := httpSeries[key]
	if !ok {
		row = &httpMetricSeries{}
		httpSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

type statusSnapshot struct {
	Status string
	Series durationSeries
}

func snapshotByStatus(series map[string]*durationSeries) []statusSnapshot {
	out := make([]statusSnapshot, 0, len(series))
	for k, s := range series {
		out = append(out, statusSnapshot{Status: k, Series: *s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricsMu.Lock()
		keys := make([]httpMetricKey, 0, len(httpSeries))
		for k := range httpSeries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Method != keys[j].Method {
				return keys[i].Method < keys[j].Method
			}
			if keys[i].Path != keys[j].Path {
				return keys[i].Path < keys[j].Path
			}
			return keys[i].Status < keys[j].Status
		})
		httpSnapshot := make([]httpMetricSeries, len(keys))
		for i, k := range keys {
			httpSnapshot[i] = *httpSeries[k]
		}

		fetchKeys := make([]fetchMetricKey, 0, len(fetchSeries))
		for k := range fetchSeries {
			fetchKeys = append(fetchKeys, k)
		}
		sort.Slice(fetchKeys, func(i, j int) bool {
			if fetchKeys[i].Endpoint != fetchKeys[j].Endpoint {
				return fetchKeys[i].Endpoint < fetchKeys[j].Endpoint
			}
			return fetchKeys[i].Outcome < fetchKeys[j].Outcome
		})
		fetchSnapshot := make([]durationSeries, len(fetchKeys))
		for i, k := range fetchKeys {
			fetchSnapshot[i] = *fetchSeries[k]
		}
		uploads := snapshotByStatus(uploadSeries)
		batches := snapshotByStatus(batchSeries)
		dropTypes := make([]string, 0, len(droppedEvents))
		for k := range droppedEvents {
			dropTypes = append(dropTypes, k)
		}
		sort.Strings(dropTypes)
		drops := make([]uint64, len(dropTypes))
		for i, k := range dropTypes {
			drops[i] = droppedEvents[k]
		}
		metricsMu.Unlock()

		_, _ = fmt.Fprintln(w, "# HELP logdash_http_requests_total Total HTTP requests handled by this app.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_http_requests_total counter")
		for i, k := range keys {
			_, _ = fmt.Fprintf(w, "logdash_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				escapeLabel(k.Method), escapeLabel(k.Path), escapeLabel(k.Status), httpSnapshot[i].Count)
		}
		_, _ = fmt.Fprintln(w, "# HELP logdash_http_request_duration_seconds_sum Total duration in seconds for observed requests.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_http_request_duration_seconds_sum counter")
		for i, k := range keys {
			_, _ = fmt.Fprintf(w, "logdash_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %.9f\n",
				escapeLabel(k.Method), escapeLabel(k.Path), escapeLabel(k.Status), httpSnapshot[i].DurationSecondsSum)
		}
		_, _ = fmt.Fprintln(w, "# HELP logdash_http_in_flight_requests In-flight HTTP requests currently served by this app.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_http_in_flight_requests gauge")
		_, _ = fmt.Fprintf(w, "logdash_http_in_flight_requests %d\n", atomic.LoadInt64(&inFlightRequests))

		_, _ = fmt.Fprintln(w, "# HELP logdash_backend_fetch_total Analysis requests by endpoint and outcome.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_backend_fetch_total counter")
		for i, k := range fetchKeys {
			_, _ = fmt.Fprintf(w, "logdash_backend_fetch_total{endpoint=%q,outcome=%q} %d\n",
				escapeLabel(k.Endpoint), escapeLabel(k.Outcome), fetchSnapshot[i].Count)
		}
		_, _ = fmt.Fprintln(w, "# HELP logdash_backend_fetch_duration_seconds_sum Analysis request duration sum in seconds by endpoint and outcome.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_backend_fetch_duration_seconds_sum counter")
		for i, k := range fetchKeys {
			_, _ = fmt.Fprintf(w, "logdash_backend_fetch_duration_seconds_sum{endpoint=%q,outcome=%q} %.9f\n",
				escapeLabel(k.Endpoint), escapeLabel(k.Outcome), fetchSnapshot[i].DurationSecondsSum)
		}

		writeStatusSeries(w, "logdash_uploads", "Log file uploads", uploads)
		writeStatusSeries(w, "logdash_batches", "Analysis batches", batches)

		_, _ = fmt.Fprintln(w, "# HELP logdash_events_dropped_total Failure events dropped because the recorder queue was full.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_events_dropped_total counter")
		for i, k := range dropTypes {
			_, _ = fmt.Fprintf(w, "logdash_events_dropped_total{type=%q} %d\n", escapeLabel(k), drops[i])
		}

		uptime := time.Now().Unix() - appStartedAtUnix
		_, _ = fmt.Fprintln(w, "# HELP logdash_uptime_seconds Process uptime in seconds.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_uptime_seconds gauge")
		_, _ = fmt.Fprintf(w, "logdash_uptime_seconds %d\n", uptime)

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_goroutines Number of goroutines.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_goroutines gauge")
		_, _ = fmt.Fprintf(w, "logdash_runtime_goroutines %d\n", runtime.NumGoroutine())
		_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_memory_alloc_bytes Heap allocation bytes.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_memory_alloc_bytes gauge")
		_, _ = fmt.Fprintf(w, "logdash_runtime_memory_alloc_bytes %d\n", ms.Alloc)
		_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_gc_total Total GC runs since process start.")
		_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_gc_total counter")
		_, _ = fmt.Fprintf(w, "logdash_runtime_gc_total %d\n", ms.NumGC)

		if cpuSec, ok := processCPUSeconds(); ok {
			_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_cpu_seconds_total Total CPU time consumed by this process in seconds.")
			_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_cpu_seconds_total counter")
			_, _ = fmt.Fprintf(w, "logdash_runtime_cpu_seconds_total %.6f\n", cpuSec)
		}
		if io := processIOStats(); io != nil {
			_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_io_read_bytes_total Bytes read by this process from storage.")
			_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_io_read_bytes_total counter")
			_, _ = fmt.Fprintf(w, "logdash_runtime_io_read_bytes_total %d\n", io.ReadBytes)
			_, _ = fmt.Fprintln(w, "# HELP logdash_runtime_io_write_bytes_total Bytes written by this process to storage.")
			_, _ = fmt.Fprintln(w, "# TYPE logdash_runtime_io_write_bytes_total counter")
			_, _ = fmt.Fprintf(w, "logdash_runtime_io_write_bytes_total %d\n", io.WriteBytes)
		}
	})
}

func writeStatusSeries(w http.ResponseWriter, name, help string, rows []statusSnapshot) {
	_, _ = fmt.Fprintf(w, "# HELP %s_total %s by status.\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s_total counter\n", name)
	for _, it := range rows {
		_, _ = fmt.Fprintf(w, "%s_total{status=%q} %d\n", name, escapeLabel(it.Status), it.Series.Count)
	}
	_, _ = fmt.Fprintf(w, "# HELP %s_duration_seconds_sum %s duration sum in seconds by status.\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s_duration_seconds_sum counter\n", name)
	for _, it := range rows {
		_, _ = fmt.Fprintf(w, "%s_duration_seconds_sum{status=%q} %.9f\n", name, escapeLabel(it.Status), it.Series.DurationSecondsSum)
	}
}

func appMetricsSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type endpointRow struct {
			Method  string  `json:"method"`
			Path    string  `json:"path"`
			Status  string  `json:"status"`
			Count   uint64  `json:"count"`
			AvgMS   float64 `json:"avg_ms"`
			TotalMS float64 `json:"total_ms"`
		}
		type fetchRow struct {
			Endpoint string  `json:"endpoint"`
			Count    uint64  `json:"count"`
			Failures uint64  `json:"failures"`
			AvgMS    float64 `json:"avg_ms"`
		}

		metricsMu.Lock()
		httpRows := make([]endpointRow, 0, len(httpSeries))
		for k, s := range httpSeries {
			httpRows = append(httpRows, endpointRow{
				Method:  k.Method,
				Path:    k.Path,
				Status:  k.Status,
				Count:   s.Count,
				AvgMS:   avgMS(s.DurationSecondsSum, s.Count),
				TotalMS: s.DurationSecondsSum * 1000.0,
			})
		}

		byEndpoint := map[string]*fetchRow{}
		sums := map[string]float64{}
		failuresByCause := map[string]uint64{}
		for k, s := range fetchSeries {
			row, ok := byEndpoint[k.Endpoint]
			if !ok {
				row = &fetchRow{Endpoint: k.Endpoint}
				byEndpoint[k.Endpoint] = row
			}
			row.Count += s.Count
			sums[k.Endpoint] += s.DurationSecondsSum
			if k.Outcome != "ok" {
				row.Failures += s.Count
				failuresByCause[k.Outcome] += s.Count
			}
		}
		uploadErrors := uint64(0)
		if s, ok := uploadSeries["error"]; ok {
			uploadErrors = s.Count
		}
		eventsDropped := uint64(0)
		for _, n := range droppedEvents {
			eventsDropped += n
		}
		metricsMu.Unlock()

		fetchRows := make([]fetchRow, 0, len(byEndpoint))
		for name, row := range byEndpoint {
			row.AvgMS = avgMS(sums[name], row.Count)
			fetchRows = append(fetchRows, *row)
		}

		sort.Slice(httpRows, func(i, j int) bool { return httpRows[i].AvgMS > httpRows[j].AvgMS })
		sort.Slice(fetchRows, func(i, j int) bool { return fetchRows[i].AvgMS > fetchRows[j].AvgMS })

		topHTTP := httpRows
		if len(topHTTP) > 5 {
			topHTTP = topHTTP[:5]
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"generated_at": time.Now().UTC(),
			},
			"data": map[string]any{
				"top_http_slowest_avg_ms": topHTTP,
				"backend_endpoints":       fetchRows,
				"errors": map[string]any{
					"backend_fetch_by_cause": failuresByCause,
					"upload_total":           uploadErrors,
					"events_dropped_total":   eventsDropped,
				},
			},
		})
	}
}

func avgMS(sumSeconds float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return (sumSeconds / float64(count)) * 1000.0
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&inFlightRequests, 1)
		defer atomic.AddInt64(&inFlightRequests, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		recordHTTPMetric(r.Method, normalizeMetricPath(r.URL.Path), rec.status, time.Since(start).Seconds())
	})
}

// normalizeMetricPath keeps unknown paths from growing the series map.
func normalizeMetricPath(path string) string {
	switch path {
	case "/", "/metrics", "/health", "/ready", "/upload", "/upload/reopen", "/refresh",
		"/api/v1/dashboard", "/api/v1/upload", "/api/v1/export.xlsx", "/api/v1/catalog",
		"/api/v1/events", "/api/v1/metrics/app":
		return path
	default:
		return "other"
	}
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func processCPUSeconds() (float64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	user := float64(ru.Utime.Sec) + (float64(ru.Utime.Usec) / 1_000_000.0)
	sys := float64(ru.Stime.Sec) + (float64(ru.Stime.Usec) / 1_000_000.0)
	return user + sys, true
}

type ioStats struct {
	ReadBytes  uint64
	WriteBytes uint64
}

func processIOStats() *ioStats {
	b, err := os.ReadFile("/proc/self/io")
	if err != nil {
		return nil
	}
	out := &ioStats{}
	for _, line := range strings.Split(string(b), "\n") {
		key, raw, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "read_bytes":
			out.ReadBytes = v
		case "write_bytes":
			out.WriteBytes = v
		}
	}
	return out
}
