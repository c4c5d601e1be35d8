package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsCreatedTotal       atomic.Uint64
	jobsCacheHitTotal      atomic.Uint64
	jobsIdempotentHitTotal atomic.Uint64
	jobsStartedTotal       atomic.Uint64
	jobsCompletedTotal     atomic.Uint64
	jobsFailedTotal        atomic.Uint64
	providerRetriesTotal   atomic.Uint64

	workerMessagesTotal       atomic.Uint64
	workerMessagesFailedTotal atomic.Uint64

	jobDuration = newHistogram([]float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000})
)

// IncJobCreated increments the created counter.
func IncJobCreated() {
	jobsCreatedTotal.Add(1)
}

// IncCacheHit counts a creation served from the freshness cache.
func IncCacheHit() {
	jobsCacheHitTotal.Add(1)
}

// IncIdempotentHit counts a creation resolved by idempotency key.
func IncIdempotentHit() {
	jobsIdempotentHitTotal.Add(1)
}

// IncJobStarted increments the started counter.
func IncJobStarted() {
	jobsStartedTotal.Add(1)
}

// IncJobCompleted increments the completed counter.
func IncJobCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobFailed increments the failed counter.
func IncJobFailed() {
	jobsFailedTotal.Add(1)
}

// IncProviderRetry counts one backoff before a provider retry.
func IncProviderRetry() {
	providerRetriesTotal.Add(1)
}

// IncWorkerMessage counts a queue message handled by a worker.
func IncWorkerMessage(failed bool) {
	workerMessagesTotal.Add(1)
	if failed {
		workerMessagesFailedTotal.Add(1)
	}
}

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_jobs_created_total", "Total analysis jobs created", jobsCreatedTotal.Load())
	writeCounter(&buf, "analysis_jobs_cache_hits_total", "Creation requests served from a fresh cached job", jobsCacheHitTotal.Load())
	writeCounter(&buf, "analysis_jobs_idempotent_hits_total", "Creation requests resolved by idempotency key", jobsIdempotentHitTotal.Load())
	writeCounter(&buf, "analysis_jobs_started_total", "Total job executions started", jobsStartedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Total analysis jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Total analysis jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "provider_retries_total", "Fetcher and LLM calls retried after a transient failure", providerRetriesTotal.Load())
	writeCounter(&buf, "worker_messages_total", "Queue messages handled by workers", workerMessagesTotal.Load())
	writeCounter(&buf, "worker_messages_failed_total", "Queue messages left for redelivery", workerMessagesFailedTotal.Load())
	writeHistogram(&buf, "analysis_job_duration_ms", "Job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds value to the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
