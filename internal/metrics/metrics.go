// Package metrics aggregates request statistics for the /stats summary and
// exports Prometheus collectors for /metrics.
package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"toolproxy/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets spans quick metadata calls up to long streamed completions.
var LatencyBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// AtomicRequestStats thread-safe request statistics
type AtomicRequestStats struct {
	TotalRequests      atomic.Int64
	SuccessfulRequests atomic.Int64
	FailedRequests     atomic.Int64
	TotalResponseTime  atomic.Int64
}

// MetricsConfig configuration for MetricsService
type MetricsConfig struct {
	SaveInterval time.Duration
	HistorySize  int
	Storage      core.StorageInterface
	Logger       core.Logger
}

type collectorSet struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	authFailures     *prometheus.CounterVec
	streamAborts     *prometheus.CounterVec
	toolCalls        prometheus.Counter
	reinjections     *prometheus.CounterVec
	correctiveRetry  prometheus.Counter
	syntheticReplies *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

func newCollectorSet(reg *prometheus.Registry) *collectorSet {
	cs := &collectorSet{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_requests_total",
			Help: "Handled requests by route and status code.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolproxy_request_duration_seconds",
			Help:    "Request duration by route.",
			Buckets: LatencyBuckets,
		}, []string{"route"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_auth_failures_total",
			Help: "Rejected gateway credentials by reason.",
		}, []string{"reason"}),
		streamAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_stream_aborts_total",
			Help: "Streams ended before completion by reason.",
		}, []string{"reason"}),
		toolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toolproxy_tool_calls_reassembled_total",
			Help: "Tool calls reassembled from streamed fragments.",
		}),
		reinjections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_tool_reinjections_total",
			Help: "Requests that had tool definitions restated, by mode.",
		}, []string{"mode"}),
		correctiveRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toolproxy_corrective_retries_total",
			Help: "Backend calls re-issued to obtain a structured tool call.",
		}),
		syntheticReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_synthetic_responses_total",
			Help: "Metadata responses fabricated by the gateway, by endpoint.",
		}, []string{"endpoint"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolproxy_cache_lookups_total",
			Help: "Model listing cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		cs.requests,
		cs.duration,
		cs.authFailures,
		cs.streamAborts,
		cs.toolCalls,
		cs.reinjections,
		cs.correctiveRetry,
		cs.syntheticReplies,
		cs.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return cs
}

// MetricsService collects and manages metrics. It implements
// core.MetricsCollector.
type MetricsService struct {
	atomicStats      AtomicRequestStats
	requestHistory   []core.RequestRecord
	historyMu        sync.RWMutex
	lastRequestTime  time.Time
	maxHistorySize   int
	storage          core.StorageInterface
	logger           core.Logger
	lastSaveTime     time.Time
	minSaveInterval  time.Duration
	done             chan struct{}
	closeOnce        sync.Once
	historyBuffer    []core.RequestRecord
	bufferMu         sync.Mutex
	bufferFlushTimer *time.Ticker
	recentRequests   []time.Time
	recentMu         sync.Mutex

	registry   *prometheus.Registry
	collectors *collectorSet
}

var _ core.MetricsCollector = (*MetricsService)(nil)

// NewMetricsService creates a new MetricsService
func NewMetricsService(config MetricsConfig) *MetricsService {
	if config.HistorySize <= 0 {
		config.HistorySize = core.HistoryBufferSize
	}
	if config.Logger == nil {
		config.Logger = &core.NopLogger{}
	}
	reg := prometheus.NewRegistry()
	ms := &MetricsService{
		maxHistorySize:  config.HistorySize,
		storage:         config.Storage,
		logger:          config.Logger,
		minSaveInterval: config.SaveInterval,
		done:            make(chan struct{}),
		historyBuffer:   make([]core.RequestRecord, 0, core.HistoryBatchSize),
		registry:        reg,
		collectors:      newCollectorSet(reg),
	}

	ms.bufferFlushTimer = time.NewTicker(core.HistoryFlushInterval)
	go ms.flushLoop()

	return ms
}

// Handler serves the Prometheus exposition format for this service's registry.
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(ms.registry, promhttp.HandlerOpts{Registry: ms.registry})
}

// Registry exposes the collectors, mainly for tests.
func (ms *MetricsService) Registry() *prometheus.Registry {
	return ms.registry
}

func (ms *MetricsService) flushLoop() {
	for {
		select {
		case <-ms.bufferFlushTimer.C:
			ms.flushBuffer()
		case <-ms.done:
			return
		}
	}
}

func (ms *MetricsService) flushBuffer() {
	ms.bufferMu.Lock()
	if len(ms.historyBuffer) == 0 {
		ms.bufferMu.Unlock()
		return
	}
	batch := ms.historyBuffer
	ms.historyBuffer = make([]core.RequestRecord, 0, core.HistoryBatchSize)
	ms.bufferMu.Unlock()

	ms.historyMu.Lock()
	ms.requestHistory = append(ms.requestHistory, batch...)
	if len(ms.requestHistory) > ms.maxHistorySize {
		ms.requestHistory = ms.requestHistory[len(ms.requestHistory)-ms.maxHistorySize:]
	}
	ms.historyMu.Unlock()
}

// RecordRequest records a handled request.
func (ms *MetricsService) RecordRequest(route string, status int, duration time.Duration) {
	ms.RecordModelRequest(route, status, duration, "")
}

// RecordModelRequest records a handled request together with the model it
// addressed.
func (ms *MetricsService) RecordModelRequest(route string, status int, duration time.Duration, model string) {
	now := time.Now()
	responseTime := duration.Milliseconds()

	ms.collectors.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	ms.collectors.duration.WithLabelValues(route).Observe(duration.Seconds())

	ms.historyMu.Lock()
	ms.lastRequestTime = now
	ms.historyMu.Unlock()

	record := core.RequestRecord{
		Timestamp:    now,
		Route:        route,
		Status:       status,
		ResponseTime: responseTime,
		Model:        model,
	}

	ms.atomicStats.TotalRequests.Add(1)
	ms.atomicStats.TotalResponseTime.Add(responseTime)
	if record.Success() {
		ms.atomicStats.SuccessfulRequests.Add(1)
	} else {
		ms.atomicStats.FailedRequests.Add(1)
	}

	ms.recentMu.Lock()
	ms.recentRequests = append(ms.recentRequests, now)
	ms.pruneRecentLocked(now)
	ms.recentMu.Unlock()

	ms.bufferMu.Lock()
	ms.historyBuffer = append(ms.historyBuffer, record)
	shouldFlush := len(ms.historyBuffer) >= core.HistoryBatchSize
	ms.bufferMu.Unlock()

	if shouldFlush {
		ms.flushBuffer()
	}

	ms.SaveStatsDebounced(context.Background())
}

func (ms *MetricsService) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-1 * time.Minute)
	startIdx := 0
	for startIdx < len(ms.recentRequests) && ms.recentRequests[startIdx].Before(cutoff) {
		startIdx++
	}
	if startIdx > 0 {
		newRecent := make([]time.Time, len(ms.recentRequests)-startIdx)
		copy(newRecent, ms.recentRequests[startIdx:])
		ms.recentRequests = newRecent
	}
}

func (ms *MetricsService) RecordAuthFailure(reason string) {
	ms.collectors.authFailures.WithLabelValues(reason).Inc()
}

func (ms *MetricsService) RecordStreamAbort(reason string) {
	ms.collectors.streamAborts.WithLabelValues(reason).Inc()
}

func (ms *MetricsService) RecordToolCallsReassembled(count int) {
	if count > 0 {
		ms.collectors.toolCalls.Add(float64(count))
	}
}

func (ms *MetricsService) RecordReinjection(mode string) {
	ms.collectors.reinjections.WithLabelValues(mode).Inc()
}

func (ms *MetricsService) RecordCorrectiveRetry() {
	ms.collectors.correctiveRetry.Inc()
}

func (ms *MetricsService) RecordSyntheticResponse(endpoint string) {
	ms.collectors.syntheticReplies.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit records cache hit
func (ms *MetricsService) RecordCacheHit() {
	ms.collectors.cacheLookups.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records cache miss
func (ms *MetricsService) RecordCacheMiss() {
	ms.collectors.cacheLookups.WithLabelValues("miss").Inc()
}

// GetQPS returns the request rate over the last minute.
func (ms *MetricsService) GetQPS() float64 {
	ms.recentMu.Lock()
	defer ms.recentMu.Unlock()

	ms.pruneRecentLocked(time.Now())
	if len(ms.recentRequests) == 0 {
		return 0
	}
	return math.Round(float64(len(ms.recentRequests))/60.0*1000) / 1000
}

// GetRequestStats returns current stats snapshot
func (ms *MetricsService) GetRequestStats() core.RequestStats {
	ms.flushBuffer()
	ms.historyMu.RLock()
	defer ms.historyMu.RUnlock()

	historyCopy := make([]core.RequestRecord, len(ms.requestHistory))
	copy(historyCopy, ms.requestHistory)

	return core.RequestStats{
		TotalRequests:      ms.atomicStats.TotalRequests.Load(),
		SuccessfulRequests: ms.atomicStats.SuccessfulRequests.Load(),
		FailedRequests:     ms.atomicStats.FailedRequests.Load(),
		TotalResponseTime:  ms.atomicStats.TotalResponseTime.Load(),
		LastRequestTime:    ms.lastRequestTime,
		RequestHistory:     historyCopy,
	}
}

// GetPeriodStats computes period statistics for multiple hour windows in a single pass.
func GetPeriodStats(history []core.RequestRecord, hourPeriods ...int) map[int]core.PeriodStats {
	if len(hourPeriods) == 0 {
		return nil
	}

	now := time.Now()
	cutoffs := make([]time.Time, len(hourPeriods))
	requests := make([]int64, len(hourPeriods))
	successful := make([]int64, len(hourPeriods))
	responseTime := make([]int64, len(hourPeriods))

	for i, hours := range hourPeriods {
		cutoffs[i] = now.Add(-time.Duration(hours) * time.Hour)
	}

	for _, record := range history {
		for i, cutoff := range cutoffs {
			if record.Timestamp.After(cutoff) {
				requests[i]++
				responseTime[i] += record.ResponseTime
				if record.Success() {
					successful[i]++
				}
			}
		}
	}

	result := make(map[int]core.PeriodStats, len(hourPeriods))
	for i, hours := range hourPeriods {
		stats := core.PeriodStats{
			Requests: requests[i],
			QPS:      float64(requests[i]) / (float64(hours) * 3600.0),
		}
		if requests[i] > 0 {
			stats.SuccessRate = float64(successful[i]) / float64(requests[i]) * 100
			stats.AvgResponseTime = responseTime[i] / requests[i]
		}
		result[hours] = stats
	}
	return result
}

// LoadStats restores counters and history from storage.
func (ms *MetricsService) LoadStats(ctx context.Context) error {
	if ms.storage == nil {
		return nil
	}
	stats, err := ms.storage.LoadStats(ctx)
	if err != nil {
		return err
	}

	ms.atomicStats.TotalRequests.Store(stats.TotalRequests)
	ms.atomicStats.SuccessfulRequests.Store(stats.SuccessfulRequests)
	ms.atomicStats.FailedRequests.Store(stats.FailedRequests)
	ms.atomicStats.TotalResponseTime.Store(stats.TotalResponseTime)

	ms.historyMu.Lock()
	ms.lastRequestTime = stats.LastRequestTime
	ms.requestHistory = stats.RequestHistory
	if len(ms.requestHistory) > ms.maxHistorySize {
		ms.requestHistory = ms.requestHistory[len(ms.requestHistory)-ms.maxHistorySize:]
	}
	ms.historyMu.Unlock()

	return nil
}

// SaveStatsDebounced saves stats at most once per save interval.
func (ms *MetricsService) SaveStatsDebounced(ctx context.Context) {
	now := time.Now()
	ms.historyMu.Lock()
	if now.Sub(ms.lastSaveTime) < ms.minSaveInterval {
		ms.historyMu.Unlock()
		return
	}
	ms.lastSaveTime = now
	ms.historyMu.Unlock()

	if ms.storage == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, core.StorageOpTimeout)
	defer cancel()
	stats := ms.GetRequestStats()
	if err := ms.storage.SaveStats(saveCtx, &stats); err != nil {
		ms.logger.Warn("Failed to save stats: %v", err)
	}
}

// Close saves final stats and stops the flush loop. Only the first call
// does any work.
func (ms *MetricsService) Close(ctx context.Context) error {
	var err error
	ms.closeOnce.Do(func() {
		close(ms.done)
		ms.bufferFlushTimer.Stop()
		ms.flushBuffer()

		if ms.storage != nil {
			stats := ms.GetRequestStats()
			err = ms.storage.SaveStats(ctx, &stats)
		}
	})
	return err
}
