package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"toolproxy/internal/core"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type countingStorage struct {
	mu        sync.Mutex
	saveCount int
	loaded    *core.RequestStats
}

func (s *countingStorage) SaveStats(_ context.Context, _ *core.RequestStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCount++
	return nil
}

func (s *countingStorage) LoadStats(context.Context) (*core.RequestStats, error) {
	if s.loaded != nil {
		return s.loaded, nil
	}
	return &core.RequestStats{}, nil
}

func (s *countingStorage) Close() error { return nil }

func (s *countingStorage) getSaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCount
}

func newTestService(t *testing.T, historySize int, st core.StorageInterface) *MetricsService {
	t.Helper()
	ms := NewMetricsService(MetricsConfig{
		SaveInterval: time.Second,
		HistorySize:  historySize,
		Storage:      st,
		Logger:       &core.NopLogger{},
	})
	t.Cleanup(func() { _ = ms.Close(context.Background()) })
	return ms
}

func TestMetricsService_RecordRequest(t *testing.T) {
	ms := newTestService(t, 10, nil)

	ms.RecordRequest("/v1/chat/completions", http.StatusOK, 100*time.Millisecond)
	ms.RecordRequest("/v1/chat/completions", http.StatusBadGateway, 200*time.Millisecond)
	ms.RecordModelRequest("/api/show", http.StatusOK, 150*time.Millisecond, "llama3")

	stats := ms.GetRequestStats()
	if stats.TotalRequests != 3 {
		t.Errorf("Expected 3 total requests, got %d", stats.TotalRequests)
	}
	if stats.SuccessfulRequests != 2 {
		t.Errorf("Expected 2 successful requests, got %d", stats.SuccessfulRequests)
	}
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
	if stats.TotalResponseTime != 450 {
		t.Errorf("Expected 450ms total response time, got %d", stats.TotalResponseTime)
	}
	if len(stats.RequestHistory) != 3 || stats.RequestHistory[2].Model != "llama3" {
		t.Errorf("unexpected history: %+v", stats.RequestHistory)
	}

	got := testutil.ToFloat64(ms.collectors.requests.WithLabelValues("/v1/chat/completions", "502"))
	if got != 1 {
		t.Errorf("Expected 1 request counted for status 502, got %v", got)
	}
}

func TestMetricsService_GetQPS(t *testing.T) {
	ms := newTestService(t, 10, nil)

	if qps := ms.GetQPS(); qps != 0 {
		t.Errorf("QPS should be 0 without requests, got %f", qps)
	}
	for i := 0; i < 6; i++ {
		ms.RecordRequest("/health", http.StatusOK, time.Millisecond)
	}
	if qps := ms.GetQPS(); qps != 0.1 {
		t.Errorf("Expected QPS 0.1, got %f", qps)
	}
}

func TestMetricsService_MaxHistorySize(t *testing.T) {
	ms := newTestService(t, 3, nil)

	for i := 0; i < 5; i++ {
		ms.RecordRequest("/api/tags", http.StatusOK, time.Millisecond)
	}

	stats := ms.GetRequestStats()
	if len(stats.RequestHistory) != 3 {
		t.Errorf("History should be capped at 3, got %d", len(stats.RequestHistory))
	}
}

func TestMetricsService_DefaultHistorySize(t *testing.T) {
	ms := newTestService(t, 0, nil)
	if ms.maxHistorySize != core.HistoryBufferSize {
		t.Errorf("Expected default history size %d, got %d", core.HistoryBufferSize, ms.maxHistorySize)
	}
}

func TestMetricsService_EventCounters(t *testing.T) {
	ms := newTestService(t, 10, nil)

	ms.RecordAuthFailure("invalid_token")
	ms.RecordStreamAbort("overflow")
	ms.RecordStreamAbort("overflow")
	ms.RecordToolCallsReassembled(2)
	ms.RecordToolCallsReassembled(0)
	ms.RecordReinjection(core.ReinjectionTypeNames)
	ms.RecordCorrectiveRetry()
	ms.RecordSyntheticResponse("show")
	ms.RecordCacheHit()
	ms.RecordCacheMiss()
	ms.RecordCacheMiss()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"auth failures", testutil.ToFloat64(ms.collectors.authFailures.WithLabelValues("invalid_token")), 1},
		{"stream aborts", testutil.ToFloat64(ms.collectors.streamAborts.WithLabelValues("overflow")), 2},
		{"tool calls", testutil.ToFloat64(ms.collectors.toolCalls), 2},
		{"reinjections", testutil.ToFloat64(ms.collectors.reinjections.WithLabelValues(core.ReinjectionTypeNames)), 1},
		{"corrective retries", testutil.ToFloat64(ms.collectors.correctiveRetry), 1},
		{"synthetic", testutil.ToFloat64(ms.collectors.syntheticReplies.WithLabelValues("show")), 1},
		{"cache hits", testutil.ToFloat64(ms.collectors.cacheLookups.WithLabelValues("hit")), 1},
		{"cache misses", testutil.ToFloat64(ms.collectors.cacheLookups.WithLabelValues("miss")), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetricsService_Handler(t *testing.T) {
	ms := newTestService(t, 10, nil)
	ms.RecordRequest("/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `toolproxy_requests_total{route="/health",status="200"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "toolproxy_request_duration_seconds_bucket") {
		t.Error("duration histogram missing from exposition")
	}
}

func TestGetPeriodStats(t *testing.T) {
	now := time.Now()
	history := []core.RequestRecord{
		{Timestamp: now.Add(-10 * time.Minute), Status: 200, ResponseTime: 100},
		{Timestamp: now.Add(-30 * time.Minute), Status: 500, ResponseTime: 300},
		{Timestamp: now.Add(-5 * time.Hour), Status: 200, ResponseTime: 50},
	}

	stats := GetPeriodStats(history, 1, 24)
	hour := stats[1]
	if hour.Requests != 2 || hour.SuccessRate != 50 || hour.AvgResponseTime != 200 {
		t.Errorf("unexpected 1h stats: %+v", hour)
	}
	if stats[24].Requests != 3 {
		t.Errorf("Expected 3 requests in 24h, got %d", stats[24].Requests)
	}
	if GetPeriodStats(history) != nil {
		t.Error("no periods should yield nil")
	}
}

func TestMetricsService_LoadStats(t *testing.T) {
	st := &countingStorage{loaded: &core.RequestStats{
		TotalRequests:      4,
		SuccessfulRequests: 3,
		FailedRequests:     1,
		RequestHistory: []core.RequestRecord{
			{Route: "/a", Status: 200}, {Route: "/b", Status: 200}, {Route: "/c", Status: 404},
		},
	}}
	ms := newTestService(t, 2, st)

	if err := ms.LoadStats(context.Background()); err != nil {
		t.Fatalf("LoadStats failed: %v", err)
	}
	stats := ms.GetRequestStats()
	if stats.TotalRequests != 4 || stats.FailedRequests != 1 {
		t.Errorf("counters not restored: %+v", stats)
	}
	if len(stats.RequestHistory) != 2 || stats.RequestHistory[1].Route != "/c" {
		t.Errorf("history should keep the newest entries: %+v", stats.RequestHistory)
	}
}

func TestMetricsService_Close_Idempotent(t *testing.T) {
	st := &countingStorage{}
	ms := NewMetricsService(MetricsConfig{
		SaveInterval: time.Hour,
		HistorySize:  10,
		Storage:      st,
		Logger:       &core.NopLogger{},
	})

	ms.RecordRequest("/v1/models", http.StatusOK, 10*time.Millisecond)

	if err := ms.Close(context.Background()); err != nil {
		t.Fatalf("first Close should not fail: %v", err)
	}
	firstCloseSaves := st.getSaveCount()
	if firstCloseSaves == 0 {
		t.Fatal("stats should be persisted at least once after the first Close")
	}

	if err := ms.Close(context.Background()); err != nil {
		t.Fatalf("second Close should not fail: %v", err)
	}
	if st.getSaveCount() != firstCloseSaves {
		t.Fatalf("second Close should not persist again, first=%d, after second=%d", firstCloseSaves, st.getSaveCount())
	}
}
