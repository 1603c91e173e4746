package core

import (
	"context"
	"time"
)

// Logger interface
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
}

// Cache interface
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, duration time.Duration)
	Stop()
}

// StorageInterface persists aggregated request statistics.
type StorageInterface interface {
	SaveStats(ctx context.Context, stats *RequestStats) error
	LoadStats(ctx context.Context) (*RequestStats, error)
	Close() error
}

// MetricsCollector records gateway events. Implementations must be safe for
// concurrent use.
type MetricsCollector interface {
	RecordRequest(route string, status int, duration time.Duration)
	RecordAuthFailure(reason string)
	RecordStreamAbort(reason string)
	RecordToolCallsReassembled(count int)
	RecordReinjection(mode string)
	RecordCorrectiveRetry()
	RecordSyntheticResponse(endpoint string)
	RecordCacheHit()
	RecordCacheMiss()
}

// NopLogger empty logger implementation
type NopLogger struct{}

func (*NopLogger) Debug(format string, args ...any) {}
func (*NopLogger) Info(format string, args ...any)  {}
func (*NopLogger) Warn(format string, args ...any)  {}
func (*NopLogger) Error(format string, args ...any) {}
func (*NopLogger) Fatal(format string, args ...any) {}

// NopMetrics empty metrics collector implementation
type NopMetrics struct{}

func (*NopMetrics) RecordRequest(route string, status int, duration time.Duration) {}
func (*NopMetrics) RecordAuthFailure(reason string)                               {}
func (*NopMetrics) RecordStreamAbort(reason string)                               {}
func (*NopMetrics) RecordToolCallsReassembled(count int)                          {}
func (*NopMetrics) RecordReinjection(mode string)                                 {}
func (*NopMetrics) RecordCorrectiveRetry()                                        {}
func (*NopMetrics) RecordSyntheticResponse(endpoint string)                       {}
func (*NopMetrics) RecordCacheHit()                                               {}
func (*NopMetrics) RecordCacheMiss()                                              {}
