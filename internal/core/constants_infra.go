package core

import "time"

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 200
	HTTPMaxIdleConnsPerHost   = 50
	HTTPMaxConnsPerHost       = 100
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 15 * time.Second
	HTTPExpectContinueTimeout = 5 * time.Second
	HTTPDialTimeout           = 30 * time.Second
	HTTPKeepAlive             = 30 * time.Second
)

// Server timeouts
const (
	ServerReadHeaderTimeout = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second
	ShutdownTimeout         = 15 * time.Second
)

// Cache config constants
const (
	CacheDefaultCapacity = 256
	CacheCleanupInterval = time.Minute
	CacheKeyVersion      = "v1"
)

// Stats and monitoring constants
const (
	StatsFilePath        = "stats.json"
	StatsRedisKey        = "toolproxy:stats"
	MinSaveInterval      = 5 * time.Second
	HistoryBufferSize    = 1000
	HistoryBatchSize     = 100
	HistoryFlushInterval = 100 * time.Millisecond
	StorageOpTimeout     = 5 * time.Second
)

// Body size limits
const (
	MaxRequestBodySize    = 100 * 1024 * 1024
	MaxResponseBodySize   = 10 * 1024 * 1024
	MaxErrorBodySize      = 64 * 1024
	MaxErrorMessageLength = 500
	StreamReadChunkSize   = 32 * 1024
)

// Logging config constants
const (
	MaxLogFilePathLength = 260
	TokenLogPrefixLength = 8
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
)
