package core

import "time"

// RequestStats holds aggregated request statistics for monitoring.
type RequestStats struct {
	TotalRequests      int64           `json:"total_requests"`
	SuccessfulRequests int64           `json:"successful_requests"`
	FailedRequests     int64           `json:"failed_requests"`
	TotalResponseTime  int64           `json:"total_response_time"`
	LastRequestTime    time.Time       `json:"last_request_time"`
	RequestHistory     []RequestRecord `json:"request_history"`
}

// RequestRecord is one handled request kept in the rolling history.
type RequestRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Route        string    `json:"route"`
	Status       int       `json:"status"`
	ResponseTime int64     `json:"response_time"`
	Model        string    `json:"model,omitempty"`
}

// Success reports whether the request completed with a non-error status.
func (r RequestRecord) Success() bool {
	return r.Status > 0 && r.Status < 400
}

// PeriodStats holds computed statistics for a time period.
type PeriodStats struct {
	Requests        int64   `json:"requests"`
	SuccessRate     float64 `json:"success_rate"`
	AvgResponseTime int64   `json:"avg_response_time"`
	QPS             float64 `json:"qps"`
}
