package types

import "time"

// ErrorKind 对请求级错误分类。
type ErrorKind string

const (
	ErrorKindNetwork          ErrorKind = "network"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindUnexpectedStatus ErrorKind = "unexpected_status"
	ErrorKindSlowResponse     ErrorKind = "response_time_exceeded"
	ErrorKindInternal         ErrorKind = "internal"
)

// 错误条目的固定文案，报告按 "endpoint: message" 分组。
const (
	MsgResponseTimeExceeded = "Response time exceeded"
)

// RequestResult 是一次已执行的调用，创建后只追加不修改。
type RequestResult struct {
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Success    bool      `json:"success"`
	StatusCode *int      `json:"statusCode"`
	Duration   Duration  `json:"duration"`
	Size       int64     `json:"size"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
}

// TestError 是运行错误列表中的一项。
type TestError struct {
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupKey 返回 "endpoint: message"。
func (e TestError) GroupKey() string {
	return e.Endpoint + ": " + e.Message
}

// EndpointStats 是单个端点的运行聚合。时间单位为毫秒。
type EndpointStats struct {
	Endpoint            string  `json:"endpoint"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	ErrorCount          int64   `json:"errorCount"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	MinResponseTime     float64 `json:"minResponseTime"`
	MaxResponseTime     float64 `json:"maxResponseTime"`
	P50ResponseTime     float64 `json:"p50ResponseTime"`
	P95ResponseTime     float64 `json:"p95ResponseTime"`
	P99ResponseTime     float64 `json:"p99ResponseTime"`
	Throughput          float64 `json:"throughput"`
	BytesReceived       int64   `json:"bytesReceived"`
}

// SuccessRate 返回百分比形式的成功率。
func (s *EndpointStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests) * 100
}

// ResourceSample 是资源监控的一次采样。
type ResourceSample struct {
	Timestamp         time.Time `json:"timestamp"`
	MemoryUsage       uint64    `json:"memoryUsage"`
	HeapAlloc         uint64    `json:"heapAlloc"`
	CPUUsage          float64   `json:"cpuUsage"`
	CPUPercent        float64   `json:"cpuPercent"`
	Goroutines        int       `json:"goroutines"`
	ActiveConnections int64     `json:"activeConnections"`
}

// TestResult 是一次运行的完整结果。运行期间由引擎更新，结束后冻结。
// 时间类字段单位为毫秒。
type TestResult struct {
	ID       string   `json:"id"`
	RunID    string   `json:"runId"`
	TestName string   `json:"testName"`
	State    RunState `json:"state"`
	Aborted  bool     `json:"aborted"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  Duration  `json:"duration"`

	TotalRequests      int64 `json:"totalRequests"`
	SuccessfulRequests int64 `json:"successfulRequests"`
	FailedRequests     int64 `json:"failedRequests"`

	AverageResponseTime float64 `json:"averageResponseTime"`
	MinResponseTime     float64 `json:"minResponseTime"`
	MaxResponseTime     float64 `json:"maxResponseTime"`
	P50ResponseTime     float64 `json:"p50ResponseTime"`
	P95ResponseTime     float64 `json:"p95ResponseTime"`
	P99ResponseTime     float64 `json:"p99ResponseTime"`
	RequestsPerSecond   float64 `json:"requestsPerSecond"`

	Errors        []TestError               `json:"errors"`
	EndpointStats map[string]*EndpointStats `json:"endpointStats"`
	ResourceUsage []ResourceSample          `json:"resourceUsage"`
}

// SuccessRate 返回百分比形式的成功率，无请求时为 0。
func (r *TestResult) SuccessRate() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.SuccessfulRequests) / float64(r.TotalRequests) * 100
}
