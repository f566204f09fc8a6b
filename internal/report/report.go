// Package report turns finalized run results into ratings, recommendations
// and human-readable or JSON reports.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/duke-git/lancet/v2/slice"

	"yqhp/loadgen/pkg/types"
)

// DefaultTopErrors 是错误表默认展示的条数。
const DefaultTopErrors = 5

// Rating 是定性评级。
type Rating string

const (
	RatingExcellent Rating = "Excellent"
	RatingGood      Rating = "Good"
	RatingFair      Rating = "Fair"
	RatingPoor      Rating = "Poor"
)

// Priority 是建议的优先级。
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
)

// Recommendation 是一条可执行的建议。
type Recommendation struct {
	Priority       Priority `json:"priority"`
	Category       string   `json:"category"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation"`
}

// ErrorCount 是按 "endpoint: message" 分组的错误计数。
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// EndpointRow 是端点表中的一行。
type EndpointRow struct {
	Endpoint            string  `json:"endpoint"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessfulRequests  int64   `json:"successfulRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	SuccessRate         float64 `json:"successRate"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	P95ResponseTime     float64 `json:"p95ResponseTime"`
	Throughput          float64 `json:"throughput"`
}

// Summary 是报告的头部指标和评级。
type Summary struct {
	TotalRequests       int64   `json:"totalRequests"`
	SuccessfulRequests  int64   `json:"successfulRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	SuccessRate         float64 `json:"successRate"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	P50ResponseTime     float64 `json:"p50ResponseTime"`
	P95ResponseTime     float64 `json:"p95ResponseTime"`
	P99ResponseTime     float64 `json:"p99ResponseTime"`
	RequestsPerSecond   float64 `json:"requestsPerSecond"`
	Performance         Rating  `json:"performance"`
	Reliability         Rating  `json:"reliability"`
}

// Report 是单次运行的完整报告。
type Report struct {
	TestName        string           `json:"testName"`
	Duration        types.Duration   `json:"duration"`
	Aborted         bool             `json:"aborted"`
	Summary         Summary          `json:"summary"`
	TopErrors       []ErrorCount     `json:"topErrors"`
	Endpoints       []EndpointRow    `json:"endpoints"`
	Recommendations []Recommendation `json:"recommendations"`
}

// PerformanceRating 按 p95（毫秒）评级。
func PerformanceRating(p95 float64) Rating {
	switch {
	case p95 < 1000:
		return RatingExcellent
	case p95 < 2000:
		return RatingGood
	case p95 < 5000:
		return RatingFair
	default:
		return RatingPoor
	}
}

// ReliabilityRating 按成功率（百分比）评级。
func ReliabilityRating(successRate float64) Rating {
	switch {
	case successRate > 99.5:
		return RatingExcellent
	case successRate > 99:
		return RatingGood
	case successRate > 95:
		return RatingFair
	default:
		return RatingPoor
	}
}

// Recommendations 按固定规则生成建议，顺序固定。
func Recommendations(res *types.TestResult) []Recommendation {
	recs := make([]Recommendation, 0, 4)
	if rate := res.SuccessRate(); rate < 99 {
		recs = append(recs, Recommendation{
			Priority:       PriorityHigh,
			Category:       "Reliability",
			Issue:          fmt.Sprintf("Success rate is %.2f%%", rate),
			Recommendation: "Investigate failing requests and fix the underlying errors",
		})
	}
	if res.P95ResponseTime > 2000 {
		recs = append(recs, Recommendation{
			Priority:       PriorityMedium,
			Category:       "Performance",
			Issue:          fmt.Sprintf("95th percentile response time is %.0fms", res.P95ResponseTime),
			Recommendation: "Optimize slow endpoints, add caching or scale the service",
		})
	}
	if res.MaxResponseTime > 10000 {
		recs = append(recs, Recommendation{
			Priority:       PriorityHigh,
			Category:       "Performance",
			Issue:          fmt.Sprintf("Maximum response time is %.0fms", res.MaxResponseTime),
			Recommendation: "Add request timeouts and look for blocking operations",
		})
	}
	if n := len(groupErrors(res.Errors)); n > 0 {
		recs = append(recs, Recommendation{
			Priority:       PriorityMedium,
			Category:       "Error Handling",
			Issue:          fmt.Sprintf("%d distinct error types observed", n),
			Recommendation: "Review error handling for the reported endpoints",
		})
	}
	return recs
}

// TopErrors 返回出现次数最多的 n 类错误，次数相同时按名称排序。n <= 0 返回全部。
func TopErrors(errs []types.TestError, n int) []ErrorCount {
	counts := groupErrors(errs)
	out := make([]ErrorCount, 0, len(counts))
	for key, c := range counts {
		out = append(out, ErrorCount{Error: key, Count: c})
	}
	slice.SortBy(out, func(a, b ErrorCount) bool {
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Error < b.Error
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func groupErrors(errs []types.TestError) map[string]int {
	counts := make(map[string]int)
	for _, e := range errs {
		counts[e.GroupKey()]++
	}
	return counts
}

// Generate 生成单次运行的报告。
func Generate(res *types.TestResult) *Report {
	r := &Report{
		TestName: res.TestName,
		Duration: res.Duration,
		Aborted:  res.Aborted,
		Summary: Summary{
			TotalRequests:       res.TotalRequests,
			SuccessfulRequests:  res.SuccessfulRequests,
			FailedRequests:      res.FailedRequests,
			SuccessRate:         res.SuccessRate(),
			AverageResponseTime: res.AverageResponseTime,
			P50ResponseTime:     res.P50ResponseTime,
			P95ResponseTime:     res.P95ResponseTime,
			P99ResponseTime:     res.P99ResponseTime,
			RequestsPerSecond:   res.RequestsPerSecond,
			Performance:         PerformanceRating(res.P95ResponseTime),
			Reliability:         ReliabilityRating(res.SuccessRate()),
		},
		TopErrors:       TopErrors(res.Errors, DefaultTopErrors),
		Recommendations: Recommendations(res),
	}

	keys := maputil.Keys(res.EndpointStats)
	sort.Strings(keys)
	for _, k := range keys {
		s := res.EndpointStats[k]
		r.Endpoints = append(r.Endpoints, EndpointRow{
			Endpoint:            k,
			TotalRequests:       s.TotalRequests,
			SuccessRate:         s.SuccessRate(),
			AverageResponseTime: s.AverageResponseTime,
			P95ResponseTime:     s.P95ResponseTime,
			Throughput:          s.Throughput,
		})
	}
	return r
}

// Render 把报告渲染为文本。
func (r *Report) Render() string {
	var b strings.Builder
	s := r.Summary

	fmt.Fprintf(&b, "=== %s ===\n", r.TestName)
	status := "completed"
	if r.Aborted {
		status = "aborted"
	}
	fmt.Fprintf(&b, "Duration:            %s (%s)\n", r.Duration.Std().Round(time.Millisecond), status)
	fmt.Fprintf(&b, "Total Requests:      %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "Successful:          %d\n", s.SuccessfulRequests)
	fmt.Fprintf(&b, "Failed:              %d\n", s.FailedRequests)
	fmt.Fprintf(&b, "Success Rate:        %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Requests/sec:        %.2f\n", s.RequestsPerSecond)
	fmt.Fprintf(&b, "Avg Response Time:   %.2fms\n", s.AverageResponseTime)
	fmt.Fprintf(&b, "P50/P95/P99:         %.2fms / %.2fms / %.2fms\n", s.P50ResponseTime, s.P95ResponseTime, s.P99ResponseTime)
	fmt.Fprintf(&b, "Performance:         %s\n", s.Performance)
	fmt.Fprintf(&b, "Reliability:         %s\n", s.Reliability)

	if len(r.TopErrors) > 0 {
		b.WriteString("\nTop Errors:\n")
		for _, e := range r.TopErrors {
			fmt.Fprintf(&b, "  %6d  %s\n", e.Count, e.Error)
		}
	}

	if len(r.Endpoints) > 0 {
		b.WriteString("\nEndpoints:\n")
		fmt.Fprintf(&b, "  %-32s %10s %9s %10s %10s\n", "ENDPOINT", "REQUESTS", "SUCCESS", "P95(ms)", "RPS")
		for _, e := range r.Endpoints {
			fmt.Fprintf(&b, "  %-32s %10d %8.2f%% %10.2f %10.2f\n",
				e.Endpoint, e.TotalRequests, e.SuccessRate, e.P95ResponseTime, e.Throughput)
		}
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  [%s] %s: %s. %s\n", rec.Priority, rec.Category, rec.Issue, rec.Recommendation)
		}
	}
	return b.String()
}

// RenderAll 渲染多次运行的报告，按给定顺序拼接。
func RenderAll(results []*types.TestResult) string {
	if len(results) == 0 {
		return "No test results available.\n"
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, Generate(res).Render())
	}
	return strings.Join(parts, "\n")
}
