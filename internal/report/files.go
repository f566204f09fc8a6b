package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"yqhp/loadgen/pkg/types"
	"yqhp/loadgen/pkg/utils"
)

// FileReport 是写入磁盘的单次运行报告。
type FileReport struct {
	TestName        string            `json:"testName"`
	Timestamp       time.Time         `json:"timestamp"`
	Stats           *types.TestResult `json:"stats"`
	Summary         Summary           `json:"summary"`
	TopErrors       []ErrorCount      `json:"topErrors"`
	Recommendations []Recommendation  `json:"recommendations"`
}

// SuiteSummary 汇总一组运行。
type SuiteSummary struct {
	Timestamp          time.Time           `json:"timestamp"`
	Tests              int                 `json:"tests"`
	AverageSuccessRate float64             `json:"averageSuccessRate"`
	AverageP95         float64             `json:"averageP95"`
	Results            []*types.TestResult `json:"results"`
}

// FileTimestamp 把时间格式化为可用于文件名的 RFC3339 形式。
func FileTimestamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format(time.RFC3339Nano))
}

// FileName 返回单次运行报告的文件名。
func FileName(testName string, t time.Time) string {
	return sanitize(testName) + "_" + FileTimestamp(t) + ".json"
}

// SummaryFileName 返回汇总文件名。
func SummaryFileName(t time.Time) string {
	return "load_test_summary_" + FileTimestamp(t) + ".json"
}

// NewFileReport 组装单次运行的文件报告。
func NewFileReport(res *types.TestResult, now time.Time) *FileReport {
	r := Generate(res)
	return &FileReport{
		TestName:        res.TestName,
		Timestamp:       now,
		Stats:           res,
		Summary:         r.Summary,
		TopErrors:       r.TopErrors,
		Recommendations: r.Recommendations,
	}
}

// Summarize 计算一组运行的平均成功率和平均 p95。
func Summarize(results []*types.TestResult, now time.Time) *SuiteSummary {
	s := &SuiteSummary{Timestamp: now, Tests: len(results), Results: results}
	if len(results) == 0 {
		return s
	}
	var rate, p95 float64
	for _, r := range results {
		rate += r.SuccessRate()
		p95 += r.P95ResponseTime
	}
	s.AverageSuccessRate = rate / float64(len(results))
	s.AverageP95 = p95 / float64(len(results))
	return s
}

// WriteReport 把单次运行的报告写到 dir，返回文件路径。
func WriteReport(dir string, res *types.TestResult, now time.Time) (string, error) {
	return writeJSON(dir, FileName(res.TestName, now), NewFileReport(res, now))
}

// WriteSummary 把汇总写到 dir，返回文件路径。
func WriteSummary(dir string, results []*types.TestResult, now time.Time) (string, error) {
	return writeJSON(dir, SummaryFileName(now), Summarize(results, now))
}

func writeJSON(dir, name string, v any) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := utils.ToJSONPretty(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// sanitize 去掉文件名中的路径分隔符。
func sanitize(name string) string {
	return strings.NewReplacer("/", "-", "\\", "-").Replace(name)
}
