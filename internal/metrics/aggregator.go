// Package metrics aggregates per-request results of a run into global and
// per-endpoint statistics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/loadgen/pkg/types"
)

// HdrHistogram 以微秒记录，最大 1 小时，3 位有效数字
const (
	histMinMicros = 1
	histMaxMicros = 3_600_000_000
	histSigFigs   = 3
)

// Aggregator 收集一次运行的请求结果。Record 可被多个 worker 并发调用。
// 运行期间只做增量更新，百分位数在 Finalize 时计算。
type Aggregator struct {
	mu sync.Mutex

	test      string
	collector *Collector

	results   []types.RequestResult
	errors    []types.TestError
	endpoints map[string]*endpointAccumulator

	total   int64
	success int64
	failed  int64

	sumMs  float64
	minMs  float64
	maxMs  float64
	minSet bool
}

type endpointAccumulator struct {
	stats  types.EndpointStats
	sumMs  float64
	minSet bool
	hist   *hdrhistogram.Histogram
}

// NewAggregator 创建聚合器，collector 可以为 nil。
func NewAggregator(test string, collector *Collector) *Aggregator {
	return &Aggregator{
		test:      test,
		collector: collector,
		endpoints: make(map[string]*endpointAccumulator),
	}
}

// Record 追加一次请求结果和它附带的错误条目。
func (a *Aggregator) Record(res types.RequestResult, errs []types.TestError) {
	ms := toMillis(res.Duration.Std())

	a.mu.Lock()
	a.results = append(a.results, res)
	a.errors = append(a.errors, errs...)

	a.total++
	if res.Success {
		a.success++
	} else {
		a.failed++
	}
	a.sumMs += ms
	if !a.minSet || ms < a.minMs {
		a.minMs = ms
		a.minSet = true
	}
	if ms > a.maxMs {
		a.maxMs = ms
	}

	acc, ok := a.endpoints[res.Endpoint]
	if !ok {
		acc = &endpointAccumulator{
			stats: types.EndpointStats{Endpoint: res.Endpoint},
			hist:  hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs),
		}
		a.endpoints[res.Endpoint] = acc
	}
	acc.record(res, ms)
	a.mu.Unlock()

	a.collector.Observe(a.test, res, errs)
}

func (acc *endpointAccumulator) record(res types.RequestResult, ms float64) {
	s := &acc.stats
	s.TotalRequests++
	if res.Success {
		s.SuccessCount++
		micros := res.Duration.Std().Microseconds()
		if micros < histMinMicros {
			micros = histMinMicros
		}
		if micros > histMaxMicros {
			micros = histMaxMicros
		}
		_ = acc.hist.RecordValue(micros)
	} else {
		s.ErrorCount++
	}
	s.BytesReceived += res.Size
	acc.sumMs += ms
	s.AverageResponseTime = acc.sumMs / float64(s.TotalRequests)
	if !acc.minSet || ms < s.MinResponseTime {
		s.MinResponseTime = ms
		acc.minSet = true
	}
	if ms > s.MaxResponseTime {
		s.MaxResponseTime = ms
	}
}

// Counts 返回当前的总数、成功数和失败数。
func (a *Aggregator) Counts() (total, success, failed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.success, a.failed
}

// Results 返回已记录结果的拷贝。
func (a *Aggregator) Results() []types.RequestResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.RequestResult(nil), a.results...)
}

// Finalize 把聚合结果写入 into。elapsed 是实际运行的墙钟时长，用于计算吞吐量。
// 没有任何请求时平均值和百分位数均为 0。
func (a *Aggregator) Finalize(into *types.TestResult, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	into.TotalRequests = a.total
	into.SuccessfulRequests = a.success
	into.FailedRequests = a.failed
	into.Errors = append([]types.TestError(nil), a.errors...)

	into.AverageResponseTime = 0
	into.MinResponseTime = 0
	into.MaxResponseTime = 0
	if a.total > 0 {
		into.AverageResponseTime = a.sumMs / float64(a.total)
		into.MinResponseTime = a.minMs
		into.MaxResponseTime = a.maxMs
	}

	durations := make([]float64, 0, a.success)
	for _, r := range a.results {
		if r.Success {
			durations = append(durations, toMillis(r.Duration.Std()))
		}
	}
	sort.Float64s(durations)
	into.P50ResponseTime = Percentile(durations, 50)
	into.P95ResponseTime = Percentile(durations, 95)
	into.P99ResponseTime = Percentile(durations, 99)

	seconds := elapsed.Seconds()
	into.RequestsPerSecond = 0
	if seconds > 0 {
		into.RequestsPerSecond = float64(a.total) / seconds
	}

	into.EndpointStats = make(map[string]*types.EndpointStats, len(a.endpoints))
	for key, acc := range a.endpoints {
		s := acc.stats
		if seconds > 0 {
			s.Throughput = float64(s.TotalRequests) / seconds
		}
		if acc.hist.TotalCount() > 0 {
			s.P50ResponseTime = float64(acc.hist.ValueAtQuantile(50)) / 1000
			s.P95ResponseTime = float64(acc.hist.ValueAtQuantile(95)) / 1000
			s.P99ResponseTime = float64(acc.hist.ValueAtQuantile(99)) / 1000
		}
		into.EndpointStats[key] = &s
	}
}

// Percentile 对升序数据按最近秩法取百分位：index = ceil(p/100*n) - 1，限制在 [0, n-1]。
// 空数据返回 0。
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
