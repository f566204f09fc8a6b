package metrics

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"yqhp/loadgen/pkg/types"
)

func result(endpoint string, d time.Duration, ok bool) types.RequestResult {
	status := 200
	if !ok {
		status = 500
	}
	return types.RequestResult{
		Endpoint:   endpoint,
		Method:     "GET",
		Success:    ok,
		StatusCode: &status,
		Duration:   types.Duration(d),
		Size:       10,
		Timestamp:  time.Now(),
	}
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, Percentile(nil, 95))

	data := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50.0, Percentile(data, 50))
	assert.Equal(t, 100.0, Percentile(data, 95))
	assert.Equal(t, 100.0, Percentile(data, 99))
	assert.Equal(t, 10.0, Percentile(data, 0))
	assert.Equal(t, 100.0, Percentile(data, 150))

	assert.Equal(t, 7.0, Percentile([]float64{7}, 50))
}

func TestFinalize_NoRequests(t *testing.T) {
	agg := NewAggregator("empty", nil)
	var res types.TestResult
	agg.Finalize(&res, time.Second)

	assert.Zero(t, res.TotalRequests)
	assert.Zero(t, res.AverageResponseTime)
	assert.Zero(t, res.MinResponseTime)
	assert.Zero(t, res.P95ResponseTime)
	assert.Zero(t, res.RequestsPerSecond)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.EndpointStats)
}

func TestFinalize_Aggregates(t *testing.T) {
	agg := NewAggregator("t", nil)
	agg.Record(result("/a", 10*time.Millisecond, true), nil)
	agg.Record(result("/a", 30*time.Millisecond, true), nil)
	agg.Record(result("/b", 100*time.Millisecond, false), []types.TestError{{Endpoint: "/b", Message: "Unexpected status code: 500"}})
	agg.Record(result("/b", 20*time.Millisecond, true), nil)

	total, success, failed := agg.Counts()
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(3), success)
	assert.Equal(t, int64(1), failed)
	assert.Len(t, agg.Results(), 4)

	var res types.TestResult
	agg.Finalize(&res, 2*time.Second)

	assert.Equal(t, int64(4), res.TotalRequests)
	assert.InDelta(t, 40.0, res.AverageResponseTime, 1e-9)
	assert.InDelta(t, 10.0, res.MinResponseTime, 1e-9)
	assert.InDelta(t, 100.0, res.MaxResponseTime, 1e-9)
	// 百分位只统计成功请求：[10, 20, 30]
	assert.InDelta(t, 20.0, res.P50ResponseTime, 1e-9)
	assert.InDelta(t, 30.0, res.P95ResponseTime, 1e-9)
	assert.InDelta(t, 2.0, res.RequestsPerSecond, 1e-9)
	require.Len(t, res.Errors, 1)

	a := res.EndpointStats["/a"]
	require.NotNil(t, a)
	assert.Equal(t, int64(2), a.TotalRequests)
	assert.Equal(t, int64(2), a.SuccessCount)
	assert.InDelta(t, 20.0, a.AverageResponseTime, 1e-9)
	assert.InDelta(t, 10.0, a.MinResponseTime, 1e-9)
	assert.InDelta(t, 30.0, a.MaxResponseTime, 1e-9)
	assert.InDelta(t, 30.0, a.P99ResponseTime, 0.1)
	assert.InDelta(t, 1.0, a.Throughput, 1e-9)
	assert.Equal(t, int64(20), a.BytesReceived)

	b := res.EndpointStats["/b"]
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.ErrorCount)
	assert.InDelta(t, 20.0, b.P50ResponseTime, 0.1)
}

func TestRecord_Concurrent(t *testing.T) {
	agg := NewAggregator("t", nil)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				agg.Record(result("/x", time.Duration(i)*time.Microsecond, (i+w)%3 != 0), nil)
			}
		}()
	}
	wg.Wait()

	var res types.TestResult
	agg.Finalize(&res, time.Second)
	assert.Equal(t, int64(4000), res.TotalRequests)
	assert.Equal(t, res.TotalRequests, res.SuccessfulRequests+res.FailedRequests)
	assert.Equal(t, res.TotalRequests, res.EndpointStats["/x"].TotalRequests)
}

func TestTotalsInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		agg := NewAggregator("t", nil)
		n := rapid.IntRange(0, 200).Draw(t, "n")
		for range n {
			ms := rapid.IntRange(0, 5000).Draw(t, "ms")
			ok := rapid.Bool().Draw(t, "ok")
			ep := rapid.SampledFrom([]string{"/a", "/b", "/c"}).Draw(t, "ep")
			agg.Record(result(ep, time.Duration(ms)*time.Millisecond, ok), nil)
		}

		var res types.TestResult
		agg.Finalize(&res, time.Second)

		if res.TotalRequests != int64(n) {
			t.Fatalf("total %d, want %d", res.TotalRequests, n)
		}
		if res.TotalRequests != res.SuccessfulRequests+res.FailedRequests {
			t.Fatalf("total %d != success %d + failed %d", res.TotalRequests, res.SuccessfulRequests, res.FailedRequests)
		}
		var sum int64
		for _, s := range res.EndpointStats {
			if s.TotalRequests != s.SuccessCount+s.ErrorCount {
				t.Fatalf("endpoint %s: total %d != %d + %d", s.Endpoint, s.TotalRequests, s.SuccessCount, s.ErrorCount)
			}
			sum += s.TotalRequests
		}
		if sum != res.TotalRequests {
			t.Fatalf("endpoint totals %d != %d", sum, res.TotalRequests)
		}
	})
}

func TestPercentileOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("p50 <= p95 <= p99 <= max", prop.ForAll(
		func(values []float64) bool {
			sorted := append([]float64(nil), values...)
			sort.Float64s(sorted)
			p50 := Percentile(sorted, 50)
			p95 := Percentile(sorted, 95)
			p99 := Percentile(sorted, 99)
			return p50 <= p95 && p95 <= p99 && p99 <= sorted[len(sorted)-1]
		},
		gen.SliceOf(gen.Float64Range(0, 60000)).SuchThat(func(v []float64) bool { return len(v) > 0 }),
	))

	properties.Property("finalized percentiles are ordered and bounded", prop.ForAll(
		func(ms []int) bool {
			agg := NewAggregator("t", nil)
			for _, m := range ms {
				agg.Record(result("/p", time.Duration(m)*time.Millisecond, true), nil)
			}
			var res types.TestResult
			agg.Finalize(&res, time.Second)
			s := res.EndpointStats["/p"]
			return res.P50ResponseTime <= res.P95ResponseTime &&
				res.P95ResponseTime <= res.P99ResponseTime &&
				res.P99ResponseTime <= res.MaxResponseTime &&
				s.P50ResponseTime <= s.P95ResponseTime &&
				s.P95ResponseTime <= s.P99ResponseTime
		},
		gen.SliceOf(gen.IntRange(1, 10000)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	col, err := NewCollector(reg)
	require.NoError(t, err)

	// 重复注册复用已有指标
	again, err := NewCollector(reg)
	require.NoError(t, err)

	agg := NewAggregator("checkout", col)
	agg.Record(result("/a", 5*time.Millisecond, true), nil)
	agg.Record(result("/a", 5*time.Millisecond, false), []types.TestError{
		{Endpoint: "/a", Kind: types.ErrorKindUnexpectedStatus},
		{Endpoint: "/a", Kind: types.ErrorKindSlowResponse},
	})
	again.Observe("checkout", result("/a", time.Millisecond, true), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(col.requests.WithLabelValues("checkout", "/a", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.requests.WithLabelValues("checkout", "/a", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.errors.WithLabelValues("checkout", string(types.ErrorKindSlowResponse))))

	col.SetActiveWorkers("checkout", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(col.workers.WithLabelValues("checkout")))
	col.Forget("checkout")
	assert.Equal(t, 0, testutil.CollectAndCount(col.workers))

	var nilCol *Collector
	assert.NotPanics(t, func() {
		nilCol.Observe("x", result("/a", time.Millisecond, true), nil)
		nilCol.SetActiveWorkers("x", 1)
		nilCol.Forget("x")
	})
}
