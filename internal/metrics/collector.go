package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"yqhp/loadgen/pkg/types"
)

// Collector 把运行中的请求暴露为 Prometheus 指标。所有方法对 nil 接收者安全。
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	workers  *prometheus.GaugeVec
}

// NewCollector 创建并注册指标。
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "requests_total",
			Help:      "Requests issued by load test workers.",
		}, []string{"test", "endpoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loadgen",
			Name:      "request_duration_seconds",
			Help:      "Request latency observed by load test workers.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"test", "endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "errors_total",
			Help:      "Error entries recorded by kind.",
		}, []string{"test", "kind"}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loadgen",
			Name:      "active_workers",
			Help:      "Workers currently generating traffic.",
		}, []string{"test"}),
	}

	var err error
	if c.requests, err = register(reg, c.requests); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	if c.errors, err = register(reg, c.errors); err != nil {
		return nil, err
	}
	if c.workers, err = register(reg, c.workers); err != nil {
		return nil, err
	}
	return c, nil
}

// register 注册指标，已注册时复用已有的实例。
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// Observe 记录一次请求。
func (c *Collector) Observe(test string, res types.RequestResult, errs []types.TestError) {
	if c == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	c.requests.WithLabelValues(test, res.Endpoint, outcome).Inc()
	c.duration.WithLabelValues(test, res.Endpoint).Observe(res.Duration.Std().Seconds())
	for _, e := range errs {
		c.errors.WithLabelValues(test, string(e.Kind)).Inc()
	}
}

// SetActiveWorkers 更新活跃 worker 数。
func (c *Collector) SetActiveWorkers(test string, n int64) {
	if c == nil {
		return
	}
	c.workers.WithLabelValues(test).Set(float64(n))
}

// Forget 在运行结束后删除该测试的 worker 仪表。
func (c *Collector) Forget(test string) {
	if c == nil {
		return
	}
	c.workers.DeleteLabelValues(test)
}
