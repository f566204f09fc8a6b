// Package engine wires one load test run together: request executor,
// workers, traffic scheduler, metrics aggregation and resource monitoring.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yqhp/loadgen/internal/execution"
	"yqhp/loadgen/internal/executor"
	"yqhp/loadgen/internal/metrics"
	"yqhp/loadgen/internal/monitor"
	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
)

// ErrNoBaseURL 表示配置和引擎都没有提供目标地址。
var ErrNoBaseURL = errors.New("no base URL configured")

// Options 配置 Engine。
type Options struct {
	// DefaultBaseURL 在测试配置未指定 baseUrl 时使用。
	DefaultBaseURL string

	Executor        executor.Options
	MonitorInterval time.Duration

	// Collector 可以为 nil。
	Collector *metrics.Collector

	// NewSampler 为一次运行创建资源采样器，默认使用当前进程采样。
	NewSampler func(active func() int64) (monitor.Sampler, error)
}

// Engine 创建并执行运行。
type Engine struct {
	opts Options
}

// New 创建 Engine。
func New(opts Options) *Engine {
	if opts.NewSampler == nil {
		opts.NewSampler = func(active func() int64) (monitor.Sampler, error) {
			return monitor.NewProcessSampler(active)
		}
	}
	return &Engine{opts: opts}
}

// Run 是一次运行的句柄。
type Run struct {
	id    string
	runID string
	cfg   *types.TestConfiguration

	exec  *executor.RequestExecutor
	sched *execution.Scheduler
	agg   *metrics.Aggregator
	mon   *monitor.Monitor
	col   *metrics.Collector
	log   *zap.Logger

	mu     sync.RWMutex
	result *types.TestResult

	once sync.Once
	done chan struct{}
}

// Prepare 校验配置并创建运行，配置会被深拷贝，之后的修改不影响运行。
func (e *Engine) Prepare(id string, cfg *types.TestConfiguration) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = e.opts.DefaultBaseURL
	}
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}

	runID := uuid.NewString()
	r := &Run{
		id:    id,
		runID: runID,
		cfg:   cfg,
		exec:  executor.New(baseURL, e.opts.Executor),
		agg:   metrics.NewAggregator(cfg.Name, e.opts.Collector),
		col:   e.opts.Collector,
		log:   logger.L().With(zap.String("id", id), zap.String("run_id", runID)),
		result: &types.TestResult{
			ID:       id,
			RunID:    runID,
			TestName: cfg.Name,
			State:    types.RunStateCreated,
		},
		done: make(chan struct{}),
	}

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), max(1, int(cfg.MaxRequestsPerSecond)))
	}

	sched, err := execution.NewScheduler(&execution.SchedulerConfig{
		Name:        cfg.Name,
		Concurrency: cfg.Concurrency,
		Duration:    cfg.Duration.Std(),
		RampUp:      cfg.RampUpTime.Std(),
		RampDown:    cfg.RampDownTime.Std(),
		NewWorker: func(i int) execution.Runner {
			return execution.NewWorker(execution.WorkerOptions{
				ID:      i,
				RunID:   runID,
				Config:  cfg,
				Exec:    r.exec,
				Sink:    r.agg,
				Limiter: limiter,
			})
		},
		OnStateChange: r.onStateChange,
		OnActiveChange: func(n int64) {
			r.col.SetActiveWorkers(cfg.Name, n)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r.sched = sched

	sampler, err := e.opts.NewSampler(sched.ActiveWorkers)
	if err != nil {
		return nil, fmt.Errorf("create resource sampler: %w", err)
	}
	r.mon = monitor.New(sampler, e.opts.MonitorInterval)
	return r, nil
}

// Run 准备并同步执行一次运行。
func (e *Engine) Run(ctx context.Context, id string, cfg *types.TestConfiguration) (*types.TestResult, error) {
	r, err := e.Prepare(id, cfg)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx), nil
}

// Execute 执行运行并阻塞到结束，返回最终结果。只能调用一次。
func (r *Run) Execute(ctx context.Context) *types.TestResult {
	r.mu.Lock()
	r.result.StartTime = time.Now()
	r.mu.Unlock()

	r.log.Info("load test started",
		zap.String("test", r.cfg.Name),
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Duration("duration", r.cfg.Duration.Std()),
		zap.Duration("ramp_up", r.cfg.RampUpTime.Std()),
	)

	r.mon.Start(ctx)
	if err := r.sched.Run(ctx); err != nil {
		r.log.Error("scheduler failed", zap.Error(err))
	}
	samples := r.mon.Stop()
	elapsed := r.sched.Elapsed()
	r.exec.Close()
	r.col.Forget(r.cfg.Name)

	r.mu.Lock()
	res := r.result
	r.agg.Finalize(res, elapsed)
	res.EndTime = res.StartTime.Add(elapsed)
	res.Duration = types.Duration(elapsed)
	res.Aborted = r.sched.Aborted()
	res.State = types.RunStateFinalized
	res.ResourceUsage = samples
	final := res.Clone()
	r.mu.Unlock()

	r.once.Do(func() { close(r.done) })

	r.log.Info("load test finished",
		zap.String("test", r.cfg.Name),
		zap.Bool("aborted", final.Aborted),
		zap.Int64("total", final.TotalRequests),
		zap.Int64("failed", final.FailedRequests),
		zap.Float64("p95_ms", final.P95ResponseTime),
		zap.Float64("rps", final.RequestsPerSecond),
	)
	return final
}

func (r *Run) onStateChange(from, to types.RunState) {
	r.mu.Lock()
	r.result.State = to
	r.mu.Unlock()
	r.log.Debug("run state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

// Stop 立即触发运行的取消令牌，可重复调用。
func (r *Run) Stop() {
	r.sched.Stop()
}

// Done 在运行结束并生成最终结果后关闭。
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait 阻塞到运行结束或 ctx 结束。
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID 返回运行标识。
func (r *Run) ID() string { return r.id }

// RunID 返回运行的 UUID，用于请求追踪。
func (r *Run) RunID() string { return r.runID }

// Name 返回测试名。
func (r *Run) Name() string { return r.cfg.Name }

// Config 返回运行配置的拷贝。
func (r *Run) Config() *types.TestConfiguration { return r.cfg.Clone() }

// State 返回当前状态。
func (r *Run) State() types.RunState {
	return r.sched.State()
}

// ActiveWorkers 返回当前活跃 worker 数。
func (r *Run) ActiveWorkers() int64 {
	return r.sched.ActiveWorkers()
}

// Result 返回结果快照。运行中只包含实时计数，结束后为最终结果。
func (r *Run) Result() *types.TestResult {
	r.mu.RLock()
	snap := r.result.Clone()
	r.mu.RUnlock()

	select {
	case <-r.done:
	default:
		snap.TotalRequests, snap.SuccessfulRequests, snap.FailedRequests = r.agg.Counts()
		snap.Duration = types.Duration(r.sched.Elapsed())
	}
	return snap
}
