// Package execution drives simulated users against a target system: each
// Worker loops over weighted scenarios or endpoints until its run's
// cancellation token is raised, and the Scheduler staggers workers over the
// ramp-up window and drives the run state machine.
package execution

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yqhp/loadgen/internal/catalog"
	"yqhp/loadgen/internal/executor"
	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
	"yqhp/loadgen/pkg/utils"
)

// panicBackoff 是迭代 panic 后的停顿，避免空转。
const panicBackoff = 100 * time.Millisecond

// Executor 执行单个请求。
type Executor interface {
	Execute(ctx context.Context, r executor.Request) (*executor.Outcome, error)
}

// Sink 接收请求结果，必须支持并发调用。
type Sink interface {
	Record(res types.RequestResult, errs []types.TestError)
}

// WorkerOptions 配置一个 Worker。
type WorkerOptions struct {
	ID     int
	RunID  string
	Config *types.TestConfiguration
	Exec   Executor
	Sink   Sink

	// Limiter 在整个运行的所有 worker 之间共享，nil 表示不限速。
	Limiter *rate.Limiter

	// Rand 为空时使用按 worker 编号播种的 PCG。
	Rand *rand.Rand
}

// Worker 模拟一个用户，循环执行场景或单个端点直到令牌被触发。
type Worker struct {
	id      int
	runID   string
	cfg     *types.TestConfiguration
	exec    Executor
	sink    Sink
	limiter *rate.Limiter
	rng     *rand.Rand
	seq     int64
	log     *zap.Logger
}

// NewWorker 创建 Worker。
func NewWorker(opts WorkerOptions) *Worker {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(opts.ID)))
	}
	return &Worker{
		id:      opts.ID,
		runID:   opts.RunID,
		cfg:     opts.Config,
		exec:    opts.Exec,
		sink:    opts.Sink,
		limiter: opts.Limiter,
		rng:     rng,
		log:     logger.L().With(zap.String("test", opts.Config.Name), zap.Int("worker", opts.ID)),
	}
}

// Run 循环执行迭代直到 ctx 结束。单次迭代中的 panic 只会结束该次迭代。
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := utils.Recover(func() { w.iterate(ctx) }); err != nil {
			w.log.Warn("worker iteration failed", zap.Error(err))
			if !sleepCtx(ctx, panicBackoff) {
				return
			}
		}
	}
}

func (w *Worker) iterate(ctx context.Context) {
	if sc, ok := catalog.SelectWeighted(w.cfg.Scenarios, w.rng); ok {
		if w.runScenario(ctx, &sc) == 0 {
			// 本次旅程没有发出任何请求，避免空转
			sleepCtx(ctx, w.thinkTime())
		}
		return
	}

	ep, ok := catalog.SelectWeighted(w.cfg.Endpoints, w.rng)
	if !ok {
		ep, ok = catalog.SelectUniform(w.cfg.Endpoints, w.rng)
	}
	if !ok {
		// 没有可用端点，等待令牌
		<-ctx.Done()
		return
	}
	if w.dispatch(ctx, &ep, nil, false) == nil {
		return
	}
	sleepCtx(ctx, w.thinkTime())
}

// runScenario 按顺序执行场景步骤，每次旅程拥有独立的变量表。
// 步骤之间的 Delay 在该步骤请求之后生效。返回实际发出的请求数。
func (w *Worker) runScenario(ctx context.Context, sc *types.Scenario) (sent int) {
	vars := make(map[string]string)
	for i := range sc.Steps {
		if ctx.Err() != nil {
			return sent
		}
		step := &sc.Steps[i]
		ep, ok := w.cfg.FindEndpoint(step.Endpoint)
		if !ok {
			w.log.Debug("scenario step references unknown endpoint",
				zap.String("scenario", sc.Name), zap.String("endpoint", step.Endpoint))
			continue
		}

		out := w.dispatch(ctx, ep, vars, len(step.Extract) > 0)
		if out == nil {
			return sent
		}
		sent++
		if out.Result.Success && len(step.Extract) > 0 {
			extracted, err := executor.Extract(out.Body, step.Extract)
			if err != nil {
				w.log.Debug("extract failed", zap.String("endpoint", ep.Key()), zap.Error(err))
			}
			for k, v := range extracted {
				vars[k] = v
			}
		}

		if step.Delay > 0 && !sleepCtx(ctx, step.Delay.Std()) {
			return sent
		}
	}
	return sent
}

// dispatch 执行一个请求并把结果交给 Sink。令牌已触发时返回 nil。
func (w *Worker) dispatch(ctx context.Context, ep *types.Endpoint, vars map[string]string, capture bool) *executor.Outcome {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	w.seq++
	out, err := w.exec.Execute(ctx, executor.Request{
		Endpoint:    ep,
		Vars:        vars,
		RequestID:   fmt.Sprintf("%s-%d-%d", w.runID, w.id, w.seq),
		CaptureBody: capture,
	})
	if err != nil || out == nil {
		return nil
	}
	w.sink.Record(out.Result, out.Errors)
	return out
}

// thinkTime 在 [min, max] 内均匀取值。
func (w *Worker) thinkTime() time.Duration {
	lo, hi := w.cfg.ThinkTimeRange()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.rng.Int64N(int64(hi-lo)+1))
}
