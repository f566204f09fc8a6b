package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
)

// Runner 是被调度的单个 worker。
type Runner interface {
	Run(ctx context.Context)
}

// SchedulerConfig 配置一次运行的流量调度。
type SchedulerConfig struct {
	Name        string
	Concurrency int
	Duration    time.Duration
	RampUp      time.Duration
	RampDown    time.Duration

	// NewWorker 为编号 id 的 worker 创建 Runner，id 从 0 开始。
	NewWorker func(id int) Runner

	// OnStateChange 在每次状态变化后调用。
	OnStateChange func(from, to types.RunState)

	// OnActiveChange 在活跃 worker 数变化后调用。
	OnActiveChange func(active int64)
}

// Scheduler 把 worker 分散在爬坡窗口内启动，在时长到达或被停止时触发令牌，
// 并保证所有 worker 在运行结束前退出。
type Scheduler struct {
	cfg   SchedulerConfig
	state *StateMachine

	active  atomic.Int64
	aborted atomic.Bool
	running atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	startTime time.Time
	endTime   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler 校验配置并创建调度器。
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.NewWorker == nil {
		return nil, ErrNilWorkerFactory
	}
	if cfg.Concurrency <= 0 {
		return nil, ErrInvalidConcurrency
	}
	if cfg.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Scheduler{
		cfg:    *cfg,
		state:  NewStateMachine(cfg.OnStateChange),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// SpawnSchedule 返回每个 worker 相对运行开始的启动偏移。
// 第 k 个 worker（从 1 开始）在 ceil(k*R/N) 启动，R 为 0 时全部立即启动。
func SpawnSchedule(n int, rampUp time.Duration) []time.Duration {
	if n <= 0 {
		return nil
	}
	offsets := make([]time.Duration, n)
	if rampUp <= 0 {
		return offsets
	}
	r, nn := int64(rampUp), int64(n)
	for i := range offsets {
		k := int64(i + 1)
		offsets[i] = time.Duration((r*k + nn - 1) / nn)
	}
	return offsets
}

// ActiveAt 返回爬坡开始 t 之后已启动的 worker 数：min(N, floor(t/(R/N)))。
func ActiveAt(n int, rampUp, t time.Duration) int {
	if n <= 0 || t < 0 {
		return 0
	}
	if rampUp <= 0 {
		return n
	}
	active := int64(t) * int64(n) / int64(rampUp)
	if active > int64(n) {
		return n
	}
	return int(active)
}

// Run 执行整个运行并阻塞到 finalized。父 ctx 结束视为停止。
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.doneCh)

	log := logger.L().With(zap.String("test", s.cfg.Name))
	token, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.IsStopped() {
		cancel()
	}

	start := time.Now()
	s.mu.Lock()
	s.startTime = start
	s.mu.Unlock()
	end := start.Add(s.cfg.Duration)
	_ = s.state.Transition(types.RunStateRampingUp)

	var g errgroup.Group
	for id, offset := range SpawnSchedule(s.cfg.Concurrency, s.cfg.RampUp) {
		at := start.Add(offset)
		if !at.Before(end) || !sleepUntil(token, at) {
			break
		}
		runner := s.cfg.NewWorker(id)
		s.setActive(s.active.Add(1))
		g.Go(func() error {
			defer func() { s.setActive(s.active.Add(-1)) }()
			runner.Run(token)
			return nil
		})
	}
	log.Debug("workers spawned", zap.Int64("active", s.active.Load()))

	workersDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(workersDone)
	}()

	if token.Err() == nil {
		_ = s.state.Transition(types.RunStateSteady)
		sleepUntil(token, end)
	}

	if token.Err() != nil || s.IsStopped() {
		// 显式停止或父 ctx 结束：不等待 rampDown
		s.aborted.Store(true)
		_ = s.state.Transition(types.RunStateAborted)
		cancel()
		<-workersDone
	} else {
		_ = s.state.Transition(types.RunStateRampingDown)
		cancel()
		grace := time.NewTimer(s.cfg.RampDown)
		select {
		case <-workersDone:
		case <-grace.C:
			log.Warn("workers still in flight after ramp down")
		case <-s.stopCh:
			s.aborted.Store(true)
			_ = s.state.Transition(types.RunStateAborted)
		}
		grace.Stop()
		<-workersDone
	}

	s.mu.Lock()
	s.endTime = time.Now()
	s.mu.Unlock()
	_ = s.state.Transition(types.RunStateFinalized)
	log.Debug("run finalized", zap.Bool("aborted", s.aborted.Load()), zap.Duration("elapsed", s.Elapsed()))
	return nil
}

// Stop 立即触发令牌，可重复调用。
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsStopped 返回是否已请求停止。
func (s *Scheduler) IsStopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Done 在运行 finalized 后关闭。
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}

// ActiveWorkers 返回当前活跃的 worker 数。
func (s *Scheduler) ActiveWorkers() int64 {
	return s.active.Load()
}

// State 返回当前运行状态。
func (s *Scheduler) State() types.RunState {
	return s.state.Current()
}

// Aborted 返回运行是否被提前终止。
func (s *Scheduler) Aborted() bool {
	return s.aborted.Load()
}

// Elapsed 返回实际运行时长，运行中返回到现在为止的时长。
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() {
		return 0
	}
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

func (s *Scheduler) setActive(n int64) {
	if s.cfg.OnActiveChange != nil {
		s.cfg.OnActiveChange(n)
	}
}
