// Package monitor periodically samples the load generator's own resource
// usage while a run is in progress.
package monitor

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
)

// DefaultInterval 是默认采样间隔。
const DefaultInterval = 5 * time.Second

// Sampler 采集一次资源快照。出错时仍可返回部分字段。
type Sampler interface {
	Sample() (types.ResourceSample, error)
}

// ProcessSampler 使用 gopsutil 读取当前进程的 RSS 和 CPU 时间，
// 并补充 Go 运行时的堆和 goroutine 数。
type ProcessSampler struct {
	proc   *process.Process
	active func() int64
}

// NewProcessSampler 为当前进程创建采样器。active 返回活跃连接数，可以为 nil。
func NewProcessSampler(active func() int64) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc, active: active}, nil
}

// Sample 实现 Sampler。
func (s *ProcessSampler) Sample() (types.ResourceSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := types.ResourceSample{
		Timestamp:  time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}
	if s.active != nil {
		sample.ActiveConnections = s.active()
	}

	var errs []error
	if mem, err := s.proc.MemoryInfo(); err == nil {
		sample.MemoryUsage = mem.RSS
	} else {
		sample.MemoryUsage = ms.Sys
		errs = append(errs, err)
	}
	if times, err := s.proc.Times(); err == nil {
		sample.CPUUsage = times.User + times.System
	} else {
		errs = append(errs, err)
	}
	if pct, err := s.proc.Percent(0); err == nil {
		sample.CPUPercent = pct
	} else {
		errs = append(errs, err)
	}
	return sample, errors.Join(errs...)
}

// Monitor 按固定间隔采样，直到 Stop 被调用。
type Monitor struct {
	sampler  Sampler
	interval time.Duration

	mu      sync.Mutex
	samples []types.ResourceSample

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建 Monitor，interval 不为正时使用 DefaultInterval。
func New(sampler Sampler, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		sampler:  sampler,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start 立即采样一次，然后在后台周期采样。只有第一次调用生效。
func (m *Monitor) Start(ctx context.Context) {
	m.once.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.take()
		go m.loop(ctx)
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.take()
		}
	}
}

func (m *Monitor) take() {
	sample, err := m.sampler.Sample()
	if err != nil {
		logger.Debug("resource sample incomplete", zap.Error(err))
	}
	m.mu.Lock()
	m.samples = append(m.samples, sample)
	m.mu.Unlock()
}

// Stop 停止采样并返回全部样本。未启动时返回 nil。
func (m *Monitor) Stop() []types.ResourceSample {
	m.once.Do(func() {})
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done
	return m.Samples()
}

// Samples 返回目前为止的样本拷贝。
func (m *Monitor) Samples() []types.ResourceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ResourceSample(nil), m.samples...)
}
