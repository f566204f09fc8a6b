// Package controller is the administrative orchestration layer: it starts
// runs in the background, stops them by id prefix, and keeps a bounded
// history of finalized results.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/loadgen/internal/catalog"
	"yqhp/loadgen/internal/engine"
	"yqhp/loadgen/internal/report"
	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
	"yqhp/loadgen/pkg/utils"
)

// DefaultRecentResults 是 status 返回的历史条数。
const DefaultRecentResults = 5

const historyTimeout = 5 * time.Second

var (
	// ErrUnknownTest 表示目录中没有该名称的测试。
	ErrUnknownTest = catalog.ErrUnknownTest

	// ErrShuttingDown 表示控制器已关闭，不再接受新运行。
	ErrShuttingDown = errors.New("controller is shutting down")
)

// Options 配置 Controller。
type Options struct {
	RecentResults int

	// History 为 nil 时使用 DefaultHistorySize 的内存历史。
	History HistoryStore

	// Now 用于生成运行 id，测试中可替换。
	Now func() time.Time
}

// StatusView 是 status 的返回值。
type StatusView struct {
	RunningTests  []string            `json:"runningTests"`
	RecentResults []*types.TestResult `json:"recentResults"`
}

// ResultsView 是 results 的返回值。
type ResultsView struct {
	Results []*types.TestResult `json:"results"`
	Report  string              `json:"report"`
}

// Controller 管理运行的生命周期。
type Controller struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
	reg     *Registry
	history HistoryStore
	recent  int
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lastMs int64
	suites map[int]context.CancelFunc
	nextSu int
	closed bool
}

// New 创建 Controller。
func New(eng *engine.Engine, cat *catalog.Catalog, reg *Registry, opts Options) *Controller {
	if reg == nil {
		reg = NewRegistry()
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory(DefaultHistorySize)
	}
	if opts.RecentResults <= 0 {
		opts.RecentResults = DefaultRecentResults
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		engine:  eng,
		catalog: cat,
		reg:     reg,
		history: opts.History,
		recent:  opts.RecentResults,
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
		suites:  make(map[int]context.CancelFunc),
	}
}

// Start 校验配置并在后台启动运行，立即返回运行 id。
// 配置错误同步返回，运行结束后结果写入历史。
func (c *Controller) Start(cfg *types.TestConfiguration) (string, error) {
	run, _, err := c.launch(cfg)
	if err != nil {
		return "", err
	}
	return run.ID(), nil
}

// StartNamed 启动目录中的命名测试。
func (c *Controller) StartNamed(name string) (string, error) {
	cfg, err := c.catalog.Get(name)
	if err != nil {
		return "", err
	}
	return c.Start(cfg)
}

// StartStandardSuite 在后台依次执行标准测试套件，立即返回套件中的测试名。
// 单个测试启动失败只记录日志，继续下一个。
func (c *Controller) StartStandardSuite() ([]string, error) {
	suite, err := c.catalog.StandardSuite()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(suite))
	for i, cfg := range suite {
		names[i] = cfg.Name
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(c.ctx)
	key := c.nextSu
	c.nextSu++
	c.suites[key] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	utils.SafeGo("standard-suite", func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.suites, key)
			c.mu.Unlock()
			cancel()
		}()

		for _, cfg := range suite {
			if ctx.Err() != nil {
				logger.Info("standard suite cancelled")
				return
			}
			run, finished, err := c.launch(cfg)
			if err != nil {
				logger.Error("standard suite test failed to start", zap.String("test", cfg.Name), zap.Error(err))
				continue
			}
			select {
			case <-finished:
			case <-ctx.Done():
				run.Stop()
				return
			}
		}
		logger.Info("standard suite completed", zap.Int("tests", len(suite)))
	})
	return names, nil
}

// launch 在后台执行运行，返回的 channel 在结果写入历史并注销后关闭。
func (c *Controller) launch(cfg *types.TestConfiguration) (*engine.Run, <-chan struct{}, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrShuttingDown
	}
	id := c.nextID(cfg.Name)
	c.wg.Add(1)
	c.mu.Unlock()

	run, err := c.engine.Prepare(id, cfg)
	if err != nil {
		c.wg.Done()
		return nil, nil, err
	}
	if !c.reg.Add(run) {
		c.wg.Done()
		return nil, nil, fmt.Errorf("run %s already registered", id)
	}

	finished := make(chan struct{})
	utils.SafeGo("run:"+id, func() {
		defer c.wg.Done()
		defer close(finished)
		defer c.reg.Remove(id)

		res := run.Execute(c.ctx)

		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := c.history.Append(ctx, res); err != nil {
			logger.Error("store run result failed", zap.String("id", id), zap.Error(err))
		}
	})
	return run, finished, nil
}

// nextID 生成 name_毫秒时间戳，同一毫秒内递增保证唯一。调用方持有 c.mu。
func (c *Controller) nextID(name string) string {
	ms := c.now().UnixMilli()
	if ms <= c.lastMs {
		ms = c.lastMs + 1
	}
	c.lastMs = ms
	return fmt.Sprintf("%s_%d", name, ms)
}

// Stop 停止 id 以 name 开头的所有运行，返回停止的数量。没有匹配时不报错。
func (c *Controller) Stop(name string) int {
	runs := c.reg.Matching(name)
	for _, run := range runs {
		logger.Info("stopping run", zap.String("id", run.ID()))
		run.Stop()
	}
	return len(runs)
}

// StopAll 停止所有运行和正在执行的套件。
func (c *Controller) StopAll() int {
	c.mu.Lock()
	for _, cancel := range c.suites {
		cancel()
	}
	c.mu.Unlock()
	return c.Stop("")
}

// Status 返回活跃运行 id 和最近的历史结果。
func (c *Controller) Status(ctx context.Context) (*StatusView, error) {
	recent, err := c.history.List(ctx, c.recent)
	if err != nil {
		return nil, err
	}
	return &StatusView{RunningTests: c.reg.IDs(), RecentResults: recent}, nil
}

// Results 返回全部历史和生成的文本报告。
func (c *Controller) Results(ctx context.Context) (*ResultsView, error) {
	all, err := c.history.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &ResultsView{Results: all, Report: report.RenderAll(all)}, nil
}

// ActiveCount 返回活跃运行数。
func (c *Controller) ActiveCount() int {
	return c.reg.Len()
}

// Running 返回活跃运行 id。
func (c *Controller) Running() []string {
	return c.reg.IDs()
}

// Wait 阻塞到所有后台运行结束。
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown 停止接受新运行，停止所有运行并等待它们写入历史。
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if n := c.StopAll(); n > 0 {
		logger.Info("waiting for runs to finalize", zap.Int("runs", n))
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}
