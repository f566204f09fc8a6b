package execution

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"yqhp/loadgen/internal/executor"
	"yqhp/loadgen/pkg/types"
)

type fakeExecutor struct {
	mu       sync.Mutex
	requests []executor.Request
	bodies   map[string]string
	panicOn  string
}

func (f *fakeExecutor) Execute(ctx context.Context, r executor.Request) (*executor.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.panicOn != "" && r.Endpoint.Key() == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	f.requests = append(f.requests, executor.Request{
		Endpoint:  r.Endpoint,
		Vars:      cloneVars(r.Vars),
		RequestID: r.RequestID,
	})
	body := f.bodies[r.Endpoint.Key()]
	f.mu.Unlock()

	status := 200
	return &executor.Outcome{
		Result: types.RequestResult{
			Endpoint:   r.Endpoint.Key(),
			Method:     r.Endpoint.MethodOrDefault(),
			Success:    true,
			StatusCode: &status,
			Duration:   types.Duration(time.Millisecond),
			Timestamp:  time.Now(),
		},
		Body: []byte(body),
	}, nil
}

func (f *fakeExecutor) snapshot() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.requests...)
}

func cloneVars(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type countingSink struct {
	mu      sync.Mutex
	results []types.RequestResult
}

func (s *countingSink) Record(res types.RequestResult, _ []types.TestError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func quickConfig() *types.TestConfiguration {
	return &types.TestConfiguration{
		Name:        "worker",
		Duration:    types.Duration(time.Second),
		Concurrency: 1,
		Endpoints: []types.Endpoint{
			{Name: "a", Path: "/a", Weight: 1},
			{Name: "b", Path: "/b", Weight: 0},
		},
		ThinkTime: &types.ThinkTime{Min: types.Duration(time.Millisecond), Max: types.Duration(2 * time.Millisecond)},
	}
}

func runFor(t *testing.T, w *Worker, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d + 2*time.Second):
		t.Fatal("worker did not stop after token was raised")
	}
}

func TestWorker_WeightedEndpoints(t *testing.T) {
	exec := &fakeExecutor{}
	sink := &countingSink{}
	w := NewWorker(WorkerOptions{ID: 3, RunID: "run", Config: quickConfig(), Exec: exec, Sink: sink})

	runFor(t, w, 100*time.Millisecond)

	reqs := exec.snapshot()
	require.NotEmpty(t, reqs)
	assert.Equal(t, len(reqs), sink.count())
	for i, r := range reqs {
		// 权重为 0 的端点不会被选中
		assert.Equal(t, "/a", r.Endpoint.Path)
		assert.True(t, strings.HasPrefix(r.RequestID, "run-3-"), r.RequestID)
		if i == 0 {
			assert.Equal(t, "run-3-1", r.RequestID)
		}
	}
}

func TestWorker_ScenarioStepsInOrderWithVars(t *testing.T) {
	cfg := quickConfig()
	cfg.Endpoints = []types.Endpoint{
		{Name: "login", Path: "/login", Method: "POST", Weight: 1},
		{Name: "profile", Path: "/users/${userId}", Weight: 1},
	}
	cfg.Scenarios = []types.Scenario{{
		Name:   "journey",
		Weight: 1,
		Steps: []types.Step{
			{Endpoint: "login", Extract: map[string]string{"userId": "$.user.id"}},
			{Endpoint: "profile", Delay: types.Duration(time.Millisecond)},
		},
	}}
	exec := &fakeExecutor{bodies: map[string]string{"login": `{"user":{"id":42}}`}}
	w := NewWorker(WorkerOptions{RunID: "run", Config: cfg, Exec: exec, Sink: &countingSink{}})

	runFor(t, w, 100*time.Millisecond)

	reqs := exec.snapshot()
	require.GreaterOrEqual(t, len(reqs), 2)
	assert.Equal(t, "login", reqs[0].Endpoint.Name)
	assert.Empty(t, reqs[0].Vars)
	assert.Equal(t, "profile", reqs[1].Endpoint.Name)
	assert.Equal(t, "42", reqs[1].Vars["userId"])
	for i := 1; i < len(reqs); i += 2 {
		assert.Equal(t, "profile", reqs[i].Endpoint.Name)
	}
}

func TestWorker_StopsDuringThinkTime(t *testing.T) {
	cfg := quickConfig()
	cfg.ThinkTime = &types.ThinkTime{Min: types.Duration(time.Hour), Max: types.Duration(time.Hour)}
	exec := &fakeExecutor{}
	w := NewWorker(WorkerOptions{Config: cfg, Exec: exec, Sink: &countingSink{}})

	start := time.Now()
	runFor(t, w, 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, exec.snapshot(), 1)
}

func TestWorker_RecoversFromPanic(t *testing.T) {
	cfg := quickConfig()
	cfg.Endpoints = []types.Endpoint{
		{Name: "bad", Path: "/bad", Weight: 1},
		{Name: "good", Path: "/good", Weight: 3},
	}
	exec := &fakeExecutor{panicOn: "bad"}
	sink := &countingSink{}
	w := NewWorker(WorkerOptions{Config: cfg, Exec: exec, Sink: sink, Rand: rand.New(rand.NewPCG(1, 2))})

	runFor(t, w, time.Second)
	assert.Positive(t, sink.count())
}

func TestWorker_RateLimited(t *testing.T) {
	cfg := quickConfig()
	cfg.ThinkTime = &types.ThinkTime{}
	exec := &fakeExecutor{}
	limiter := rate.NewLimiter(rate.Limit(20), 1)
	w := NewWorker(WorkerOptions{Config: cfg, Exec: exec, Sink: &countingSink{}, Limiter: limiter})

	runFor(t, w, 200*time.Millisecond)
	// 20 rps 下 200ms 最多约 5 个请求
	assert.LessOrEqual(t, len(exec.snapshot()), 6)
}

func TestWorker_ThinkTimeWithinRange(t *testing.T) {
	cfg := quickConfig()
	cfg.ThinkTime = &types.ThinkTime{Min: types.Duration(time.Second), Max: types.Duration(4 * time.Second)}
	w := NewWorker(WorkerOptions{Config: cfg, Exec: &fakeExecutor{}, Sink: &countingSink{}})
	for range 1000 {
		d := w.thinkTime()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

// countingSource 记录随机数抽取次数，用来衡量迭代次数。
type countingSource struct {
	src   rand.Source
	draws atomic.Int64
}

func (c *countingSource) Uint64() uint64 {
	c.draws.Add(1)
	return c.src.Uint64()
}

func TestWorker_ScenarioWithoutRequestsDoesNotSpin(t *testing.T) {
	cfg := quickConfig()
	cfg.ThinkTime = &types.ThinkTime{Min: types.Duration(10 * time.Millisecond), Max: types.Duration(10 * time.Millisecond)}
	// 绕过 Validate：步骤为空的场景
	cfg.Scenarios = []types.Scenario{{Name: "empty", Weight: 1}}
	src := &countingSource{src: rand.NewPCG(1, 2)}
	exec := &fakeExecutor{}
	w := NewWorker(WorkerOptions{Config: cfg, Exec: exec, Sink: &countingSink{}, Rand: rand.New(src)})

	runFor(t, w, 100*time.Millisecond)

	assert.Empty(t, exec.snapshot())
	// 每次迭代至少休眠一次思考时间，100ms 内只有少量迭代
	assert.Less(t, src.draws.Load(), int64(100))
}
