package rest

import (
	"encoding/json"

	"yqhp/loadgen/internal/controller"
	"yqhp/loadgen/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Running   int    `json:"running"`
}

// StartResponse 是启动类命令的确认，运行在后台继续。
type StartResponse struct {
	Message string   `json:"message"`
	TestID  string   `json:"testId,omitempty"`
	Tests   []string `json:"tests,omitempty"`
}

// StopResponse 是停止类命令的返回。
type StopResponse struct {
	Message string `json:"message"`
	Stopped int    `json:"stopped"`
}

// StatusResponse is the body of GET ?action=status.
type StatusResponse = controller.StatusView

// ResultsResponse is the body of GET ?action=results.
type ResultsResponse = controller.ResultsView

// commandEnvelope 是 POST 请求体，config 的结构由 action 决定。
type commandEnvelope struct {
	Action string          `json:"action"`
	Config json.RawMessage `json:"config,omitempty"`
}

type namedConfig struct {
	Name string `json:"name"`
}

// Command 是解码后的管理命令。
type Command interface {
	Action() string
}

// RunStandardTests 启动标准测试套件。
type RunStandardTests struct{}

// RunTest 按名称启动目录中的测试。
type RunTest struct {
	Name string
}

// RunCustomTest 启动调用方提交的配置。
type RunCustomTest struct {
	Config *types.TestConfiguration
}

// StopTest 停止 id 以 Name 开头的运行。
type StopTest struct {
	Name string
}

// StopAllTests 停止全部运行。
type StopAllTests struct{}

// 命令名
const (
	ActionRunStandardTests = "run_standard_tests"
	ActionRunTest          = "run_test"
	ActionRunCustomTest    = "run_custom_test"
	ActionStopTest         = "stop_test"
	ActionStopAllTests     = "stop_all_tests"

	ActionStatus  = "status"
	ActionResults = "results"
)

func (RunStandardTests) Action() string { return ActionRunStandardTests }
func (RunTest) Action() string          { return ActionRunTest }
func (RunCustomTest) Action() string    { return ActionRunCustomTest }
func (StopTest) Action() string         { return ActionStopTest }
func (StopAllTests) Action() string     { return ActionStopAllTests }
