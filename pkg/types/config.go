package types

import (
	"net/http"
	"strings"
	"time"
)

// 配置默认值
const (
	DefaultMaxResponseTime = 5 * time.Second
	DefaultThinkTimeMin    = 1 * time.Second
	DefaultThinkTimeMax    = 4 * time.Second
)

// TestConfiguration 定义一次压测。运行开始后不可变（引擎会在启动时做深拷贝）。
type TestConfiguration struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL      string   `json:"baseUrl,omitempty" yaml:"base_url,omitempty"`
	Duration     Duration `json:"duration" yaml:"duration"`
	Concurrency  int      `json:"concurrency" yaml:"concurrency"`
	RampUpTime   Duration `json:"rampUpTime" yaml:"ramp_up_time"`
	RampDownTime Duration `json:"rampDownTime" yaml:"ramp_down_time"`

	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`
	Scenarios []Scenario `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// ThinkTime 是单个端点请求之后的随机停顿区间。
	ThinkTime *ThinkTime `json:"thinkTime,omitempty" yaml:"think_time,omitempty"`

	// MaxRequestsPerSecond 限制整个运行的请求速率，0 表示不限制。
	MaxRequestsPerSecond float64 `json:"maxRequestsPerSecond,omitempty" yaml:"max_requests_per_second,omitempty"`
}

// ThinkTime 是均匀分布的停顿区间 [Min, Max]。
type ThinkTime struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// Endpoint 定义一个目标调用。
type Endpoint struct {
	// Name 供场景步骤引用，为空时使用 Path。
	Name            string            `json:"name,omitempty" yaml:"name,omitempty"`
	Path            string            `json:"path" yaml:"path"`
	Method          string            `json:"method,omitempty" yaml:"method,omitempty"`
	Weight          float64           `json:"weight" yaml:"weight"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body            any               `json:"body,omitempty" yaml:"body,omitempty"`
	ExpectedStatus  []int             `json:"expectedStatus,omitempty" yaml:"expected_status,omitempty"`
	MaxResponseTime Duration          `json:"maxResponseTime,omitempty" yaml:"max_response_time,omitempty"`
}

// Scenario 是按顺序执行的一组步骤，模拟一次用户旅程。
type Scenario struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
	Steps  []Step  `json:"steps" yaml:"steps"`
}

// Step 引用一个端点，并可在请求后停顿 Delay。
type Step struct {
	Endpoint string   `json:"endpoint" yaml:"endpoint"`
	Delay    Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Extract 把 JSON 响应中的值（JSONPath）保存为旅程变量，后续步骤用 ${name} 引用。
	Extract map[string]string `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// GetWeight 实现加权选择。
func (e Endpoint) GetWeight() float64 { return e.Weight }

// GetWeight 实现加权选择。
func (s Scenario) GetWeight() float64 { return s.Weight }

// Key 返回端点在统计和错误表中使用的标识。
func (e *Endpoint) Key() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Path
}

// MethodOrDefault 返回大写的 HTTP 方法，默认 GET。
func (e *Endpoint) MethodOrDefault() string {
	if e.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(e.Method)
}

// Expected 返回期望状态码集合，默认 [200]。
func (e *Endpoint) Expected() []int {
	if len(e.ExpectedStatus) == 0 {
		return []int{http.StatusOK}
	}
	return e.ExpectedStatus
}

// ResponseLimit 返回响应时间上限，默认 DefaultMaxResponseTime。
func (e *Endpoint) ResponseLimit() time.Duration {
	if e.MaxResponseTime <= 0 {
		return DefaultMaxResponseTime
	}
	return e.MaxResponseTime.Std()
}

// FindEndpoint 按 Name 或 Path 查找端点。
func (c *TestConfiguration) FindEndpoint(ref string) (*Endpoint, bool) {
	for i := range c.Endpoints {
		if c.Endpoints[i].Name == ref {
			return &c.Endpoints[i], true
		}
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Path == ref {
			return &c.Endpoints[i], true
		}
	}
	return nil, false
}

// ThinkTimeRange 返回端点请求后的停顿区间。
func (c *TestConfiguration) ThinkTimeRange() (time.Duration, time.Duration) {
	if c.ThinkTime == nil {
		return DefaultThinkTimeMin, DefaultThinkTimeMax
	}
	lo, hi := c.ThinkTime.Min.Std(), c.ThinkTime.Max.Std()
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Validate 检查必填字段：name、duration、concurrency、endpoints。
func (c *TestConfiguration) Validate() error {
	if c == nil {
		return &ValidationError{Field: "config"}
	}
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name"}
	}
	if c.Duration <= 0 {
		return &ValidationError{Field: "duration"}
	}
	if c.Concurrency <= 0 {
		return &ValidationError{Field: "concurrency"}
	}
	if len(c.Endpoints) == 0 {
		return &ValidationError{Field: "endpoints"}
	}
	for i, ep := range c.Endpoints {
		if ep.Path == "" {
			return &ValidationError{Field: "endpoints", Reason: "endpoint " + itoa(i) + " has no path"}
		}
	}
	for _, sc := range c.Scenarios {
		if len(sc.Steps) == 0 {
			return &ValidationError{Field: "scenarios", Reason: "scenario " + sc.Name + " has no steps"}
		}
		for _, step := range sc.Steps {
			if _, ok := c.FindEndpoint(step.Endpoint); !ok {
				return &ValidationError{Field: "scenarios", Reason: "scenario " + sc.Name + " references unknown endpoint " + step.Endpoint}
			}
		}
	}
	return nil
}
