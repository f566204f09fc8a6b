package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *TestConfiguration {
	return &TestConfiguration{
		Name:        "t",
		Duration:    Duration(time.Second),
		Concurrency: 1,
		Endpoints: []Endpoint{
			{Name: "home", Path: "/", Weight: 1, Headers: map[string]string{"X-A": "1"}, ExpectedStatus: []int{200, 204}},
		},
	}
}

func TestDuration_JSON(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":1500,"b":"30s","c":"250","d":null}`), &cfg))
	assert.Equal(t, 1500*time.Millisecond, cfg.A.Std())
	assert.Equal(t, 30*time.Second, cfg.B.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.C.Std())
	assert.Zero(t, cfg.D)

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "2000", string(data))

	var escaped Duration
	require.NoError(t, escaped.UnmarshalJSON([]byte(`"\u0033s"`)))
	assert.Equal(t, 3*time.Second, escaped.Std())

	var bad Duration
	assert.Error(t, bad.UnmarshalJSON([]byte(`"unterminated`)))
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestDuration_YAML(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1m\nb: 750\n"), &cfg))
	assert.Equal(t, time.Minute, cfg.A.Std())
	assert.Equal(t, 750*time.Millisecond, cfg.B.Std())

	out, err := yaml.Marshal(map[string]Duration{"a": Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "a: 1m30s\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("a: [1]\n"), &cfg))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *TestConfiguration){
		"name":        func(c *TestConfiguration) { c.Name = "  " },
		"duration":    func(c *TestConfiguration) { c.Duration = 0 },
		"concurrency": func(c *TestConfiguration) { c.Concurrency = 0 },
		"endpoints":   func(c *TestConfiguration) { c.Endpoints = nil },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
		})
	}

	var nilCfg *TestConfiguration
	assert.ErrorIs(t, nilCfg.Validate(), ErrMissingField)
}

func TestValidate_InvalidValues(t *testing.T) {
	c := validConfig()
	c.Endpoints = append(c.Endpoints, Endpoint{Weight: 1})
	err := c.Validate()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "endpoint 1 has no path")

	c = validConfig()
	c.Scenarios = []Scenario{{Name: "journey", Weight: 1, Steps: []Step{{Endpoint: "nowhere"}}}}
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown endpoint nowhere")

	c.Scenarios[0].Steps[0].Endpoint = "home"
	assert.NoError(t, c.Validate())

	c.Scenarios = append(c.Scenarios, Scenario{Name: "idle", Weight: 1})
	err = c.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "scenarios", verr.Field)
	assert.Contains(t, err.Error(), "scenario idle has no steps")
}

func TestEndpointDefaults(t *testing.T) {
	ep := Endpoint{Path: "/a", Method: "post"}
	assert.Equal(t, "/a", ep.Key())
	assert.Equal(t, "POST", ep.MethodOrDefault())
	assert.Equal(t, []int{200}, ep.Expected())
	assert.Equal(t, DefaultMaxResponseTime, ep.ResponseLimit())

	ep = Endpoint{Name: "named", Path: "/b", MaxResponseTime: Duration(100 * time.Millisecond)}
	assert.Equal(t, "named", ep.Key())
	assert.Equal(t, "GET", ep.MethodOrDefault())
	assert.Equal(t, 100*time.Millisecond, ep.ResponseLimit())
}

func TestFindEndpoint(t *testing.T) {
	c := &TestConfiguration{Endpoints: []Endpoint{
		{Name: "/b", Path: "/a"},
		{Path: "/b"},
	}}
	// Name 优先于 Path
	ep, ok := c.FindEndpoint("/b")
	require.True(t, ok)
	assert.Equal(t, "/a", ep.Path)

	ep, ok = c.FindEndpoint("/a")
	require.True(t, ok)
	assert.Equal(t, "/b", ep.Name)

	_, ok = c.FindEndpoint("/c")
	assert.False(t, ok)
}

func TestThinkTimeRange(t *testing.T) {
	c := &TestConfiguration{}
	lo, hi := c.ThinkTimeRange()
	assert.Equal(t, DefaultThinkTimeMin, lo)
	assert.Equal(t, DefaultThinkTimeMax, hi)

	c.ThinkTime = &ThinkTime{Min: Duration(3 * time.Second), Max: Duration(time.Second)}
	lo, hi = c.ThinkTimeRange()
	assert.Equal(t, time.Second, lo)
	assert.Equal(t, 3*time.Second, hi)
}

func TestConfigurationClone(t *testing.T) {
	orig := validConfig()
	orig.ThinkTime = &ThinkTime{Min: 1, Max: 2}
	cp := orig.Clone()
	require.Equal(t, orig.Name, cp.Name)
	require.Equal(t, orig.Endpoints, cp.Endpoints)

	orig.Endpoints[0].Headers["X-A"] = "changed"
	orig.Endpoints[0].ExpectedStatus[0] = 500
	orig.Endpoints = append(orig.Endpoints, Endpoint{Path: "/new"})
	orig.ThinkTime.Max = 100

	assert.Equal(t, "1", cp.Endpoints[0].Headers["X-A"])
	assert.Equal(t, 200, cp.Endpoints[0].ExpectedStatus[0])
	assert.Len(t, cp.Endpoints, 1)
	assert.Equal(t, Duration(2), cp.ThinkTime.Max)

	var nilCfg *TestConfiguration
	assert.Nil(t, nilCfg.Clone())
}

func TestResultClone(t *testing.T) {
	orig := &TestResult{
		ID:            "r",
		Errors:        []TestError{{Endpoint: "/", Message: "boom"}},
		EndpointStats: map[string]*EndpointStats{"/": {TotalRequests: 1}},
	}
	cp := orig.Clone()
	orig.Errors[0].Message = "changed"
	orig.EndpointStats["/"].TotalRequests = 99

	assert.Equal(t, "boom", cp.Errors[0].Message)
	assert.Equal(t, int64(1), cp.EndpointStats["/"].TotalRequests)
}

func TestSuccessRate(t *testing.T) {
	assert.Zero(t, (&TestResult{}).SuccessRate())
	assert.InDelta(t, 75.0, (&TestResult{TotalRequests: 4, SuccessfulRequests: 3}).SuccessRate(), 1e-9)
	assert.InDelta(t, 50.0, (&EndpointStats{TotalRequests: 2, SuccessCount: 1}).SuccessRate(), 1e-9)
	assert.Equal(t, "/x: Response time exceeded", TestError{Endpoint: "/x", Message: MsgResponseTimeExceeded}.GroupKey())
}

func TestRunStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(RunStateCreated, RunStateRampingUp))
	assert.True(t, CanTransition(RunStateRampingUp, RunStateSteady))
	assert.True(t, CanTransition(RunStateSteady, RunStateRampingDown))
	assert.True(t, CanTransition(RunStateRampingDown, RunStateFinalized))
	assert.True(t, CanTransition(RunStateSteady, RunStateAborted))
	assert.True(t, CanTransition(RunStateAborted, RunStateFinalized))

	assert.False(t, CanTransition(RunStateFinalized, RunStateRampingUp))
	assert.False(t, CanTransition(RunStateCreated, RunStateSteady))
	assert.False(t, CanTransition(RunStateAborted, RunStateSteady))

	assert.True(t, RunStateFinalized.IsTerminal())
	assert.False(t, RunStateAborted.IsTerminal())
}
