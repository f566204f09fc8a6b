// Package catalog holds the named load-test configurations and the weighted
// selection used by workers to pick scenarios and endpoints.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/loadgen/pkg/types"
)

// ErrUnknownTest is returned when a named configuration does not exist.
var ErrUnknownTest = errors.New("unknown test configuration")

// Catalog is a concurrency-safe set of named test configurations.
type Catalog struct {
	mu      sync.RWMutex
	configs map[string]*types.TestConfiguration
	suite   []string
}

// File is the on-disk catalog format.
type File struct {
	StandardSuite []string                   `yaml:"standard_suite"`
	Tests         []*types.TestConfiguration `yaml:"tests"`
}

// New returns a catalog preloaded with the built-in configurations.
func New() *Catalog {
	c := &Catalog{configs: make(map[string]*types.TestConfiguration)}
	for _, cfg := range builtins() {
		c.configs[cfg.Name] = cfg
		c.suite = append(c.suite, cfg.Name)
	}
	return c
}

// NewEmpty returns a catalog without built-ins.
func NewEmpty() *Catalog {
	return &Catalog{configs: make(map[string]*types.TestConfiguration)}
}

// Register adds or replaces a configuration after validating it.
func (c *Catalog) Register(cfg *types.TestConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.Name] = cfg.Clone()
	return nil
}

// Get returns a deep copy of the named configuration.
func (c *Catalog) Get(name string) (*types.TestConfiguration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTest, name)
	}
	return cfg.Clone(), nil
}

// Names returns the configuration names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.configs))
	for name := range c.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StandardSuite returns copies of the suite configurations in suite order.
func (c *Catalog) StandardSuite() ([]*types.TestConfiguration, error) {
	c.mu.RLock()
	names := append([]string(nil), c.suite...)
	c.mu.RUnlock()

	out := make([]*types.TestConfiguration, 0, len(names))
	for _, name := range names {
		cfg, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Merge registers every test of f and, when present, replaces the suite.
func (c *Catalog) Merge(f *File) error {
	for _, cfg := range f.Tests {
		if err := c.Register(cfg); err != nil {
			return fmt.Errorf("catalog test %q: %w", cfg.Name, err)
		}
	}
	if len(f.StandardSuite) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range f.StandardSuite {
		if _, ok := c.configs[name]; !ok {
			return fmt.Errorf("standard suite: %w: %s", ErrUnknownTest, name)
		}
	}
	c.suite = append([]string(nil), f.StandardSuite...)
	return nil
}

// LoadFile parses a YAML catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML catalog content.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &f, nil
}

func ms(d time.Duration) types.Duration { return types.Duration(d) }

// builtins are the standard three tests run against the travel planner.
func builtins() []*types.TestConfiguration {
	return []*types.TestConfiguration{
		{
			Name:         "Homepage Load Test",
			Description:  "Anonymous browsing of the public pages",
			Duration:     ms(60 * time.Second),
			Concurrency:  10,
			RampUpTime:   ms(10 * time.Second),
			RampDownTime: ms(5 * time.Second),
			Endpoints: []types.Endpoint{
				{Path: "/", Method: "GET", Weight: 5, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
				{Path: "/pricing", Method: "GET", Weight: 2, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
				{Path: "/destinations", Method: "GET", Weight: 3, ExpectedStatus: []int{200}, MaxResponseTime: ms(3 * time.Second)},
			},
		},
		{
			Name:         "API Stress Test",
			Description:  "Read-heavy API traffic at higher concurrency",
			Duration:     ms(120 * time.Second),
			Concurrency:  50,
			RampUpTime:   ms(30 * time.Second),
			RampDownTime: ms(10 * time.Second),
			Endpoints: []types.Endpoint{
				{Path: "/api/health", Method: "GET", Weight: 1, ExpectedStatus: []int{200}, MaxResponseTime: ms(500 * time.Millisecond)},
				{Path: "/api/destinations", Method: "GET", Weight: 4, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
				{Path: "/api/currency/rates", Method: "GET", Weight: 2, ExpectedStatus: []int{200}, MaxResponseTime: ms(1 * time.Second)},
				{
					Path:            "/api/itinerary/preview",
					Method:          "POST",
					Weight:          1,
					Headers:         map[string]string{"Content-Type": "application/json"},
					Body:            map[string]any{"destination": "Lisbon", "days": 3},
					ExpectedStatus:  []int{200, 201},
					MaxResponseTime: ms(10 * time.Second),
				},
			},
		},
		{
			Name:         "User Journey Test",
			Description:  "Multi-step planning journeys",
			Duration:     ms(180 * time.Second),
			Concurrency:  20,
			RampUpTime:   ms(20 * time.Second),
			RampDownTime: ms(10 * time.Second),
			Endpoints: []types.Endpoint{
				{Name: "home", Path: "/", Method: "GET", Weight: 1, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
				{Name: "search", Path: "/api/destinations?q=porto", Method: "GET", Weight: 1, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
				{Name: "detail", Path: "/api/destinations/porto", Method: "GET", Weight: 1, ExpectedStatus: []int{200, 404}, MaxResponseTime: ms(2 * time.Second)},
				{Name: "pricing", Path: "/pricing", Method: "GET", Weight: 1, ExpectedStatus: []int{200}, MaxResponseTime: ms(2 * time.Second)},
			},
			Scenarios: []types.Scenario{
				{
					Name:   "browse and plan",
					Weight: 3,
					Steps: []types.Step{
						{Endpoint: "home", Delay: ms(2 * time.Second)},
						{Endpoint: "search", Delay: ms(3 * time.Second)},
						{Endpoint: "detail", Delay: ms(5 * time.Second)},
					},
				},
				{
					Name:   "compare plans",
					Weight: 1,
					Steps: []types.Step{
						{Endpoint: "home", Delay: ms(1 * time.Second)},
						{Endpoint: "pricing", Delay: ms(4 * time.Second)},
					},
				},
			},
		},
	}
}
