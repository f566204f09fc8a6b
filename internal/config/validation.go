package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
)

// ValidationError 是一个配置字段错误。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors 是一组配置错误。
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

var (
	validBackends   = []string{"memory", "redis"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
	validLogOutputs = []string{"stdout", "file", "both"}
)

// Validate 校验配置，返回全部错误。
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Server.Address == "" {
		add("server.address", "address is required")
	} else if !isValidAddress(c.Server.Address) {
		add("server.address", "invalid address format, expected host:port or :port")
	}
	if c.Server.ReadTimeout < 0 {
		add("server.read_timeout", "read timeout must be non-negative")
	}
	if c.Server.WriteTimeout < 0 {
		add("server.write_timeout", "write timeout must be non-negative")
	}

	if c.Engine.BaseURL != "" {
		if u, err := url.Parse(c.Engine.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("engine.base_url", "base url must be an absolute http(s) URL")
		}
	}
	if c.Engine.SafetyMargin < 0 {
		add("engine.safety_margin", "safety margin must be non-negative")
	}
	if c.Engine.MonitorInterval < 0 {
		add("engine.monitor_interval", "monitor interval must be non-negative")
	}
	if c.Engine.MaxConnsPerHost < 0 {
		add("engine.max_conns_per_host", "max conns per host must be non-negative")
	}
	if c.Engine.RecentResults < 0 {
		add("engine.recent_results", "recent results must be non-negative")
	}

	if !slice.Contain(validBackends, c.History.Backend) {
		add("history.backend", fmt.Sprintf("must be one of %v", validBackends))
	}
	if c.History.Size < 0 {
		add("history.size", "size must be non-negative")
	}
	if c.History.Backend == "redis" && c.History.RedisAddr == "" {
		add("history.redis_addr", "redis address is required for the redis backend")
	}

	if !slice.Contain(validLogLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level", fmt.Sprintf("must be one of %v", validLogLevels))
	}
	if !slice.Contain(validLogFormats, c.Logging.Format) {
		add("logging.format", fmt.Sprintf("must be one of %v", validLogFormats))
	}
	if !slice.Contain(validLogOutputs, c.Logging.Output) {
		add("logging.output", fmt.Sprintf("must be one of %v", validLogOutputs))
	}
	if c.Logging.Output != "stdout" && c.Logging.FilePath == "" {
		add("logging.file_path", "file path is required when logging to a file")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isValidAddress(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}
