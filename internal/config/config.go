package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"yqhp/loadgen/pkg/logger"
)

// DefaultConfigFile 是未指定 --config 时尝试读取的文件。
const DefaultConfigFile = "loadgen.yaml"

// Config 是压测服务的完整配置。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	History HistoryConfig `yaml:"history"`
	Logging logger.Config `yaml:"logging"`
	Report  ReportConfig  `yaml:"report"`
}

// ServerConfig 是管理接口的 HTTP 配置。
type ServerConfig struct {
	Address      string        `yaml:"address" env:"LG_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"LG_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"LG_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"LG_SERVER_ENABLE_CORS"`

	// APIKey 为空时不做操作员校验。
	APIKey string `yaml:"api_key" env:"LG_SERVER_API_KEY"`
}

// EngineConfig 是运行引擎的配置。
type EngineConfig struct {
	BaseURL         string        `yaml:"base_url" env:"LG_ENGINE_BASE_URL"`
	SafetyMargin    time.Duration `yaml:"safety_margin" env:"LG_ENGINE_SAFETY_MARGIN"`
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"LG_ENGINE_MONITOR_INTERVAL"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host" env:"LG_ENGINE_MAX_CONNS_PER_HOST"`
	UserAgent       string        `yaml:"user_agent" env:"LG_ENGINE_USER_AGENT"`
	RecentResults   int           `yaml:"recent_results" env:"LG_ENGINE_RECENT_RESULTS"`
	CatalogFile     string        `yaml:"catalog_file" env:"LG_ENGINE_CATALOG_FILE"`
}

// HistoryConfig 选择结果历史的存储。
type HistoryConfig struct {
	Backend       string `yaml:"backend" env:"LG_HISTORY_BACKEND"` // memory, redis
	Size          int    `yaml:"size" env:"LG_HISTORY_SIZE"`
	RedisAddr     string `yaml:"redis_addr" env:"LG_HISTORY_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"LG_HISTORY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"LG_HISTORY_REDIS_DB"`
	RedisKey      string `yaml:"redis_key" env:"LG_HISTORY_REDIS_KEY"`
}

// ReportConfig 是报告输出配置。
type ReportConfig struct {
	OutputDir string `yaml:"output_dir" env:"LG_REPORT_OUTPUT_DIR"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Engine: EngineConfig{
			BaseURL:         "http://localhost:3000",
			SafetyMargin:    5 * time.Second,
			MonitorInterval: 5 * time.Second,
			MaxConnsPerHost: 1000,
			RecentResults:   5,
		},
		History: HistoryConfig{
			Backend:  "memory",
			Size:     50,
			RedisKey: "loadgen:history",
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Report: ReportConfig{
			OutputDir: "load-test-results",
		},
	}
}

// Loader 从多个来源加载配置。
type Loader struct {
	configPath string
	// optional 为 true 时配置文件不存在不算错误
	optional bool
	envFiles []string
	cmdArgs    map[string]string
}

// NewLoader 创建 Loader，默认尝试加载当前目录的 .env。
func NewLoader() *Loader {
	return &Loader{
		envFiles: []string{".env"},
		cmdArgs:  make(map[string]string),
	}
}

// WithConfigPath 设置 YAML 配置文件路径，文件必须存在。
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	l.optional = false
	return l
}

// WithDefaultConfigPath 设置默认配置文件路径，文件不存在时使用默认值。
func (l *Loader) WithDefaultConfigPath(path string) *Loader {
	l.configPath = path
	l.optional = true
	return l
}

// WithEnvFiles 设置 .env 文件，已存在的环境变量不会被覆盖。
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// WithCmdArgs 设置命令行覆盖，key 为点分路径，如 server.address。
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load 按优先级加载：默认值 < YAML 文件 < 环境变量（含 .env）< 命令行参数。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}
	if err := applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if l.optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

func (l *Loader) loadEnvFiles() error {
	var existing []string
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnvToStruct 递归地把 env 标签对应的环境变量写入字段。
func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue 按点分路径设置值，路径段匹配 yaml 标签或字段名。
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := lookupField(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func lookupField(v reflect.Value, part string) (reflect.Value, bool) {
	t := v.Type()
	plain := strings.ReplaceAll(part, "_", "")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == part || strings.EqualFold(f.Name, part) || strings.EqualFold(f.Name, plain) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的整数: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// Serialize 把配置序列化为 YAML。
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadFromFile 从文件加载配置（同样应用环境变量覆盖）。
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
