// Package cmd 提供 loadgen CLI 的命令实现
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/loadgen/internal/config"
	"yqhp/loadgen/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
   __                 __
  / /  ___  ___ ____/ /__ ____ ___    yqhp loadgen %s
 / /__/ _ \/ _ '/ _  / _ '/ -_) _ \
/____/\___/\_,_/\_,_/\_, /\__/_//_/
                    /___/
`
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	quiet     bool
	overrides []string
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "HTTP 压测流量生成器",
	Long: `loadgen 按配置的并发、爬坡和持续时间向目标系统施加 HTTP 负载，
采集延迟与错误并生成报告。可以作为管理服务运行，也可以独立执行测试目录。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "覆盖配置项，格式: key=value，如 engine.base_url=http://localhost:3000")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 加载、校验配置并初始化日志。
func loadConfig() (*config.Config, error) {
	args, err := parseOverrides(overrides)
	if err != nil {
		return nil, err
	}

	loader := config.NewLoader().WithCmdArgs(args)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	} else {
		loader = loader.WithDefaultConfigPath(config.DefaultConfigFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Init(&cfg.Logging)
	return cfg, nil
}

func parseOverrides(items []string) (map[string]string, error) {
	args := make(map[string]string, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("无效的 --set 参数 %q，格式应为 key=value", item)
		}
		args[strings.TrimSpace(key)] = value
	}
	return args, nil
}
