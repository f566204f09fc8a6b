package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/loadgen/api/rest"
	"yqhp/loadgen/internal/controller"
	"yqhp/loadgen/internal/metrics"
	"yqhp/loadgen/pkg/logger"
)

var (
	// serve 命令的 flags
	serveAddress         string
	serveBaseURL         string
	serveCatalog         string
	serveShutdownTimeout time.Duration
)

// serveCmd 是 serve 子命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动压测管理服务",
	Long: `启动 HTTP 管理服务，通过 /api/load-test 启动、停止和查询压测。

  GET  /api/load-test?action=status|results
  POST /api/load-test {"action": "...", "config": {...}}
  GET  /metrics   Prometheus 指标
  GET  /health    健康检查（无需认证）`,
	Example: `  # 使用默认配置启动
  loadgen serve

  # 指定监听地址和目标系统
  loadgen serve --address :9090 --base-url http://staging:3000

  # 使用配置文件
  loadgen serve --config config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddress, "address", "", "HTTP 服务地址 (覆盖配置)")
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "", "目标系统地址 (覆盖配置)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "测试目录 YAML 文件 (覆盖配置)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 60*time.Second, "等待运行结束的最长时间")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 应用命令行参数覆盖
	if cmd.Flags().Changed("address") {
		cfg.Server.Address = serveAddress
	}
	if cmd.Flags().Changed("base-url") {
		cfg.Engine.BaseURL = serveBaseURL
	}
	if cmd.Flags().Changed("catalog") {
		cfg.Engine.CatalogFile = serveCatalog
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("注册指标失败: %w", err)
	}

	cat, err := newCatalog(cfg.Engine.CatalogFile)
	if err != nil {
		return err
	}

	history, closeHistory, err := newHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer closeHistory()

	ctrl := controller.New(newEngine(cfg, col), cat, nil, controller.Options{
		RecentResults: cfg.Engine.RecentResults,
		History:       history,
	})

	server := rest.NewServer(ctrl, &rest.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		EnableCORS:      cfg.Server.EnableCORS,
		APIKey:          cfg.Server.APIKey,
		Gatherer:        reg,
		AccessLog:       debug,
		ShutdownTimeout: serveShutdownTimeout,
	})

	if !quiet {
		fmt.Printf(Banner, Version)
		fmt.Println()
		fmt.Printf("  管理地址: %s\n", cfg.Server.Address)
		fmt.Printf("  目标系统: %s\n", cfg.Engine.BaseURL)
		fmt.Printf("  结果历史: %s (%d)\n", cfg.History.Backend, cfg.History.Size)
		fmt.Println()
	}
	logger.Info("admin server starting",
		zap.String("address", cfg.Server.Address),
		zap.String("base_url", cfg.Engine.BaseURL),
		zap.Bool("auth", cfg.Server.APIKey != ""))

	serveErr := server.StartWithContext(ctx)

	// 优雅关闭：停止所有运行并等待结果写入历史
	logger.Info("shutting down, stopping active runs")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer shutdownCancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs did not finalize before timeout", zap.Error(err))
	}

	if serveErr != nil {
		return fmt.Errorf("管理服务异常退出: %w", serveErr)
	}
	if !quiet {
		fmt.Println("管理服务已停止。")
	}
	return nil
}
