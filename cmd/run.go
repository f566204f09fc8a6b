package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/loadgen/internal/engine"
	"yqhp/loadgen/internal/report"
	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
)

var (
	// run 命令的 flags
	runBaseURL     string
	runOutDir      string
	runTests       []string
	runCatalog     string
	runConcurrency int
	runDuration    time.Duration
	runProgress    time.Duration
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "独立模式依次执行测试目录",
	Long: `依次执行测试目录中的命名测试（默认为标准测试套件），
每个测试写出一个 JSON 报告文件，最后写出汇总文件。
单个测试失败只记录日志，继续执行下一个测试。`,
	Example: `  # 对本地服务执行标准测试套件
  loadgen run --base-url http://localhost:3000

  # 只执行指定测试，缩短时长
  loadgen run --test "API Stress Test" -d 20s

  # 使用自定义目录并指定输出目录
  loadgen run --catalog tests.yaml --out ./results`,
	Args: cobra.NoArgs,
	RunE: runSuiteCmd,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "目标系统地址 (覆盖配置)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "", "报告输出目录 (覆盖配置)")
	runCmd.Flags().StringArrayVarP(&runTests, "test", "t", nil, "要执行的测试名 (可多次指定)，默认执行标准套件")
	runCmd.Flags().StringVar(&runCatalog, "catalog", "", "测试目录 YAML 文件 (覆盖配置)")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "u", 0, "并发数 (覆盖测试配置)")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "测试持续时间 (覆盖测试配置)")
	runCmd.Flags().DurationVar(&runProgress, "progress", 5*time.Second, "控制台进度输出间隔")
}

func runSuiteCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 应用命令行参数覆盖
	if cmd.Flags().Changed("base-url") {
		cfg.Engine.BaseURL = runBaseURL
	}
	if cmd.Flags().Changed("out") {
		cfg.Report.OutputDir = runOutDir
	}
	if cmd.Flags().Changed("catalog") {
		cfg.Engine.CatalogFile = runCatalog
	}

	cat, err := newCatalog(cfg.Engine.CatalogFile)
	if err != nil {
		return err
	}

	var configs []*types.TestConfiguration
	if len(runTests) == 0 {
		if configs, err = cat.StandardSuite(); err != nil {
			return err
		}
	} else {
		for _, name := range runTests {
			c, err := cat.Get(name)
			if err != nil {
				return err
			}
			configs = append(configs, c)
		}
	}
	for _, c := range configs {
		if runConcurrency > 0 {
			c.Concurrency = runConcurrency
		}
		if runDuration > 0 {
			c.Duration = types.Duration(runDuration)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !quiet {
		fmt.Printf(Banner, Version)
		fmt.Println()
		fmt.Printf("  目标系统: %s\n", cfg.Engine.BaseURL)
		fmt.Printf("  测试数量: %d\n", len(configs))
		fmt.Printf("  输出目录: %s\n", cfg.Report.OutputDir)
		fmt.Println()
	}

	var out io.Writer = os.Stdout
	if quiet {
		out = io.Discard
	}
	s := &suiteRunner{
		engine:   newEngine(cfg, nil),
		outDir:   cfg.Report.OutputDir,
		out:      out,
		progress: runProgress,
		now:      time.Now,
	}
	results := s.run(ctx, configs)
	if len(results) == 0 {
		return fmt.Errorf("没有测试完成")
	}
	return nil
}

// suiteRunner 依次执行测试并写出报告文件。
type suiteRunner struct {
	engine   *engine.Engine
	outDir   string
	out      io.Writer
	progress time.Duration
	now      func() time.Time
}

// run 返回完成的结果。单个测试失败记录日志后继续，ctx 取消时中止当前测试并跳过剩余测试。
func (s *suiteRunner) run(ctx context.Context, configs []*types.TestConfiguration) []*types.TestResult {
	var results []*types.TestResult
	for i, cfg := range configs {
		if ctx.Err() != nil {
			fmt.Fprintf(s.out, "已中止，跳过剩余 %d 个测试\n", len(configs)-i)
			break
		}

		fmt.Fprintf(s.out, "[%d/%d] %s (%d workers, %s)\n", i+1, len(configs), cfg.Name, cfg.Concurrency, cfg.Duration)
		res, err := s.runOne(ctx, cfg)
		if err != nil {
			logger.Error("load test failed", zap.String("test", cfg.Name), zap.Error(err))
			fmt.Fprintf(s.out, "  失败: %v\n\n", err)
			continue
		}
		results = append(results, res)

		fmt.Fprintln(s.out, report.Generate(res).Render())
		path, err := report.WriteReport(s.outDir, res, s.now())
		if err != nil {
			logger.Error("write report failed", zap.String("test", cfg.Name), zap.Error(err))
			continue
		}
		fmt.Fprintf(s.out, "  报告: %s\n\n", path)
	}

	if len(results) > 0 {
		path, err := report.WriteSummary(s.outDir, results, s.now())
		if err != nil {
			logger.Error("write summary failed", zap.Error(err))
		} else {
			fmt.Fprintf(s.out, "汇总: %s\n", path)
		}
	}
	return results
}

func (s *suiteRunner) runOne(ctx context.Context, cfg *types.TestConfiguration) (*types.TestResult, error) {
	id := fmt.Sprintf("%s_%d", cfg.Name, s.now().UnixMilli())
	run, err := s.engine.Prepare(id, cfg)
	if err != nil {
		return nil, err
	}

	resCh := make(chan *types.TestResult, 1)
	go func() {
		resCh <- run.Execute(ctx)
	}()

	var tick <-chan time.Time
	if s.progress > 0 {
		ticker := time.NewTicker(s.progress)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case res := <-resCh:
			return res, nil
		case <-tick:
			snap := run.Result()
			fmt.Fprintf(s.out, "  %-13s %6s  workers=%-4d requests=%-8d failed=%d\n",
				snap.State, snap.Duration.Std().Truncate(time.Second), run.ActiveWorkers(),
				snap.TotalRequests, snap.FailedRequests)
		}
	}
}
