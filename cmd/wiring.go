package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yqhp/loadgen/internal/catalog"
	"yqhp/loadgen/internal/config"
	"yqhp/loadgen/internal/controller"
	"yqhp/loadgen/internal/engine"
	"yqhp/loadgen/internal/executor"
	"yqhp/loadgen/internal/metrics"
	"yqhp/loadgen/pkg/logger"
)

// newCatalog 返回内置目录，path 非空时合并目录文件。
func newCatalog(path string) (*catalog.Catalog, error) {
	cat := catalog.New()
	if path == "" {
		return cat, nil
	}
	f, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cat.Merge(f); err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", zap.String("path", path), zap.Strings("tests", cat.Names()))
	return cat, nil
}

func newEngine(cfg *config.Config, col *metrics.Collector) *engine.Engine {
	return engine.New(engine.Options{
		DefaultBaseURL: cfg.Engine.BaseURL,
		Executor: executor.Options{
			SafetyMargin:    cfg.Engine.SafetyMargin,
			MaxConnsPerHost: cfg.Engine.MaxConnsPerHost,
			UserAgent:       cfg.Engine.UserAgent,
		},
		MonitorInterval: cfg.Engine.MonitorInterval,
		Collector:       col,
	})
}

// newHistory 按配置创建结果历史，redis 后端会先 PING 一次。
// 返回的 close 函数释放连接。
func newHistory(ctx context.Context, cfg config.HistoryConfig) (controller.HistoryStore, func() error, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		return controller.NewRedisHistory(client, cfg.RedisKey, cfg.Size), client.Close, nil
	default:
		return controller.NewMemoryHistory(cfg.Size), func() error { return nil }, nil
	}
}
