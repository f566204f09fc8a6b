package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"yqhp/loadgen/pkg/types"
	"yqhp/loadgen/pkg/utils"
)

// DefaultHistorySize 是保留的历史结果数量。
const DefaultHistorySize = 50

// HistoryStore 保存已结束运行的结果，只保留最近的若干条。
type HistoryStore interface {
	// Append 追加一条结果。
	Append(ctx context.Context, res *types.TestResult) error

	// List 按时间顺序返回最近 limit 条结果，limit <= 0 返回全部。
	List(ctx context.Context, limit int) ([]*types.TestResult, error)
}

// MemoryHistory 是进程内的有界历史。
type MemoryHistory struct {
	mu       sync.RWMutex
	items    []*types.TestResult
	capacity int
}

// NewMemoryHistory 创建内存历史，capacity 不为正时使用 DefaultHistorySize。
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &MemoryHistory{capacity: capacity}
}

// Append 实现 HistoryStore。
func (h *MemoryHistory) Append(_ context.Context, res *types.TestResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, res.Clone())
	if over := len(h.items) - h.capacity; over > 0 {
		h.items = append([]*types.TestResult(nil), h.items[over:]...)
	}
	return nil
}

// List 实现 HistoryStore。
func (h *MemoryHistory) List(_ context.Context, limit int) ([]*types.TestResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	items := h.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]*types.TestResult, len(items))
	for i, r := range items {
		out[i] = r.Clone()
	}
	return out, nil
}

// RedisHistory 把结果以 JSON 保存在 Redis 列表中，最新的在表头。
type RedisHistory struct {
	client   redis.Cmdable
	key      string
	capacity int
}

// NewRedisHistory 创建 Redis 历史。
func NewRedisHistory(client redis.Cmdable, key string, capacity int) *RedisHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if key == "" {
		key = "loadgen:history"
	}
	return &RedisHistory{client: client, key: key, capacity: capacity}
}

// Append 实现 HistoryStore。
func (h *RedisHistory) Append(ctx context.Context, res *types.TestResult) error {
	data, err := utils.ToJSONBytes(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, h.key, data)
		pipe.LTrim(ctx, h.key, 0, int64(h.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List 实现 HistoryStore。
func (h *RedisHistory) List(ctx context.Context, limit int) ([]*types.TestResult, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := h.client.LRange(ctx, h.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]*types.TestResult, 0, len(raw))
	// 表头是最新的，倒序输出为时间顺序
	for i := len(raw) - 1; i >= 0; i-- {
		var res types.TestResult
		if err := utils.Unmarshal([]byte(raw[i]), &res); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, &res)
	}
	return out, nil
}
