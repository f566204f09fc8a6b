package controller

import (
	"sort"
	"strings"
	"sync"

	"yqhp/loadgen/internal/engine"
)

// Registry 记录正在执行的运行，按 id 索引。
type Registry struct {
	mu     sync.RWMutex
	active map[string]*engine.Run
}

// NewRegistry 创建空的 Registry。
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*engine.Run)}
}

// Add 登记一个运行，id 已存在时返回 false。
func (r *Registry) Add(run *engine.Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[run.ID()]; ok {
		return false
	}
	r.active[run.ID()] = run
	return true
}

// Remove 注销一个运行。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// IDs 返回排序后的活跃运行 id。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Matching 返回 id 以 prefix 开头的运行，空前缀匹配全部。
func (r *Registry) Matching(prefix string) []*engine.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*engine.Run
	for id, run := range r.active {
		if strings.HasPrefix(id, prefix) {
			out = append(out, run)
		}
	}
	return out
}

// Len 返回活跃运行数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
