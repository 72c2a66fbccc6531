package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 是带 TTL 与容量上限的内存缓存。
// 读取时惰性判断过期；写入超出容量时先淘汰过期条目，
// 仍然超限则按创建时间淘汰最旧的条目。
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int

	nowFunc func() time.Time // for testing
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Option 配置 Cache 的可选参数。
type Option func(*Cache)

// WithNowFunc 替换时间源，便于测试。
func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// New 创建缓存。ttl 为条目默认存活时长，maxEntries 为容量上限。
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &Cache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 返回 key 对应的值。条目不存在或已过期时返回 false，
// 过期条目会在此处被顺手删除。到达 TTL 整点即视为过期。
func (c *Cache) Get(key string) (any, bool) {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set 使用默认 TTL 写入条目。
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL 使用指定 TTL 写入条目，必要时先执行淘汰。
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.entries[key] = &entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Len 返回当前条目数（包含尚未被惰性清理的过期条目）。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep 主动删除所有过期条目并返回删除数量。
func (c *Cache) Sweep() int {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper 启动后台清理协程，按 interval 周期调用 Sweep，
// ctx 结束后退出。
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// evictLocked 在容量已满时腾出空间：先删过期条目，不足再删最旧条目。
func (c *Cache) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
