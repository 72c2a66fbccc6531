package ratelimit

import (
	"sync"
	"time"
)

// Limiter 基于固定时间窗口对每个客户端进行限流：
// 窗口起点之后的请求计数超过上限即拒绝，窗口过期后计数重置。
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	clients map[string]*windowState

	nowFunc func() time.Time // for testing
}

type windowState struct {
	start time.Time
	count int
}

// Option 配置 Limiter 的可选参数。
type Option func(*Limiter)

// WithNowFunc 替换时间源，便于测试。
func WithNowFunc(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// New 创建一个限流器。max 为窗口内允许的最大请求数，window 为窗口长度。
func New(max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		max:     max,
		window:  window,
		clients: make(map[string]*windowState),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 记录 client 的一次请求并返回是否放行。
// 同一窗口内第 max+1 次请求开始拒绝。
func (l *Limiter) Allow(client string) bool {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.clients[client]
	if !ok || now.Sub(state.start) > l.window {
		state = &windowState{start: now}
		l.clients[client] = state
	}

	state.count++
	return state.count <= l.max
}

// Remaining 返回 client 在当前窗口内剩余的可用额度。
func (l *Limiter) Remaining(client string) int {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.clients[client]
	if !ok || now.Sub(state.start) > l.window {
		return l.max
	}
	remaining := l.max - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Evict 清除窗口已经过期的客户端条目，避免长时间运行后 map 无界增长。
func (l *Limiter) Evict() int {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for client, state := range l.clients {
		if now.Sub(state.start) > l.window {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}
