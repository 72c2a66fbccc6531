package requestlog

import (
	"context"
	"sync"
	"time"
)

// Entry 是一条 API 请求记录。
type Entry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink 抽象请求日志的存储，按账户保留最近的若干条记录。
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, accountID string, limit int) ([]Entry, error)
	Close() error
}

// MemorySink 在内存中按账户维护一个环形记录列表。
type MemorySink struct {
	mu         sync.RWMutex
	entries    map[string][]Entry
	maxEntries int
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink 创建内存请求日志。maxEntries 为每个账户保留的上限。
func NewMemorySink(maxEntries int) *MemorySink {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemorySink{
		entries:    make(map[string][]Entry),
		maxEntries: maxEntries,
	}
}

// Append 追加一条记录，超出上限时丢弃最旧的。
func (s *MemorySink) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.entries[entry.AccountID], entry)
	if len(list) > s.maxEntries {
		list = list[len(list)-s.maxEntries:]
	}
	s.entries[entry.AccountID] = list
	return nil
}

// List 返回账户最近的记录，新的在前。
func (s *MemorySink) List(_ context.Context, accountID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[accountID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	out := make([]Entry, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Close 实现 Sink 接口，内存实现无需清理。
func (s *MemorySink) Close() error { return nil }
