package billing

import (
	"context"
	"sync"

	"SwarmGate/internal/errors"
)

// MemoryStore 是 AccountStore 的内存实现，适合单机部署与测试。
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	transactions map[string][]*Transaction
}

var _ AccountStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存账户存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*Account),
		transactions: make(map[string][]*Transaction),
	}
}

// Put 写入或覆盖一个账户，主要用于初始化与测试。
func (s *MemoryStore) Put(account *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *account
	s.accounts[account.ID] = &cloned
}

// LoadAccount 返回账户副本，避免调用方绕过锁直接修改内部状态。
func (s *MemoryStore) LoadAccount(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, errors.New(errors.CodeAccountNotFound, "账户不存在",
			errors.WithMetadata("account_id", id))
	}
	cloned := *account
	return &cloned, nil
}

// SaveAccount 持久化账户余额。
func (s *MemoryStore) SaveAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *account
	s.accounts[account.ID] = &cloned
	return nil
}

// AppendTransaction 追加一条流水。
func (s *MemoryStore) AppendTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *tx
	s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], &cloned)
	return nil
}

// Transactions 返回账户的全部流水副本。
func (s *MemoryStore) Transactions(accountID string) []*Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.transactions[accountID]
	out := make([]*Transaction, 0, len(list))
	for _, tx := range list {
		cloned := *tx
		out = append(out, &cloned)
	}
	return out
}

// Close 实现 AccountStore 接口，内存实现无需清理。
func (s *MemoryStore) Close() error { return nil }
