package auth

import (
	"context"
	"sync"

	"SwarmGate/internal/errors"
)

// MemoryKeyStore 是 KeyStore 的内存实现，适合单机部署与测试。
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

var _ KeyStore = (*MemoryKeyStore)(nil)

// NewMemoryKeyStore 创建内存密钥存储。
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]string)}
}

// Seed 预置一条密钥到账户的映射。
func (s *MemoryKeyStore) Seed(apiKey, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = accountID
}

// Lookup 返回密钥对应的账户 ID。
func (s *MemoryKeyStore) Lookup(_ context.Context, apiKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.keys[apiKey]
	if !ok {
		return "", errors.New(errors.CodeUnauthorized, "无效的 API Key")
	}
	return accountID, nil
}

// Close 实现 KeyStore 接口，内存实现无需清理。
func (s *MemoryKeyStore) Close() error { return nil }
