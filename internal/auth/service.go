package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"SwarmGate/internal/cache"
	"SwarmGate/internal/errors"
)

// KeyStore 抽象 API Key 到账户的映射存储。
type KeyStore interface {
	// Lookup 返回密钥对应的账户 ID，密钥不存在时返回 UNAUTHORIZED。
	Lookup(ctx context.Context, apiKey string) (string, error)
	Close() error
}

// Service 负责校验请求携带的 API Key。
// 校验结果缓存一小段时间，避免每个请求都打到存储层；
// 缓存键使用密钥的哈希，明文密钥不落入缓存。
type Service struct {
	store KeyStore
	cache *cache.Cache
}

// NewService 创建鉴权服务。cacheTTL 为校验结果的缓存时长。
func NewService(store KeyStore, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		store: store,
		cache: cache.New(cacheTTL, 4096),
	}
}

// Verify 校验 API Key，返回账户 ID。
func (s *Service) Verify(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", errors.New(errors.CodeUnauthorized, "缺少 API Key")
	}

	cacheKey := hashKey(apiKey)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if accountID, ok := cached.(string); ok {
			return accountID, nil
		}
	}

	accountID, err := s.store.Lookup(ctx, apiKey)
	if err != nil {
		return "", err
	}

	s.cache.Set(cacheKey, accountID)
	return accountID, nil
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
