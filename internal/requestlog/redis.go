package requestlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述请求日志所用 Redis 的连接参数。
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
}

// RedisSink 用每个账户一个 Redis list 保存请求日志，
// 写入后用 LTRIM 截断，天然限制单账户的记录数量。
type RedisSink struct {
	client     *redis.Client
	prefix     string
	maxEntries int64
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink 连接 Redis 并创建日志存储。
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "swarmgate:logs"
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisSink{
		client:     client,
		prefix:     prefix,
		maxEntries: int64(maxEntries),
	}, nil
}

func (s *RedisSink) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Append 把记录推入账户对应的 list 并截断到上限。
func (s *RedisSink) Append(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化请求记录失败: %w", err)
	}

	key := s.key(entry.AccountID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, s.maxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入请求记录失败: %w", err)
	}
	return nil
}

// List 返回账户最近的记录，新的在前。
func (s *RedisSink) List(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 || int64(limit) > s.maxEntries {
		limit = int(s.maxEntries)
	}

	raws, err := s.client.LRange(ctx, s.key(accountID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取请求记录失败: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue // 跳过损坏的记录
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	return s.client.Close()
}
