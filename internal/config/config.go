package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述了 SwarmGate 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Billing    BillingConfig    `json:"billing" yaml:"billing"`
	Runner     RunnerConfig     `json:"runner" yaml:"runner"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	RequestLog RequestLogConfig `json:"request_log" yaml:"request_log"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// RateLimitConfig 控制按客户端地址的滑动窗口限流参数。
type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests" yaml:"max_requests"`
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"`
}

// CacheConfig 控制结果缓存的过期与容量。
type CacheConfig struct {
	TTLSeconds        int `json:"ttl_seconds" yaml:"ttl_seconds"`
	AgentTTLSeconds   int `json:"agent_ttl_seconds" yaml:"agent_ttl_seconds"`
	MaxEntries        int `json:"max_entries" yaml:"max_entries"`
	SweepEverySeconds int `json:"sweep_every_seconds" yaml:"sweep_every_seconds"`
}

// BillingConfig 描述账户余额存储后端。
type BillingConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory | mysql | bolt
	DSN    string `json:"dsn" yaml:"dsn"`
	Path   string `json:"path" yaml:"path"` // bolt 数据库文件
}

// RunnerConfig 用于配置实际执行智能体的后端。
type RunnerConfig struct {
	Provider  string `json:"provider" yaml:"provider"` // anthropic
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

// AuthConfig 描述 API Key 的校验来源。
type AuthConfig struct {
	Driver          string    `json:"driver" yaml:"driver"` // memory | mysql
	DSN             string    `json:"dsn" yaml:"dsn"`
	CacheTTLSeconds int       `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	Seeds           []KeySeed `json:"seeds" yaml:"seeds"`
}

// KeySeed 预置一条 API Key 与账户的映射，主要用于本地部署。
type KeySeed struct {
	Key       string `json:"key" yaml:"key"`
	AccountID string `json:"account_id" yaml:"account_id"`
}

// RequestLogConfig 描述请求日志的存储后端。
type RequestLogConfig struct {
	Driver     string      `json:"driver" yaml:"driver"` // memory | redis
	MaxEntries int         `json:"max_entries" yaml:"max_entries"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig 统一描述 Redis 的连接信息。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// AlertingConfig 描述告警派发配置。
type AlertingConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // log | amqp
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

// LoggingConfig 描述主日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled" yaml:"enabled"`
		Path       string `json:"path" yaml:"path"`
		MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `json:"max_backups" yaml:"max_backups"`
		MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	} `json:"audit" yaml:"audit"`
}

// MetricsConfig 控制独立的 /metrics 服务。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// Load 解析指定路径的配置文件，按扩展名区分 JSON 与 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.AgentTTLSeconds <= 0 {
		c.Cache.AgentTTLSeconds = 300
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.SweepEverySeconds <= 0 {
		c.Cache.SweepEverySeconds = 300
	}

	if c.Billing.Driver == "" {
		c.Billing.Driver = "memory"
	}
	if c.Billing.Driver == "bolt" && c.Billing.Path == "" {
		c.Billing.Path = filepath.Join(baseDir, "data", "ledger.db")
	}

	if c.Runner.Provider == "" {
		c.Runner.Provider = "anthropic"
	}
	if c.Runner.APIKeyEnv == "" {
		c.Runner.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.Runner.MaxTokens <= 0 {
		c.Runner.MaxTokens = 8192
	}

	if c.Auth.Driver == "" {
		c.Auth.Driver = "memory"
	}
	if c.Auth.CacheTTLSeconds <= 0 {
		c.Auth.CacheTTLSeconds = 300
	}

	if c.RequestLog.Driver == "" {
		c.RequestLog.Driver = "memory"
	}
	if c.RequestLog.MaxEntries <= 0 {
		c.RequestLog.MaxEntries = 1000
	}
	if c.RequestLog.Redis.KeyPrefix == "" {
		c.RequestLog.Redis.KeyPrefix = "swarmgate:logs"
	}

	if c.Alerting.Driver == "" {
		c.Alerting.Driver = "log"
	}
	if c.Alerting.Exchange == "" {
		c.Alerting.Exchange = "swarmgate.alerts"
	}
}
