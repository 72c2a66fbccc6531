package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"SwarmGate/internal/api"
	"SwarmGate/internal/auth"
	"SwarmGate/internal/billing"
	"SwarmGate/internal/cache"
	"SwarmGate/internal/config"
	"SwarmGate/internal/observability/alerting"
	"SwarmGate/internal/observability/metrics"
	"SwarmGate/internal/ratelimit"
	"SwarmGate/internal/requestlog"
	"SwarmGate/internal/runner"
	"SwarmGate/internal/runner/anthropic"
	"SwarmGate/internal/swarm"
	"SwarmGate/pkg/logger"
)

// main 是 SwarmGate 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swarmgated 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SWARMGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "swarmgate.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	agentRunner, err := createRunner(cfg)
	if err != nil {
		return err
	}

	store, err := createAccountStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.L().Warn("关闭账本存储失败", "error", err)
		}
	}()

	keyStore, err := createKeyStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := keyStore.Close(); err != nil {
			logger.L().Warn("关闭密钥存储失败", "error", err)
		}
	}()

	logSink, err := createRequestLogSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := logSink.Close(); err != nil {
			logger.L().Warn("关闭请求日志失败", "error", err)
		}
	}()

	alerts, err := createAlertDispatcher(cfg)
	if err != nil {
		return err
	}

	resultCache := cache.New(
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		cfg.Cache.MaxEntries,
	)
	resultCache.StartSweeper(ctx, time.Duration(cfg.Cache.SweepEverySeconds)*time.Second)

	calc := billing.NewCalculator(billing.HeuristicCounter{})
	orchestrator := swarm.NewOrchestrator(
		swarm.NewExecutor(agentRunner),
		calc,
		billing.NewLedger(store),
		swarm.WithCache(resultCache, time.Duration(cfg.Cache.AgentTTLSeconds)*time.Second),
		swarm.WithAlerts(alerts),
	)

	limiter := ratelimit.New(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
	)

	authSvc := auth.NewService(keyStore, time.Duration(cfg.Auth.CacheTTLSeconds)*time.Second)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !stderrors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, orchestrator, authSvc, limiter, logSink)
	if err := server.Start(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createRunner(cfg *config.Config) (runner.Runner, error) {
	switch cfg.Runner.Provider {
	case "", "anthropic":
		apiKey := strings.TrimSpace(cfg.Runner.APIKey)
		if apiKey == "" && cfg.Runner.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Runner.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, stderrors.New("Anthropic provider 需要配置 api_key 或 api_key_env")
		}
		return anthropic.New(anthropic.Config{
			APIKey:    apiKey,
			BaseURL:   cfg.Runner.BaseURL,
			Model:     cfg.Runner.Model,
			MaxTokens: cfg.Runner.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("未知的 runner provider: %s", cfg.Runner.Provider)
	}
}

func createAccountStore(cfg *config.Config) (billing.AccountStore, error) {
	switch cfg.Billing.Driver {
	case "", "memory":
		return billing.NewMemoryStore(), nil
	case "mysql":
		return billing.NewMySQLStore(cfg.Billing.DSN)
	case "bolt":
		return billing.NewBoltStore(cfg.Billing.Path)
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Billing.Driver)
	}
}

func createKeyStore(cfg *config.Config) (auth.KeyStore, error) {
	switch cfg.Auth.Driver {
	case "", "memory":
		store := auth.NewMemoryKeyStore()
		for _, seed := range cfg.Auth.Seeds {
			store.Seed(seed.Key, seed.AccountID)
		}
		return store, nil
	case "mysql":
		return auth.NewMySQLKeyStore(cfg.Auth.DSN)
	default:
		return nil, fmt.Errorf("未知的鉴权驱动: %s", cfg.Auth.Driver)
	}
}

func createRequestLogSink(cfg *config.Config) (requestlog.Sink, error) {
	switch cfg.RequestLog.Driver {
	case "", "memory":
		return requestlog.NewMemorySink(cfg.RequestLog.MaxEntries), nil
	case "redis":
		return requestlog.NewRedisSink(requestlog.RedisConfig{
			Address:    cfg.RequestLog.Redis.Address,
			Password:   cfg.RequestLog.Redis.Password,
			DB:         cfg.RequestLog.Redis.DB,
			KeyPrefix:  cfg.RequestLog.Redis.KeyPrefix,
			MaxEntries: cfg.RequestLog.MaxEntries,
		})
	default:
		return nil, fmt.Errorf("未知的请求日志驱动: %s", cfg.RequestLog.Driver)
	}
}

func createAlertDispatcher(cfg *config.Config) (alerting.Dispatcher, error) {
	switch cfg.Alerting.Driver {
	case "", "log":
		return alerting.NewFanout(alerting.LogNotifier{}), nil
	case "amqp":
		notifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:      cfg.Alerting.URL,
			Exchange: cfg.Alerting.Exchange,
		})
		if err != nil {
			return nil, err
		}
		return alerting.NewFanout(alerting.LogNotifier{}, notifier), nil
	default:
		return nil, fmt.Errorf("未知的告警驱动: %s", cfg.Alerting.Driver)
	}
}
