package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	MailAPIURL           string `env:"MAIL_API_URL,required=true"`
	MailAPIKey           string `env:"MAIL_API_KEY,required=true"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=5"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WebhookTimeoutSec    int    `env:"WEBHOOK_TIMEOUT_SEC,default=30"`
	RetryScanIntervalSec int    `env:"RETRY_SCAN_INTERVAL_SEC,default=5"`
	APIPort              int    `env:"API_PORT,default=8080"`
	MetricsPort          int    `env:"METRICS_PORT,default=9090"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
