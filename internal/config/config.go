package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	APIBackendURL     string `env:"API_BACKEND_URL,required=true"`
	APIBackendKey     string `env:"API_BACKEND_KEY,required=true"`
	DefaultWebhookURL string `env:"DEFAULT_WEBHOOK_URL"`
	CreditServiceURL  string `env:"CREDIT_SERVICE_URL,required=true"`

	MediaBucket        string `env:"MEDIA_BUCKET,required=true"`
	MediaAccountID     string `env:"MEDIA_ACCOUNT_ID,required=true"`
	MediaAccessKey     string `env:"MEDIA_ACCESS_KEY,required=true"`
	MediaSecretKey     string `env:"MEDIA_SECRET_KEY,required=true"`
	MediaPublicBaseURL string `env:"MEDIA_PUBLIC_BASE_URL,required=true"`

	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	DispatchConcurrency int    `env:"DISPATCH_CONCURRENCY,default=3"`
	EmbedScheduler      bool   `env:"EMBED_SCHEDULER,default=false"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
