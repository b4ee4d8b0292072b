// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration shared by the server, worker and
// migrate commands.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBUser      string `env:"DB_USER" envDefault:"postgres"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME" envDefault:"drip"`
	DBSSLMode   string `env:"DB_SSLMODE" envDefault:"disable"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	AMQPURL       string `env:"AMQP_URL"`
	AMQPWakeQueue string `env:"AMQP_WAKE_QUEUE" envDefault:"job_wakeups"`

	RedisAddr        string `env:"REDIS_ADDR"`
	RedisWakeChannel string `env:"REDIS_WAKE_CHANNEL" envDefault:"job_wakeups"`

	WorkerQueues       []string      `env:"WORKER_QUEUES" envSeparator:"," envDefault:"campaign-send"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	WorkerBackoffBase  time.Duration `env:"WORKER_BACKOFF_BASE" envDefault:"30s"`
	WorkerBackoffMax   time.Duration `env:"WORKER_BACKOFF_MAX" envDefault:"1h"`
}

// Load reads an optional .env file and then parses the environment.
// loadedDotEnv reports whether a .env file was found, so callers can log it.
func Load() (cfg Config, loadedDotEnv bool, err error) {
	loadedDotEnv = godotenv.Load() == nil
	cfg, err = Parse()
	return cfg, loadedDotEnv, err
}

// Parse reads configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.WorkerQueues = cleanList(cfg.WorkerQueues)
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	return cfg, nil
}

// DSN returns DATABASE_URL when set, otherwise a postgres:// URL assembled
// from the DB_* variables.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	}
	return false
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
