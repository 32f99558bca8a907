package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the configuration shared by the server, worker and seeder.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"outreach-scheduler"`

	DB        DBConfig        `envPrefix:"DB_"`
	AMQP      AMQPConfig      `envPrefix:"AMQP_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

type DBConfig struct {
	// Driver is "postgres" or "memory". The memory store only makes sense
	// with the embedded worker.
	Driver   string `env:"DRIVER" envDefault:"postgres"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"outreach"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// DSN builds the lib/pq connection URL.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

type AMQPConfig struct {
	// URL empty selects the in-memory queue.
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE"`
}

type SchedulerConfig struct {
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"50"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	Lease        time.Duration `env:"LEASE" envDefault:"5m"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3"`
	Concurrency  int           `env:"CONCURRENCY" envDefault:"8"`
	WorkerID     string        `env:"WORKER_ID"`
	// Embedded runs the poll loop inside the API server process.
	Embedded bool `env:"EMBEDDED" envDefault:"false"`
}

// Load reads an optional .env file and then parses the environment.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Debug("no .env file found, relying on OS environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Driver != "postgres" && c.DB.Driver != "memory" {
		return fmt.Errorf("DB_DRIVER must be postgres or memory, got %q", c.DB.Driver)
	}
	s := c.Scheduler
	switch {
	case s.BatchSize <= 0:
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive, got %d", s.BatchSize)
	case s.Lease <= 0:
		return fmt.Errorf("SCHEDULER_LEASE must be positive, got %s", s.Lease)
	case s.MaxRetries <= 0:
		return fmt.Errorf("SCHEDULER_MAX_RETRIES must be positive, got %d", s.MaxRetries)
	case s.Concurrency <= 0:
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be positive, got %d", s.Concurrency)
	case s.PollInterval <= 0:
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive, got %s", s.PollInterval)
	}
	return nil
}
