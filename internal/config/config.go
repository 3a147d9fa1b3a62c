package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	GRPCPort    string `env:"GRPC_PORT" envDefault:"50051"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8081"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`

	EstimatorAddr    string        `env:"ESTIMATOR_ADDR" envDefault:"localhost:50052"`
	EstimatorTimeout time.Duration `env:"ESTIMATOR_TIMEOUT" envDefault:"2s"`
	MaxMessageSizeMB int           `env:"MAX_MESSAGE_SIZE_MB" envDefault:"50"`

	RendererURL     string        `env:"RENDERER_URL"`
	RendererTimeout time.Duration `env:"RENDERER_TIMEOUT" envDefault:"10s"`
	RendererRetries int           `env:"RENDERER_RETRIES" envDefault:"2"`

	SetupWindow        time.Duration `env:"SETUP_WINDOW" envDefault:"3s"`
	IntakeGrace        time.Duration `env:"INTAKE_GRACE" envDefault:"10s"`
	BaselineWindow     time.Duration `env:"BASELINE_WINDOW" envDefault:"10s"`
	MonitoringDuration time.Duration `env:"MONITORING_DURATION" envDefault:"0s"`
	SummaryPromptAfter time.Duration `env:"SUMMARY_PROMPT_AFTER" envDefault:"60s"`
	ReportTimeout      time.Duration `env:"REPORT_TIMEOUT" envDefault:"15s"`
	InboxSize          int           `env:"INBOX_SIZE" envDefault:"32"`
	MaxSessions        int           `env:"MAX_SESSIONS" envDefault:"1000"`
	RetainReports      int           `env:"RETAIN_REPORTS" envDefault:"256"`

	PolicyPath string `env:"POLICY_PATH"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	AlertStream   string `env:"ALERT_STREAM" envDefault:"vitals:escalations"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`

	DBEnabled  bool   `env:"DB_ENABLED" envDefault:"false"`
	DBName     string `env:"DB_NAME" envDefault:"vitals"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog masks the password.
func (p *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c *Config) MaxMessageBytes() int64 {
	return int64(c.MaxMessageSizeMB) * 1024 * 1024
}

// LoadConfig reads .env (if present) and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DBEnabled && cfg.DBPassword == "" {
		log.Println("WARNING: DB_PASSWORD is not set!")
	}
	return cfg, nil
}

// Baseline capture is bounded so the reference averages cover a comparable
// stretch of frames for every session.
const (
	MinBaselineWindow = 8 * time.Second
	MaxBaselineWindow = 10 * time.Second
)

func (c *Config) Validate() error {
	switch {
	case c.EstimatorTimeout <= 0:
		return fmt.Errorf("ESTIMATOR_TIMEOUT must be positive, got %s", c.EstimatorTimeout)
	case c.SetupWindow < 0 || c.IntakeGrace < 0:
		return fmt.Errorf("invalid session timing: setup=%s intake=%s", c.SetupWindow, c.IntakeGrace)
	case c.BaselineWindow < MinBaselineWindow || c.BaselineWindow > MaxBaselineWindow:
		return fmt.Errorf("BASELINE_WINDOW must be between %s and %s, got %s",
			MinBaselineWindow, MaxBaselineWindow, c.BaselineWindow)
	case c.MonitoringDuration < 0:
		return fmt.Errorf("MONITORING_DURATION must not be negative, got %s", c.MonitoringDuration)
	case c.InboxSize <= 0:
		return fmt.Errorf("INBOX_SIZE must be positive, got %d", c.InboxSize)
	case c.MaxSessions < 0:
		return fmt.Errorf("MAX_SESSIONS must not be negative, got %d", c.MaxSessions)
	}
	return nil
}
