// Package config содержит логику чтения конфигурации библиотечного сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultSQLitePath = "library.db"
	defaultLoanPeriod = 14 * 24 * time.Hour
)

// Config содержит параметры конфигурации библиотечного сервиса.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	SQLitePath    string        `env:"SQLITE_PATH"`
	NotifyAddress string        `env:"NOTIFY_ADDRESS"`
	JWTSecret     string        `env:"JWT_SECRET"`
	LoanPeriod    time.Duration `env:"LOAN_PERIOD"`
}

// FromEnv считывает конфигурацию только из переменных окружения, подставляя значения по умолчанию.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := &Config{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL database URI; SQLite is used when empty")
	flag.StringVar(&cfg.SQLitePath, "s", defaultSQLitePath, "SQLite database file")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification service address")
	flag.StringVar(&cfg.JWTSecret, "j", "", "secret for signing access tokens")
	flag.DurationVar(&cfg.LoanPeriod, "l", defaultLoanPeriod, "loan period before an issued book is overdue")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.SQLitePath != "" {
		cfg.SQLitePath = envCfg.SQLitePath
	}
	if envCfg.NotifyAddress != "" {
		cfg.NotifyAddress = envCfg.NotifyAddress
	}
	if envCfg.JWTSecret != "" {
		cfg.JWTSecret = envCfg.JWTSecret
	}
	if envCfg.LoanPeriod != 0 {
		cfg.LoanPeriod = envCfg.LoanPeriod
	}

	cfg.applyDefaults()

	if cfg.LoanPeriod < 0 {
		return nil, fmt.Errorf("loan period must be positive, got %s", cfg.LoanPeriod)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.SQLitePath == "" {
		c.SQLitePath = defaultSQLitePath
	}
	if c.LoanPeriod == 0 {
		c.LoanPeriod = defaultLoanPeriod
	}
}
