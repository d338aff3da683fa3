package config

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite = "sqlite3"
	DriverMemory = "memory"
)

// Config holds the application settings.
type Config struct {
	HTTPAddr            string
	DBDriver            string // sqlite3 or memory
	DBPath              string
	LogLevel            logrus.Level
	LogFormat           string // json or text
	DefaultInterestRate decimal.Decimal // Annual percent used when an approval omits the rate
}

// LoadConfig reads the configuration from the environment, loading a .env
// file first when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, using process environment")
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	rate, err := decimal.NewFromString(getEnv("DEFAULT_INTEREST_RATE", "12"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_INTEREST_RATE: %w", err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("invalid DEFAULT_INTEREST_RATE: must not be negative, got %s", rate)
	}

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBDriver:            getEnv("DB_DRIVER", DriverSQLite),
		DBPath:              getEnv("DB_PATH", "koperasi.db"),
		LogLevel:            level,
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		DefaultInterestRate: rate,
	}

	switch cfg.DBDriver {
	case DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want %q or %q", cfg.DBDriver, DriverSQLite, DriverMemory)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want json or text", cfg.LogFormat)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configuration.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(c.LogLevel)
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// getEnv returns the variable's value or defaultValue when it is unset.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
