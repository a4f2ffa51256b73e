package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/library-service/cmd/api/database"
	libraryhttp "github.com/library-service/cmd/api/http"
	"github.com/library-service/cmd/api/library"
)

type Config struct {
	DatabaseURL            string
	DatabaseMigrationsPath string
	HTTPPort               int
	HTTPRequestTimeout     time.Duration
	StoreLockTimeout       time.Duration
	LoanMaxActive          int
	LoanPeriod             time.Duration
	NotificationsEnabled   bool
	NotificationsBaseURL   string
	NotificationsTimeout   time.Duration
	OTLPEndpoint           string
	AdminUsername          string
	AdminToken             string
}

/* Reads the configuration from the environment. Unset variables keep their defaults; malformed ones are an error. */
func loadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		DatabaseURL:            getenv("DATABASE_URL"),
		DatabaseMigrationsPath: getenv("DATABASE_MIGRATIONS_PATH"),
		HTTPPort:               8080,
		HTTPRequestTimeout:     libraryhttp.DefaultRequestTimeout,
		StoreLockTimeout:       database.DefaultLockTimeout,
		LoanMaxActive:          library.DefaultMaxActiveLoans,
		LoanPeriod:             library.DefaultLoanPeriod,
		NotificationsBaseURL:   getenv("NOTIFICATIONS_BASE_URL"),
		NotificationsTimeout:   2 * time.Second,
		OTLPEndpoint:           getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminUsername:          getenv("ADMIN_USERNAME"),
		AdminToken:             getenv("ADMIN_TOKEN"),
	}

	var err error
	if cfg.HTTPPort, err = intEnv(getenv, "HTTP_PORT", cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.HTTPRequestTimeout, err = durationEnv(getenv, "HTTP_REQUEST_TIMEOUT", cfg.HTTPRequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StoreLockTimeout, err = durationEnv(getenv, "STORE_LOCK_TIMEOUT", cfg.StoreLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LoanMaxActive, err = intEnv(getenv, "LOAN_MAX_ACTIVE", cfg.LoanMaxActive); err != nil {
		return Config{}, err
	}
	if cfg.LoanPeriod, err = durationEnv(getenv, "LOAN_PERIOD", cfg.LoanPeriod); err != nil {
		return Config{}, err
	}
	if cfg.NotificationsTimeout, err = durationEnv(getenv, "NOTIFICATIONS_TIMEOUT", cfg.NotificationsTimeout); err != nil {
		return Config{}, err
	}
	if v := getenv("NOTIFICATIONS_ENABLED"); v != "" {
		if cfg.NotificationsEnabled, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("reading NOTIFICATIONS_ENABLED: %w", err)
		}
	}

	if cfg.LoanMaxActive <= 0 {
		return Config{}, fmt.Errorf("reading LOAN_MAX_ACTIVE: must be positive, got %d", cfg.LoanMaxActive)
	}
	if cfg.LoanPeriod <= 0 {
		return Config{}, fmt.Errorf("reading LOAN_PERIOD: must be positive, got %s", cfg.LoanPeriod)
	}
	if cfg.NotificationsEnabled && cfg.NotificationsBaseURL == "" {
		return Config{}, fmt.Errorf("reading NOTIFICATIONS_BASE_URL: required when notifications are enabled")
	}
	if (cfg.AdminUsername == "") != (cfg.AdminToken == "") {
		return Config{}, fmt.Errorf("reading ADMIN_USERNAME and ADMIN_TOKEN: set both or neither")
	}
	return cfg, nil
}

func intEnv(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	return n, nil
}

// durationEnv expects a unit suffix, like "5s" or "336h".
func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	return d, nil
}
