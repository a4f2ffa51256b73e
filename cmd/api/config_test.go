package main

import (
	"testing"
	"time"

	"github.com/library-service/cmd/api/library"
	"github.com/matryer/is"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		is := is.New(t)
		cfg, err := loadConfig(envOf(nil))
		is.NoErr(err)
		is.Equal(cfg.HTTPPort, 8080)
		is.Equal(cfg.LoanMaxActive, library.DefaultMaxActiveLoans)
		is.Equal(cfg.LoanPeriod, library.DefaultLoanPeriod)
		is.Equal(cfg.DatabaseURL, "")
		is.True(!cfg.NotificationsEnabled)
	})

	t.Run("reads every variable", func(t *testing.T) {
		is := is.New(t)
		cfg, err := loadConfig(envOf(map[string]string{
			"DATABASE_URL":             "postgres://localhost/library",
			"DATABASE_MIGRATIONS_PATH": "cmd/api/database/migrations",
			"HTTP_PORT":                "9000",
			"HTTP_REQUEST_TIMEOUT":     "3s",
			"STORE_LOCK_TIMEOUT":       "500ms",
			"LOAN_MAX_ACTIVE":          "3",
			"LOAN_PERIOD":              "168h",
			"NOTIFICATIONS_ENABLED":    "true",
			"NOTIFICATIONS_BASE_URL":   "https://ntfy.sh",
			"NOTIFICATIONS_TIMEOUT":    "1s",
			"ADMIN_USERNAME":           "admin",
			"ADMIN_TOKEN":              "secret",
		}))
		is.NoErr(err)
		is.Equal(cfg.DatabaseURL, "postgres://localhost/library")
		is.Equal(cfg.HTTPPort, 9000)
		is.Equal(cfg.HTTPRequestTimeout, 3*time.Second)
		is.Equal(cfg.StoreLockTimeout, 500*time.Millisecond)
		is.Equal(cfg.LoanMaxActive, 3)
		is.Equal(cfg.LoanPeriod, 7*24*time.Hour)
		is.True(cfg.NotificationsEnabled)
		is.Equal(cfg.NotificationsTimeout, time.Second)
		is.Equal(cfg.AdminToken, "secret")
	})

	tests := []struct {
		name string
		vars map[string]string
	}{
		{"a malformed port", map[string]string{"HTTP_PORT": "eighty"}},
		{"a duration without unit", map[string]string{"LOAN_PERIOD": "14"}},
		{"a zero loan limit", map[string]string{"LOAN_MAX_ACTIVE": "0"}},
		{"a negative loan period", map[string]string{"LOAN_PERIOD": "-1h"}},
		{"notifications without a base url", map[string]string{"NOTIFICATIONS_ENABLED": "true"}},
		{"a malformed flag", map[string]string{"NOTIFICATIONS_ENABLED": "maybe"}},
		{"an admin token without a username", map[string]string{"ADMIN_TOKEN": "secret"}},
	}
	for _, tt := range tests {
		t.Run("refuses "+tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := loadConfig(envOf(tt.vars))
			is.True(err != nil)
		})
	}
}
