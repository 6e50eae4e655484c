package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Scraper   ScraperConfig
	Import    ImportConfig
	Scheduler SchedulerConfig
	Database  DatabaseConfig
	Alerts    AlertsConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type ScraperConfig struct {
	BaseURL           string
	UserAgent         string
	RequestDelayMs    int
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
}

type ImportConfig struct {
	BatchSize         int
	RunTimeout        time.Duration
	LockTTL           time.Duration
	RateLimitWindow   time.Duration
	RateLimitRequests int
}

type SchedulerConfig struct {
	Enabled          bool
	ImportCron       string
	VerificationCron string
}

type DatabaseConfig struct {
	Path string
}

type AlertsConfig struct {
	WebhookURL string
}

type LoggingConfig struct {
	Level string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Attempt to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Warning: .env file not found, using environment variables: %v\n", err)
	}

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("GOMAFIA_BASE_URL", "https://gomafia.pro")
	viper.SetDefault("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	viper.SetDefault("REQUEST_DELAY_MS", 1500)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("REQUESTS_PER_SECOND", 2.0)
	viper.SetDefault("REQUEST_BURST", 4)
	viper.SetDefault("IMPORT_BATCH_SIZE", 50)
	viper.SetDefault("IMPORT_RUN_TIMEOUT_MIN", 90)
	viper.SetDefault("IMPORT_LOCK_TTL_MIN", 120)
	viper.SetDefault("RATE_LIMIT_WINDOW_SEC", 60)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 60)
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("IMPORT_CRON", "0 3 * * *")       // daily at 3 AM
	viper.SetDefault("VERIFICATION_CRON", "0 5 * * 0") // Sundays at 5 AM
	viper.SetDefault("DB_PATH", "./storage/insight.db")
	viper.SetDefault("ALERT_WEBHOOK_URL", "")
	viper.SetDefault("LOG_LEVEL", "info")

	config := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("PORT"),
			Environment: viper.GetString("ENVIRONMENT"),
		},
		Scraper: ScraperConfig{
			BaseURL:           viper.GetString("GOMAFIA_BASE_URL"),
			UserAgent:         viper.GetString("USER_AGENT"),
			RequestDelayMs:    viper.GetInt("REQUEST_DELAY_MS"),
			MaxRetries:        viper.GetInt("MAX_RETRIES"),
			RequestsPerSecond: viper.GetFloat64("REQUESTS_PER_SECOND"),
			Burst:             viper.GetInt("REQUEST_BURST"),
		},
		Import: ImportConfig{
			BatchSize:         viper.GetInt("IMPORT_BATCH_SIZE"),
			RunTimeout:        time.Duration(viper.GetInt("IMPORT_RUN_TIMEOUT_MIN")) * time.Minute,
			LockTTL:           time.Duration(viper.GetInt("IMPORT_LOCK_TTL_MIN")) * time.Minute,
			RateLimitWindow:   time.Duration(viper.GetInt("RATE_LIMIT_WINDOW_SEC")) * time.Second,
			RateLimitRequests: viper.GetInt("RATE_LIMIT_REQUESTS"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          viper.GetBool("SCHEDULER_ENABLED"),
			ImportCron:       viper.GetString("IMPORT_CRON"),
			VerificationCron: viper.GetString("VERIFICATION_CRON"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("DB_PATH"),
		},
		Alerts: AlertsConfig{
			WebhookURL: viper.GetString("ALERT_WEBHOOK_URL"),
		},
		Logging: LoggingConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	return config, nil
}
