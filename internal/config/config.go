package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, read from a YAML file with
// environment variable overrides applied on top.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Telegram TelegramConfig `yaml:"telegram"`
	Venues   VenuesConfig   `yaml:"venues"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

type VenuesConfig struct {
	UpbitBaseURL string `yaml:"upbit_base_url"`
	BingXBaseURL string `yaml:"bingx_base_url"`
	KISBaseURL   string `yaml:"kis_base_url"`
}

// JobsConfig holds the scheduler intervals in minutes. Zero disables a job.
type JobsConfig struct {
	DispatchIntervalMinutes  int `yaml:"dispatch_interval_minutes"`
	ReconcileIntervalMinutes int `yaml:"reconcile_interval_minutes"`
	SyncIntervalMinutes      int `yaml:"sync_interval_minutes"`
	ProfitIntervalMinutes    int `yaml:"profit_interval_minutes"`
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "autotrade.db"},
		Jobs: JobsConfig{
			DispatchIntervalMinutes:  1,
			ReconcileIntervalMinutes: 1,
			SyncIntervalMinutes:      10,
			ProfitIntervalMinutes:    60,
		},
	}
}

// Load reads the configuration file at path. A missing file is not an
// error: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			c.Server.Port = parsed
		}
	}
	overrideString(&c.Database.Path, "DATABASE_PATH")
	overrideString(&c.Auth.JWTSecret, "JWT_SECRET")
	overrideString(&c.Auth.APIKey, "API_KEY")
	overrideString(&c.Auth.APISecret, "API_SECRET")
	overrideString(&c.Telegram.Token, "TELEGRAM_TOKEN")
	overrideString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	overrideString(&c.Venues.UpbitBaseURL, "UPBIT_BASE_URL")
	overrideString(&c.Venues.BingXBaseURL, "BINGX_BASE_URL")
	overrideString(&c.Venues.KISBaseURL, "KIS_BASE_URL")
}

func overrideString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
