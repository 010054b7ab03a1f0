// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailConfig holds the sending account's OAuth client credentials.
type MailConfig struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	From         string `yaml:"from"`
}

// Config holds all configuration for the derivation engine.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis (reminder dedup)
	RedisURL string

	// Server
	Port int

	// Calendar defaults
	TimeZone        string
	CalendarBaseURL string

	// Notifications
	NotificationAdvanceDays int
	SweepSpec               string
	SweepWindow             time.Duration

	// Mail
	GmailBaseURL string
	Mail         MailConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Calendar struct {
		TimeZone string `yaml:"time_zone"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"calendar"`
	Notifications struct {
		AdvanceDays int    `yaml:"advance_days"`
		SweepSpec   string `yaml:"sweep_spec"`
	} `yaml:"notifications"`
	Mail struct {
		BaseURL      string `yaml:"base_url"`
		TokenURL     string `yaml:"token_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		From         string `yaml:"from"`
	} `yaml:"mail"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. The YAML file is optional;
// environment variables alone are enough to run.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Fall through to env-only configuration.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL:             firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:                firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Port:                    envOrDefaultInt("PORT", 8080),
		TimeZone:                firstNonEmpty(raw.Calendar.TimeZone, envOrDefault("TIME_ZONE", "America/Toronto")),
		CalendarBaseURL:         firstNonEmpty(raw.Calendar.BaseURL, os.Getenv("CALENDAR_BASE_URL")),
		NotificationAdvanceDays: raw.Notifications.AdvanceDays,
		SweepSpec:               firstNonEmpty(raw.Notifications.SweepSpec, envOrDefault("SWEEP_SPEC", "@hourly")),
		SweepWindow:             envOrDefaultDuration("SWEEP_WINDOW", time.Hour),
		GmailBaseURL:            firstNonEmpty(raw.Mail.BaseURL, os.Getenv("GMAIL_BASE_URL")),
		Mail: MailConfig{
			TokenURL:     firstNonEmpty(raw.Mail.TokenURL, os.Getenv("MAIL_TOKEN_URL")),
			ClientID:     firstNonEmpty(raw.Mail.ClientID, os.Getenv("MAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Mail.ClientSecret, os.Getenv("MAIL_CLIENT_SECRET")),
			From:         firstNonEmpty(raw.Mail.From, os.Getenv("MAIL_FROM")),
		},
	}

	if cfg.NotificationAdvanceDays <= 0 {
		cfg.NotificationAdvanceDays = envOrDefaultInt("NOTIFICATION_ADVANCE_DAYS", 10)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL not configured — set database.url or DATABASE_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
