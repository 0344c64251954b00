package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Broker struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"broker"`
	Symbols  []string `yaml:"symbols"`
	Strategy struct {
		Resolution        string `yaml:"resolution"`
		MaxFetchPerMinute int    `yaml:"max_fetch_per_minute"`
	} `yaml:"strategy"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Server struct {
		Addr        string `yaml:"addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`
	Schedule struct {
		RefreshCron  string `yaml:"refresh_cron"`
		PrecacheCron string `yaml:"precache_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_WS_URL"); v != "" {
		cfg.Broker.WSURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("RESOLUTION"); v != "" {
		cfg.Strategy.Resolution = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("MAX_FETCH_PER_MINUTE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Strategy.MaxFetchPerMinute = n
		}
	}

	// Defaults
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"NSE:SBIN-EQ"}
	}
	if cfg.Strategy.Resolution == "" {
		cfg.Strategy.Resolution = "D"
	}
	if cfg.Strategy.MaxFetchPerMinute == 0 {
		cfg.Strategy.MaxFetchPerMinute = 60
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/ticksentinel.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9100"
	}
	if cfg.Schedule.RefreshCron == "" {
		// Every 15 minutes during the trading session, Mon-Fri.
		cfg.Schedule.RefreshCron = "0 */15 9-16 * * 1-5"
	}
	if cfg.Schedule.PrecacheCron == "" {
		// Before the session opens.
		cfg.Schedule.PrecacheCron = "0 30 8 * * 1-5"
	}

	return cfg, nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.WSURL == "" {
		return fmt.Errorf("broker.ws_url is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Strategy.MaxFetchPerMinute <= 0 {
		return fmt.Errorf("strategy.max_fetch_per_minute must be positive")
	}
	return nil
}
