package config

import (
	"fmt"
	"strings"
	"time"

	"feedwatch/internal/credentials"
	logx "feedwatch/pkg/logx"
)

// Config is the root of the YAML config file.
type Config struct {
	Logging  logx.Config    `yaml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Entities []EntityConfig `yaml:"entities"`
	Telegram TelegramConfig `yaml:"telegram"`
	Storage  StorageConfig  `yaml:"storage"`
}

// MonitorConfig holds the polling window and rate budget settings.
// Times are "HH:MM" in UTC; the window may cross midnight.
type MonitorConfig struct {
	StartTime                   string      `yaml:"start_time"`
	EndTime                     string      `yaml:"end_time"`
	RequestsPerCredentialPerDay int         `yaml:"requests_per_credential_per_day"`
	TestMode                    bool        `yaml:"test_mode"`
	TestInterval                string      `yaml:"test_interval"` // Go duration, default 1m
	Retry                       RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	InitialDelay string `yaml:"initial_delay"` // Go duration, default 5s
	Multiplier   int    `yaml:"multiplier"`
}

// Entity kinds supported by the monitors.
const (
	KindSocial        = "social"
	KindAnnouncements = "announcements"
	KindPrices        = "prices"
)

// EntityConfig is one monitored subject and its API credentials.
type EntityConfig struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"`
	Enabled *bool  `yaml:"enabled,omitempty"` // nil means enabled

	// Feed is the poll target: account handle for social, listing URL for
	// announcements, trading symbol for prices.
	Feed string `yaml:"feed"`

	// Keywords filters announcement titles (announcements kind).
	Keywords []string `yaml:"keywords,omitempty"`

	// Threshold triggers a price alert when crossed (prices kind).
	Threshold float64 `yaml:"threshold,omitempty"`

	Credentials []credentials.Credential `yaml:"credentials"`
}

func (e EntityConfig) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "file", "sqlite", or empty to disable
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"` // sqlite only
}

// Validate checks the config before it is committed or published.
func (c *Config) Validate() error {
	m := c.Monitor
	if !m.TestMode {
		if _, err := parseHHMM(m.StartTime); err != nil {
			return fmt.Errorf("monitor.start_time: %w", err)
		}
		if _, err := parseHHMM(m.EndTime); err != nil {
			return fmt.Errorf("monitor.end_time: %w", err)
		}
	}
	if m.RequestsPerCredentialPerDay < 1 {
		return fmt.Errorf("monitor.requests_per_credential_per_day must be >= 1")
	}
	if _, err := ParseDurationField("monitor.test_interval", m.TestInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.retry.initial_delay", m.Retry.InitialDelay); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, e := range c.Entities {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("entities[%d]: id required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("entities[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		switch e.Kind {
		case KindSocial, KindAnnouncements, KindPrices:
		default:
			return fmt.Errorf("entities[%d]: unknown kind %q", i, e.Kind)
		}
		if e.IsEnabled() && len(e.Credentials) == 0 {
			return fmt.Errorf("entities[%d]: enabled entity needs at least one credential", i)
		}
		for j, cr := range e.Credentials {
			if strings.TrimSpace(cr.ID) == "" {
				return fmt.Errorf("entities[%d].credentials[%d]: id required", i, j)
			}
		}
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token required when telegram.enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id required when telegram.enabled")
		}
	}
	return nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
