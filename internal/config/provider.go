package config

import (
	"time"

	"feedwatch/internal/executor"
	"feedwatch/internal/schedule"
)

// The manager doubles as the scheduler's entity provider, so the scheduling
// core never reads config files itself.

func (m *Manager) MonitoredEntityIDs() []string {
	cfg := m.Get()
	if cfg == nil {
		return nil
	}
	ids := make([]string, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func (m *Manager) CredentialCount(entityID string) int {
	if e, ok := m.EntityByID(entityID); ok {
		return len(e.Credentials)
	}
	return 0
}

func (m *Manager) MonitoringEnabled(entityID string) bool {
	if e, ok := m.EntityByID(entityID); ok {
		return e.IsEnabled()
	}
	return false
}

func (m *Manager) EntityByID(entityID string) (EntityConfig, bool) {
	cfg := m.Get()
	if cfg == nil {
		return EntityConfig{}, false
	}
	for _, e := range cfg.Entities {
		if e.ID == entityID {
			return e, true
		}
	}
	return EntityConfig{}, false
}

// MonitorSettings maps the monitor block into the scheduler's config.
// Durations fall back to their defaults on empty fields; Validate has already
// rejected malformed ones.
func (c *Config) MonitorSettings() schedule.Config {
	testInterval, _ := ParseDurationOrDefault("monitor.test_interval", c.Monitor.TestInterval, time.Minute)
	initialDelay, _ := ParseDurationOrDefault("monitor.retry.initial_delay", c.Monitor.Retry.InitialDelay, 5*time.Second)
	return schedule.Config{
		Window: schedule.Window{
			Start: c.Monitor.StartTime,
			End:   c.Monitor.EndTime,
		},
		RequestsPerCredentialPerDay: c.Monitor.RequestsPerCredentialPerDay,
		TestMode:                    c.Monitor.TestMode,
		TestInterval:                testInterval,
		Retry: executor.Options{
			MaxRetries:   c.Monitor.Retry.MaxRetries,
			InitialDelay: initialDelay,
			Multiplier:   c.Monitor.Retry.Multiplier,
		},
	}
}
