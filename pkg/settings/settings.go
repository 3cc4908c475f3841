// Package settings manages persistent user settings for the newtring CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults applied when a setting is empty.
const (
	DefaultInventoryDir  = "/etc/newtring"
	DefaultWorkers       = 8
	DefaultDeviceTimeout = 10 * time.Second
	DefaultMaxPlanAge    = 15 * time.Minute
)

// Settings holds persistent user preferences
type Settings struct {
	// InventoryDir overrides the default inventory directory
	InventoryDir string `json:"inventory_dir,omitempty"`

	// DefaultRing is the ring to use when -r is not specified
	DefaultRing string `json:"default_ring,omitempty"`

	// RedisAddr is the shared ring state store; empty keeps state in memory
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`

	// Workers bounds concurrent device collection
	Workers int `json:"workers,omitempty"`

	// DeviceTimeout and ApplyInterval are Go durations ("10s", "500ms")
	DeviceTimeout string `json:"device_timeout,omitempty"`
	ApplyInterval string `json:"apply_interval,omitempty"`

	// MaxPlanAge bounds how old a stored plan "apply --last" accepts
	MaxPlanAge string `json:"max_plan_age,omitempty"`

	// AuditLog is the JSON-lines audit file
	AuditLog string `json:"audit_log,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtring_settings.json"
	}
	return filepath.Join(home, ".newtring", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields empty
// settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetInventoryDir returns the inventory directory (with fallback)
func (s *Settings) GetInventoryDir() string {
	if s.InventoryDir != "" {
		return s.InventoryDir
	}
	return DefaultInventoryDir
}

// GetWorkers returns the collection pool size (with fallback)
func (s *Settings) GetWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return DefaultWorkers
}

// GetDeviceTimeout returns the per-device timeout (with fallback)
func (s *Settings) GetDeviceTimeout() time.Duration {
	if d, err := time.ParseDuration(s.DeviceTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultDeviceTimeout
}

// GetApplyInterval returns the pause between dispatched actions; zero means
// no pacing.
func (s *Settings) GetApplyInterval() time.Duration {
	d, err := time.ParseDuration(s.ApplyInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetMaxPlanAge returns the oldest stored plan that may be applied (with
// fallback)
func (s *Settings) GetMaxPlanAge() time.Duration {
	if d, err := time.ParseDuration(s.MaxPlanAge); err == nil && d > 0 {
		return d
	}
	return DefaultMaxPlanAge
}

// GetAuditLog returns the audit file path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(filepath.Dir(DefaultSettingsPath()), "audit.log")
}

// Keys lists the names accepted by Set.
func Keys() []string {
	return []string{"inventory_dir", "default_ring", "redis_addr", "redis_db", "workers", "device_timeout", "apply_interval", "max_plan_age", "audit_log"}
}

// Set assigns a setting by its JSON name. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "inventory_dir":
		s.InventoryDir = value
	case "default_ring":
		s.DefaultRing = value
	case "redis_addr":
		s.RedisAddr = value
	case "audit_log":
		s.AuditLog = value
	case "redis_db", "workers":
		n := 0
		if value != "" {
			var err error
			if n, err = strconv.Atoi(value); err != nil || n < 0 {
				return fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
			}
		}
		if key == "workers" {
			s.Workers = n
		} else {
			s.RedisDB = n
		}
	case "device_timeout", "apply_interval", "max_plan_age":
		if value != "" {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s must be a duration like 5s: %w", key, err)
			}
		}
		switch key {
		case "device_timeout":
			s.DeviceTimeout = value
		case "apply_interval":
			s.ApplyInterval = value
		default:
			s.MaxPlanAge = value
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
