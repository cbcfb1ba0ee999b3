package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// CalDAVConfig holds the CalDAV backend settings.
type CalDAVConfig struct {
	ServerURL    string `mapstructure:"server_url" yaml:"server_url"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	CalendarPath string `mapstructure:"calendar_path" yaml:"calendar_path"`

	SyncIntervalMin int    `mapstructure:"sync_interval_min" yaml:"sync_interval_min"`
	ConflictMode    string `mapstructure:"conflict_mode" yaml:"conflict_mode"`
}

// GoogleConfig holds the Google Tasks backend settings.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	TaskListID   string `mapstructure:"task_list_id" yaml:"task_list_id"`

	SyncIntervalMin int    `mapstructure:"sync_interval_min" yaml:"sync_interval_min"`
	ConflictMode    string `mapstructure:"conflict_mode" yaml:"conflict_mode"`
}

// MicrosoftConfig holds the Microsoft To-Do backend settings.
type MicrosoftConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	Tenant       string `mapstructure:"tenant" yaml:"tenant"`
	ListID       string `mapstructure:"list_id" yaml:"list_id"`

	SyncIntervalMin int    `mapstructure:"sync_interval_min" yaml:"sync_interval_min"`
	ConflictMode    string `mapstructure:"conflict_mode" yaml:"conflict_mode"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// Backend selects the active sync backend; empty disables syncing.
	Backend string `mapstructure:"backend" yaml:"backend"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// NotificationLeadTime is the default lead time in seconds applied to
	// items that do not carry their own.
	NotificationLeadTime int `mapstructure:"notification_lead_time" yaml:"notification_lead_time"`

	// OnChangeDelaySec is the quiet period after a local edit before a
	// change-triggered sync pass runs.
	OnChangeDelaySec int `mapstructure:"on_change_delay_sec" yaml:"on_change_delay_sec"`

	// DeleteCompletedTasks removes non-recurring items when completed
	// instead of keeping them in the done section.
	DeleteCompletedTasks bool `mapstructure:"delete_completed_tasks" yaml:"delete_completed_tasks"`

	CalDAV    CalDAVConfig    `mapstructure:"caldav" yaml:"caldav"`
	Google    GoogleConfig    `mapstructure:"google" yaml:"google"`
	Microsoft MicrosoftConfig `mapstructure:"microsoft" yaml:"microsoft"`
}

// ConflictPolicyFor returns the normalized conflict policy configured for
// the given backend.
func (c *AppConfig) ConflictPolicyFor(b Backend) ConflictPolicy {
	switch b {
	case BackendCalDAV:
		return NormalizeConflictPolicy(c.CalDAV.ConflictMode)
	case BackendGoogle:
		return NormalizeConflictPolicy(c.Google.ConflictMode)
	case BackendMicrosoft:
		return NormalizeConflictPolicy(c.Microsoft.ConflictMode)
	}
	return ServerWins
}

// SyncIntervalMinFor returns the configured pass interval in minutes for
// the given backend; 0 means manual-only.
func (c *AppConfig) SyncIntervalMinFor(b Backend) int {
	switch b {
	case BackendCalDAV:
		return c.CalDAV.SyncIntervalMin
	case BackendGoogle:
		return c.Google.SyncIntervalMin
	case BackendMicrosoft:
		return c.Microsoft.SyncIntervalMin
	}
	return 0
}

// CollectionFor returns the configured remote collection (calendar path
// or task list id) for the given backend.
func (c *AppConfig) CollectionFor(b Backend) string {
	switch b {
	case BackendCalDAV:
		return c.CalDAV.CalendarPath
	case BackendGoogle:
		return c.Google.TaskListID
	case BackendMicrosoft:
		return c.Microsoft.ListID
	}
	return ""
}

// DefaultConfigPath returns ~/.config/todosync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "todosync", "config.yaml")
}

// DefaultDatabasePath returns ~/.config/todosync/todosync.db.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "todosync.db")
	}
	return filepath.Join(home, ".config", "todosync", "todosync.db")
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DatabasePath:         DefaultDatabasePath(),
		NotificationLeadTime: 600,
		OnChangeDelaySec:     3,
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. A missing file yields the default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("database_path", DefaultDatabasePath())
	v.SetDefault("notification_lead_time", 600)
	v.SetDefault("on_change_delay_sec", 3)
	v.SetDefault("caldav.sync_interval_min", 15)
	v.SetDefault("google.sync_interval_min", 15)
	v.SetDefault("microsoft.sync_interval_min", 15)
	v.SetDefault("microsoft.tenant", "consumers")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file at path, creating
// parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("database_path", cfg.DatabasePath)
	v.Set("notification_lead_time", cfg.NotificationLeadTime)
	v.Set("on_change_delay_sec", cfg.OnChangeDelaySec)
	v.Set("delete_completed_tasks", cfg.DeleteCompletedTasks)
	v.Set("caldav", cfg.CalDAV)
	v.Set("google", cfg.Google)
	v.Set("microsoft", cfg.Microsoft)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
