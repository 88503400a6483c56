// Package config loads and validates the controller configuration from a
// YAML file supplied by the surrounding service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/wardenhq/warden/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Log         LogConfig     `yaml:"log"`
	Monitor     MonitorConfig `yaml:"monitor"`
	Placement   Placement     `yaml:"placement"`
	Defaults    ZoneDefaults  `yaml:"zone_defaults"`
	Servers     []ServerEntry `yaml:"servers"`
}

// LogConfig holds logging options
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MonitorConfig holds monitoring pass timing
type MonitorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	WatchdogThreshold time.Duration `yaml:"watchdog_threshold"`
	// Standby enables the hot-standby pass, gated on primary heartbeat
	// staleness.
	Standby bool `yaml:"standby"`
}

// Placement holds zone creation constraints
type Placement struct {
	MinTeamSize       int      `yaml:"min_team_size"`
	MaxTeamSize       int      `yaml:"max_team_size"`
	MinCenterDistance float64  `yaml:"min_center_distance"`
	AllowListEnabled  bool     `yaml:"allow_list_enabled"`
	AllowList         []string `yaml:"allow_list"`
	BanList           []string `yaml:"ban_list"`
}

// ZoneDefaults are applied to zone creation requests that omit them
type ZoneDefaults struct {
	Radius        float64 `yaml:"radius"`
	DelayMinutes  int     `yaml:"delay_minutes"`
	ExpireSeconds int     `yaml:"expire_seconds"`
	ColorWhite    string  `yaml:"color_white"`
	ColorGreen    string  `yaml:"color_green"`
	ColorYellow   string  `yaml:"color_yellow"`
	ColorRed      string  `yaml:"color_red"`
}

// ServerEntry describes one managed game server
type ServerEntry struct {
	Name     string `yaml:"name"`
	Tenant   string `yaml:"tenant"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DataDir:     "/var/lib/warden",
		MetricsAddr: ":9090",
		Log:         LogConfig{Level: "info"},
		Monitor: MonitorConfig{
			PollInterval:      30 * time.Second,
			LockTTL:           90 * time.Second,
			CommandTimeout:    10 * time.Second,
			WatchdogInterval:  time.Minute,
			WatchdogThreshold: 10 * time.Minute,
		},
		Placement: Placement{
			MinTeamSize:       1,
			MaxTeamSize:       8,
			MinCenterDistance: 100,
		},
		Defaults: ZoneDefaults{
			Radius:        50,
			DelayMinutes:  5,
			ExpireSeconds: 86400,
			ColorWhite:    "1 1 1",
			ColorGreen:    "0 1 0",
			ColorYellow:   "1 1 0",
			ColorRed:      "1 0 0",
		},
	}
}

// Validate checks the configuration for mistakes that would otherwise
// surface as runtime failures
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}

	seen := make(map[string]bool)
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if s.Host == "" {
			return fmt.Errorf("server %q: host is required", s.Name)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("server %q: port %d out of range", s.Name, s.Port)
		}
		if s.Password == "" {
			return fmt.Errorf("server %q: password is required", s.Name)
		}
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Monitor.LockTTL <= c.Monitor.PollInterval {
		return fmt.Errorf("lock_ttl must exceed poll_interval")
	}
	if c.Placement.MinTeamSize < 1 || c.Placement.MaxTeamSize < c.Placement.MinTeamSize {
		return fmt.Errorf("invalid team size bounds [%d,%d]",
			c.Placement.MinTeamSize, c.Placement.MaxTeamSize)
	}
	return nil
}

// LogLevel converts the configured level to the log package type
func (c *Config) LogLevel() log.Level {
	return log.Level(c.Log.Level)
}
