package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"meshmon/internal/model"
)

const (
	DefaultConnectRetries     = 4
	DefaultRetryDelaySec      = 5
	DefaultCommandTimeoutSec  = 30
	DefaultListen             = "127.0.0.1:0"
	DefaultHistoryCapacity    = 1024
	DefaultPacketLogPath      = "packetlog.txt"
	DefaultRefreshIntervalSec = 300
	DefaultBackend            = "yaml"
	DefaultYAMLStatePath      = "meshmon-state.yaml"
	DefaultSQLiteStatePath    = "meshmon-state.db"
	DefaultStatsWindow        = "5m"
)

// Environment variables that override the file, for the home coordinate and
// the radio address.
const (
	EnvLatitude  = "my_latitude"
	EnvLongitude = "my_longitude"
	EnvDevice    = "MESHMON_DEVICE"
)

// Config holds every setting of the dashboard process.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Web         WebConfig         `yaml:"web"`
	Position    PositionConfig    `yaml:"position"`
	History     HistoryConfig     `yaml:"history"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// DeviceConfig describes how to reach the radio.
type DeviceConfig struct {
	// Address is the host:port of the radio bridge. A leading "/" marks a
	// serial device path, served by a bridge on the default port.
	Address           string `yaml:"address"`
	ConnectRetries    int    `yaml:"connect_retries"`
	RetryDelaySec     int    `yaml:"retry_delay_sec"`
	CommandTimeoutSec int    `yaml:"command_timeout_sec"`
}

type WebConfig struct {
	Listen      string `yaml:"listen"`
	OpenBrowser bool   `yaml:"open_browser"`
	HTTPLogging bool   `yaml:"http_logging"`
}

// PositionConfig is the home coordinate distances are measured from.
type PositionConfig struct {
	MyLatitude  *float64 `yaml:"my_latitude,omitempty"`
	MyLongitude *float64 `yaml:"my_longitude,omitempty"`
}

type HistoryConfig struct {
	Capacity       int    `yaml:"capacity"`
	PacketLogPath  string `yaml:"packet_log_path"`
	ResetPacketLog *bool  `yaml:"reset_packet_log,omitempty"`
}

type DirectoryConfig struct {
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
}

type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the fields the dashboard cannot run without.
func Validate(cfg Config) error {
	if cfg.Device.Address == "" {
		return fmt.Errorf("device.address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
		return fmt.Errorf("web.listen: %w", err)
	}
	if cfg.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be positive")
	}
	if (cfg.Position.MyLatitude == nil) != (cfg.Position.MyLongitude == nil) {
		return fmt.Errorf("position needs both my_latitude and my_longitude")
	}
	if lat := cfg.Position.MyLatitude; lat != nil && (*lat < -90 || *lat > 90) {
		return fmt.Errorf("position.my_latitude out of range: %v", *lat)
	}
	if lon := cfg.Position.MyLongitude; lon != nil && (*lon < -180 || *lon > 180) {
		return fmt.Errorf("position.my_longitude out of range: %v", *lon)
	}
	switch cfg.Persistence.Backend {
	case "yaml", "sqlite":
	default:
		return fmt.Errorf("persistence.backend must be yaml or sqlite, got %q", cfg.Persistence.Backend)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Device.ConnectRetries == 0 {
		cfg.Device.ConnectRetries = DefaultConnectRetries
	}
	if cfg.Device.RetryDelaySec == 0 {
		cfg.Device.RetryDelaySec = DefaultRetryDelaySec
	}
	if cfg.Device.CommandTimeoutSec == 0 {
		cfg.Device.CommandTimeoutSec = DefaultCommandTimeoutSec
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = DefaultListen
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = DefaultHistoryCapacity
	}
	if cfg.History.PacketLogPath == "" {
		cfg.History.PacketLogPath = DefaultPacketLogPath
	}
	if cfg.History.ResetPacketLog == nil {
		v := true
		cfg.History.ResetPacketLog = &v
	}
	if cfg.Directory.RefreshIntervalSec == 0 {
		cfg.Directory.RefreshIntervalSec = DefaultRefreshIntervalSec
	}
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = DefaultBackend
	}
	if cfg.Persistence.Path == "" {
		if cfg.Persistence.Backend == "sqlite" {
			cfg.Persistence.Path = DefaultSQLiteStatePath
		} else {
			cfg.Persistence.Path = DefaultYAMLStatePath
		}
	}
}

// ApplyEnv overrides the radio address and home coordinate from the
// environment when set.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDevice); v != "" {
		cfg.Device.Address = v
	}
	for _, item := range []struct {
		name string
		dst  **float64
	}{
		{EnvLatitude, &cfg.Position.MyLatitude},
		{EnvLongitude, &cfg.Position.MyLongitude},
	} {
		raw := os.Getenv(item.name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", item.name, err)
		}
		*item.dst = &f
	}
	return nil
}

// Home returns the configured home coordinate.
func (p PositionConfig) Home() model.Position {
	return model.Position{Latitude: p.MyLatitude, Longitude: p.MyLongitude}
}

func (d DeviceConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelaySec) * time.Second
}

func (d DeviceConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutSec) * time.Second
}

func (d DirectoryConfig) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshIntervalSec) * time.Second
}
