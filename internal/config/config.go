// Package config loads the settings file shared by control servers, proxies
// and simulators.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultFile is read when present before any explicit settings file.
const DefaultFile = "config/default.yaml"

// Device families.
const (
	FamilyTGF4000 = "tgf4000"
	FamilyPMXA    = "pmx_a"
)

// Config represents the complete settings file.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Registry RegistryConfig `yaml:"registry"`
	Storage  StorageConfig  `yaml:"storage"`
	Audit    AuditConfig    `yaml:"audit"`
	Auth     AuthConfig     `yaml:"auth"`

	// Devices and ControlServers are keyed by device ID.
	Devices        map[string]DeviceSettings        `yaml:"devices"`
	ControlServers map[string]ControlServerSettings `yaml:"control_servers"`
}

// LoggingConfig holds log level and file rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// RegistryConfig selects the service registry backend.
type RegistryConfig struct {
	// URL is "memory", a redis:// URL or host:port.
	URL    string `yaml:"url"`
	TTLSec int    `yaml:"ttlSec"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig locates the housekeeping database. An empty path disables storage.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig locates the audit trail. An empty directory disables auditing.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// AuthConfig configures bearer tokens on the commanding endpoint.
type AuthConfig struct {
	Required      bool   `yaml:"required"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

// DeviceSettings describe how to reach one instrument.
type DeviceSettings struct {
	Family     string  `yaml:"FAMILY"`
	Hostname   string  `yaml:"HOSTNAME"`
	Port       int     `yaml:"PORT"`
	CmdDelay   float64 `yaml:"CMD_DELAY"`
	Transport  string  `yaml:"TRANSPORT"`
	SerialPort string  `yaml:"SERIAL_PORT"`
	BaudRate   int     `yaml:"BAUD_RATE"`
	// ReadTimeout is in seconds.
	ReadTimeout float64 `yaml:"READ_TIMEOUT"`
}

// CmdDelayDuration returns CMD_DELAY as a duration.
func (d DeviceSettings) CmdDelayDuration() time.Duration {
	return seconds(d.CmdDelay)
}

// ReadTimeoutDuration returns READ_TIMEOUT as a duration.
func (d DeviceSettings) ReadTimeoutDuration() time.Duration {
	return seconds(d.ReadTimeout)
}

// ControlServerSettings describe the control server of one instrument.
type ControlServerSettings struct {
	Hostname        string   `yaml:"HOSTNAME"`
	Protocol        string   `yaml:"PROTOCOL"`
	CommandingPort  int      `yaml:"COMMANDING_PORT"`
	ServicePort     int      `yaml:"SERVICE_PORT"`
	MonitoringPort  int      `yaml:"MONITORING_PORT"`
	ServiceType     string   `yaml:"SERVICE_TYPE"`
	ProcessName     string   `yaml:"PROCESS_NAME"`
	StorageMnemonic string   `yaml:"STORAGE_MNEMONIC"`
	HKDelay         float64  `yaml:"HK_DELAY"`
	CommandTimeout  float64  `yaml:"COMMAND_TIMEOUT"`
	AllowedCIDRs    []string `yaml:"ALLOWED_CIDRS"`
}

// HKDelayDuration returns HK_DELAY as a duration.
func (c ControlServerSettings) HKDelayDuration() time.Duration {
	return seconds(c.HKDelay)
}

// CommandTimeoutDuration returns COMMAND_TIMEOUT as a duration.
func (c ControlServerSettings) CommandTimeoutDuration() time.Duration {
	return seconds(c.CommandTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// envOverrides are read from EGSE_* environment variables.
type envOverrides struct {
	SettingsFile string `env:"SETTINGS"`
	LogLevel     string `env:"LOG_LEVEL"`
	LogFile      string `env:"LOG_FILE"`
	RegistryURL  string `env:"REGISTRY_URL"`
	StoragePath  string `env:"STORAGE_PATH"`
	AuditDir     string `env:"AUDIT_DIR"`
	AuthSecret   string `env:"AUTH_SECRET"`
}

// Load reads defaults, config/default.yaml, the given file (or EGSE_SETTINGS),
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := getDefaultConfig()

	if err := loadFromFile(cfg, DefaultFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load default settings", "file", DefaultFile, "error", err)
	}

	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: "EGSE_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if path == "" {
		path = overrides.SettingsFile
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, overrides)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes settings from YAML on top of the defaults and validates them.
func Parse(data []byte) (*Config, error) {
	cfg := getDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Registry: RegistryConfig{
			URL:    "memory",
			TTLSec: 30,
			Prefix: "cgse:registry",
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Devices:        map[string]DeviceSettings{},
		ControlServers: map[string]ControlServerSettings{},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config, o envOverrides) {
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFile != "" {
		cfg.Logging.File = o.LogFile
	}
	if o.RegistryURL != "" {
		cfg.Registry.URL = o.RegistryURL
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	if o.AuditDir != "" {
		cfg.Audit.Dir = o.AuditDir
	}
	if o.AuthSecret != "" {
		cfg.Auth.Secret = o.AuthSecret
	}
}

func validateConfig(cfg *Config) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(cfg.Logging.Level)) {
		return fmt.Errorf("invalid log level %s, must be one of: %v", cfg.Logging.Level, validLevels)
	}

	for id, dev := range cfg.Devices {
		if dev.Family != "" && dev.Family != FamilyTGF4000 && dev.Family != FamilyPMXA {
			return fmt.Errorf("device %s: unknown family %q", id, dev.Family)
		}
		switch strings.ToLower(dev.Transport) {
		case "", "ethernet", "tcp":
		case "serial":
			if dev.SerialPort == "" {
				return fmt.Errorf("device %s: SERIAL_PORT is required for the serial transport", id)
			}
		default:
			return fmt.Errorf("device %s: unknown transport %q", id, dev.Transport)
		}
		if dev.Port < 0 || dev.Port > 65535 {
			return fmt.Errorf("device %s: port %d out of range", id, dev.Port)
		}
		if dev.CmdDelay < 0 || dev.ReadTimeout < 0 {
			return fmt.Errorf("device %s: delays must not be negative", id)
		}
	}

	memory := cfg.Registry.URL == "" || strings.EqualFold(cfg.Registry.URL, "memory")
	for id, cs := range cfg.ControlServers {
		for _, port := range []int{cs.CommandingPort, cs.ServicePort, cs.MonitoringPort} {
			if port < 0 || port > 65535 {
				return fmt.Errorf("control server %s: port %d out of range", id, port)
			}
			// An in-process registry is invisible to other processes, so a
			// port picked at start up could never be found by stop or status.
			if port == 0 && memory {
				return fmt.Errorf("control server %s: ports must be fixed when the registry is memory", id)
			}
		}
		if cs.HKDelay < 0 {
			return fmt.Errorf("control server %s: HK_DELAY must not be negative", id)
		}
		for _, cidr := range cs.AllowedCIDRs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("control server %s: invalid CIDR %q", id, cidr)
			}
		}
	}

	if cfg.Registry.TTLSec < 0 {
		return fmt.Errorf("registry ttlSec must not be negative")
	}
	return nil
}

// Device returns the settings of a device with defaults applied.
func (c *Config) Device(id string) (DeviceSettings, error) {
	dev, ok := c.Devices[id]
	if !ok {
		return DeviceSettings{}, fmt.Errorf("no device settings for %s", id)
	}
	if dev.Transport == "" {
		dev.Transport = "ethernet"
	}
	dev.Transport = strings.ToLower(dev.Transport)
	if dev.ReadTimeout == 0 {
		dev.ReadTimeout = 60
	}
	if dev.BaudRate == 0 {
		dev.BaudRate = 9600
	}
	return dev, nil
}

// ControlServer returns the control server settings of a device with defaults
// applied. serviceType is used when SERVICE_TYPE is not set.
func (c *Config) ControlServer(id, serviceType string) (ControlServerSettings, error) {
	cs, ok := c.ControlServers[id]
	if !ok {
		return ControlServerSettings{}, fmt.Errorf("no control server settings for %s", id)
	}
	if cs.Hostname == "" {
		cs.Hostname = "localhost"
	}
	if cs.Protocol == "" {
		cs.Protocol = "http"
	}
	if cs.ServiceType == "" {
		cs.ServiceType = serviceType
	}
	if cs.ProcessName == "" {
		cs.ProcessName = cs.ServiceType
	}
	if cs.StorageMnemonic == "" {
		cs.StorageMnemonic = strings.ToUpper(id)
	}
	if cs.HKDelay == 0 {
		cs.HKDelay = 1
	}
	if cs.CommandTimeout == 0 {
		cs.CommandTimeout = 10
	}
	if len(cs.AllowedCIDRs) == 0 {
		cs.AllowedCIDRs = []string{"127.0.0.0/8", "::1/128"}
	}
	return cs, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
