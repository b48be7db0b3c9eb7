package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := getDefaultConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Registry.URL != "memory" {
		t.Errorf("Expected memory registry, got %s", cfg.Registry.URL)
	}
	if cfg.Registry.TTLSec != 30 {
		t.Errorf("Expected registry TTL 30s, got %d", cfg.Registry.TTLSec)
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigFromRepositoryFile(t *testing.T) {
	cfg := getDefaultConfig()
	if err := loadFromFile(cfg, filepath.Join("..", "..", DefaultFile)); err != nil {
		t.Fatalf("Could not load %s: %v", DefaultFile, err)
	}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Repository settings do not validate: %v", err)
	}

	dev, err := cfg.Device("AWG-1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if dev.Family != FamilyTGF4000 || dev.Port != 9221 {
		t.Errorf("Unexpected AWG settings: %+v", dev)
	}
	if dev.CmdDelayDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms command delay, got %v", dev.CmdDelayDuration())
	}

	cs, err := cfg.ControlServer("AWG-1", "tgf4000_cs")
	if err != nil {
		t.Fatalf("ControlServer: %v", err)
	}
	if cs.CommandingPort == 0 || cs.ServicePort == 0 || cs.MonitoringPort == 0 {
		t.Errorf("Expected fixed ports with the memory registry, got %+v", cs)
	}
}

func TestDynamicPortsNeedSharedRegistry(t *testing.T) {
	settings := "control_servers:\n  X:\n    COMMANDING_PORT: 0\n    SERVICE_PORT: 0\n    MONITORING_PORT: 0\n"

	if _, err := Parse([]byte(settings)); err == nil {
		t.Error("Expected ports 0 to be rejected with the memory registry")
	}
	if _, err := Parse([]byte("registry:\n  url: redis://localhost:6379/0\n" + settings)); err != nil {
		t.Errorf("Expected ports 0 to be accepted with redis, got %v", err)
	}
}

func TestLoadConfigFromNonExistentFile(t *testing.T) {
	cfg := &Config{}
	if err := loadFromFile(cfg, "non-existent-file.yaml"); err == nil {
		t.Error("Expected error when loading non-existent file")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	settings := `
logging:
  level: debug
devices:
  PSU-1:
    FAMILY: pmx_a
    TRANSPORT: serial
    SERIAL_PORT: /dev/ttyUSB0
    BAUD_RATE: 19200
control_servers:
  PSU-1:
    COMMANDING_PORT: 6200
`
	if err := os.WriteFile(path, []byte(settings), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	t.Setenv("EGSE_SETTINGS", path)
	t.Setenv("EGSE_REGISTRY_URL", "redis://localhost:6379/0")
	t.Setenv("EGSE_STORAGE_PATH", filepath.Join(dir, "hk.db"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug from file, got %s", cfg.Logging.Level)
	}
	if cfg.Registry.URL != "redis://localhost:6379/0" {
		t.Errorf("Expected registry URL from env, got %s", cfg.Registry.URL)
	}
	if cfg.Storage.Path != filepath.Join(dir, "hk.db") {
		t.Errorf("Expected storage path from env, got %s", cfg.Storage.Path)
	}

	dev, err := cfg.Device("PSU-1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if dev.Transport != "serial" || dev.BaudRate != 19200 || dev.ReadTimeout != 60 {
		t.Errorf("Unexpected device settings: %+v", dev)
	}

	cs, err := cfg.ControlServer("PSU-1", "pmx_a_cs")
	if err != nil {
		t.Fatalf("ControlServer: %v", err)
	}
	if cs.CommandingPort != 6200 || cs.ServiceType != "pmx_a_cs" || cs.Hostname != "localhost" {
		t.Errorf("Unexpected control server settings: %+v", cs)
	}
	if cs.HKDelayDuration() != time.Second || cs.StorageMnemonic != "PSU-1" {
		t.Errorf("Unexpected defaults: %+v", cs)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings string
	}{
		{name: "bad level", settings: "logging:\n  level: loud\n"},
		{name: "bad family", settings: "devices:\n  X:\n    FAMILY: scope\n"},
		{name: "serial without port", settings: "devices:\n  X:\n    TRANSPORT: serial\n"},
		{name: "bad transport", settings: "devices:\n  X:\n    TRANSPORT: gpib\n"},
		{name: "bad port", settings: "control_servers:\n  X:\n    SERVICE_PORT: 70000\n"},
		{name: "bad cidr", settings: "control_servers:\n  X:\n    ALLOWED_CIDRS: [\"nope\"]\n"},
		{name: "memory registry with port 0", settings: "control_servers:\n  X:\n    COMMANDING_PORT: 0\n    SERVICE_PORT: 6001\n    MONITORING_PORT: 6002\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.settings)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestUnknownDevice(t *testing.T) {
	cfg := getDefaultConfig()
	if _, err := cfg.Device("nope"); err == nil {
		t.Error("Expected error for unknown device")
	}
	if _, err := cfg.ControlServer("nope", "x"); err == nil {
		t.Error("Expected error for unknown control server")
	}
}
