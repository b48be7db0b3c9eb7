package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/controlserver"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/psu"
)

func testFamily() Family {
	return Family{
		Command:     "pmxacs",
		Title:       "PMX-A PSU",
		ServiceType: psu.ServiceType,
		Open: func(ctx context.Context, deviceID string, settings config.DeviceSettings, simulator bool, logger *slog.Logger) (controlserver.Protocol, error) {
			return psu.OpenProtocol(ctx, deviceID, settings, simulator, logger)
		},
		Describe: func(context.Context, proxy.Endpoint) []string {
			return []string{"Instrument: simulated"}
		},
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeSettings(t *testing.T) string {
	t.Helper()
	return writeSettingsFile(t, "", freePort(t), freePort(t), freePort(t))
}

// writeSettingsFile writes settings for PSU-T. An empty registryURL keeps the
// in-process default.
func writeSettingsFile(t *testing.T, registryURL string, commanding, service, monitoring int) string {
	t.Helper()
	var registrySection string
	if registryURL != "" {
		registrySection = fmt.Sprintf("registry:\n  url: %s\n", registryURL)
	}
	path := filepath.Join(t.TempDir(), "settings.yaml")
	settings := fmt.Sprintf(`
logging:
  level: warn
%scontrol_servers:
  PSU-T:
    HOSTNAME: 127.0.0.1
    COMMANDING_PORT: %d
    SERVICE_PORT: %d
    MONITORING_PORT: %d
    HK_DELAY: 0.1
`, registrySection, commanding, service, monitoring)
	if err := os.WriteFile(path, []byte(settings), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestMainUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"launch"}, 2},
		{"help", []string{"help"}, 0},
		{"missing device", []string{"status"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := Main(testFamily(), tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("Expected exit code %d, got %d (%s)", tt.code, code, stderr.String())
			}
		})
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		args   []string
		wantID string
		sim    bool
	}{
		{[]string{"PSU-1"}, "PSU-1", false},
		{[]string{"PSU-1", "-sim"}, "PSU-1", true},
		{[]string{"-sim", "PSU-1"}, "PSU-1", true},
	}

	for _, tt := range tests {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		sim := fs.Bool("sim", false, "")
		id, err := commandArgs(fs, tt.args)
		if err != nil {
			t.Fatalf("commandArgs(%v): %v", tt.args, err)
		}
		if id != tt.wantID || *sim != tt.sim {
			t.Errorf("commandArgs(%v): expected %s/%v, got %s/%v", tt.args, tt.wantID, tt.sim, id, *sim)
		}
	}
}

func TestStatusNotActive(t *testing.T) {
	path := writeSettings(t)

	var stdout, stderr bytes.Buffer
	if code := Main(testFamily(), []string{"status", "PSU-T", "-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "not active") {
		t.Errorf("Expected not active, got %q", stdout.String())
	}
}

func TestStartStatusStop(t *testing.T) {
	startStatusStop(t, writeSettings(t))
}

func TestStartStatusStopThroughRedis(t *testing.T) {
	m := miniredis.RunT(t)
	path := writeSettingsFile(t, "redis://"+m.Addr()+"/0", 0, 0, 0)

	startStatusStop(t, path)

	var stdout, stderr bytes.Buffer
	if code := Main(testFamily(), []string{"status", "PSU-T", "-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("Expected exit code 0, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "not active") {
		t.Errorf("Expected not active after stop, got %q", stdout.String())
	}
	for _, key := range m.Keys() {
		if strings.Contains(key, ":service:") {
			t.Errorf("Expected the registration to be removed, found %s", key)
		}
	}
}

func TestStartRejectsUnreachablePorts(t *testing.T) {
	path := writeSettingsFile(t, "", 0, 0, 0)

	var stdout, stderr bytes.Buffer
	if code := Main(testFamily(), []string{"start", "PSU-T", "-sim", "-config", path}, &stdout, &stderr); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "ports must be fixed") {
		t.Errorf("Expected a port error, got %q", stderr.String())
	}
}

// startStatusStop runs start in the background and drives it with separate
// status and stop invocations that only share the settings file.
func startStatusStop(t *testing.T, path string) {
	t.Helper()
	f := testFamily()

	var startOut, startErr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- Main(f, []string{"start", "PSU-T", "-sim", "-config", path}, &startOut, &startErr)
	}()

	var report string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var stdout, stderr bytes.Buffer
		Main(f, []string{"status", "PSU-T", "-config", path}, &stdout, &stderr)
		if strings.Contains(stdout.String(), "Status: active") {
			report = stdout.String()
			break
		}
		select {
		case code := <-done:
			t.Fatalf("start exited early with %d: %s", code, startErr.String())
		case <-time.After(50 * time.Millisecond):
		}
	}
	if report == "" {
		t.Fatal("Control server never became active")
	}
	for _, want := range []string{"Mode: simulator, connected", "Instrument: simulated", "Hostname: 127.0.0.1", "Commanding port:"} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected %q in status report:\n%s", want, report)
		}
	}
	if strings.Contains(report, "Commanding port: 0") {
		t.Errorf("Expected the bound commanding port in the report:\n%s", report)
	}

	var stdout, stderr bytes.Buffer
	if code := Main(f, []string{"stop", "PSU-T", "-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("stop failed with %d: %s", code, stderr.String())
	}

	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("Expected start to exit with 0, got %d: %s", code, startErr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after stop")
	}
}
