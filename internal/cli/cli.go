// Package cli implements the start, stop and status commands shared by the
// device control server binaries.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/SaraRegibo/cgse/internal/audit"
	"github.com/SaraRegibo/cgse/internal/auth"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/controlserver"
	"github.com/SaraRegibo/cgse/internal/logging"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/registry"
	"github.com/SaraRegibo/cgse/internal/storage"
)

// statusTimeout bounds the liveness check of the status command.
const statusTimeout = 2 * time.Second

// OpenFunc builds the protocol of a device, either its controller or its simulator.
type OpenFunc func(ctx context.Context, deviceID string, settings config.DeviceSettings, simulator bool, logger *slog.Logger) (controlserver.Protocol, error)

// Family describes one control server binary.
type Family struct {
	// Command is the binary name used in usage messages.
	Command     string
	Title       string
	ServiceType string
	Open        OpenFunc
	// Describe adds device specific lines to the status report. Optional.
	Describe func(ctx context.Context, ep proxy.Endpoint) []string
}

// Main runs a subcommand and returns the process exit code.
func Main(f Family, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(f, stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "start":
		err = start(f, args[1:], stdout, stderr)
	case "stop":
		err = stop(f, args[1:], stdout)
	case "status":
		err = status(f, args[1:], stdout)
	case "-h", "--help", "help":
		usage(f, stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(f, stderr)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", f.Command, err)
		return 1
	}
	return 0
}

func usage(f Family, w io.Writer) {
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s start <device-id> [-sim] [-config file]\n", f.Command)
	fmt.Fprintf(w, "  %s stop <device-id> [-config file]\n", f.Command)
	fmt.Fprintf(w, "  %s status <device-id> [-config file]\n", f.Command)
}

// commandArgs parses "<device-id> [flags]" as well as "[flags] <device-id>".
func commandArgs(fs *flag.FlagSet, args []string) (string, error) {
	var id string
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		return "", errors.New("missing device id")
	}
	return id, nil
}

func start(f Family, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sim := fs.Bool("sim", false, "drive the simulator instead of the instrument")
	configFile := fs.String("config", "", "settings file")
	deviceID, err := commandArgs(fs, args)
	if err != nil {
		return err
	}

	// Step 1: Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(cfg.Logging, stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()
	logger = logger.With("process", f.Command, "device", deviceID)

	settings, err := cfg.Device(deviceID)
	if err != nil && !*sim {
		return err
	}
	cs, err := cfg.ControlServer(deviceID, f.ServiceType)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "simulator", *sim)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// Step 2: Initialize service registry
	reg, err := registry.Open(ctx, cfg.Registry.URL, registry.RedisOptions{
		Prefix: cfg.Registry.Prefix,
		TTL:    time.Duration(cfg.Registry.TTLSec) * time.Second,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open service registry: %w", err)
	}
	defer reg.Close()

	opts := controlserver.Options{Registry: reg, Logger: logger}

	// Step 3: Initialize housekeeping storage
	if cfg.Storage.Path != "" {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open housekeeping storage: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}

	// Step 4: Initialize audit logger
	if cfg.Audit.Dir != "" {
		auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		defer auditLogger.Close()
		opts.Audit = auditLogger
	}

	// Step 5: Initialize token verification
	if cfg.Auth.Required {
		verifier, err := auth.NewVerifierFromFiles(cfg.Auth.Secret, cfg.Auth.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("failed to initialize token verification: %w", err)
		}
		opts.Verifier = verifier
	}

	// Step 6: Open the device
	protocol, err := f.Open(ctx, deviceID, settings, *sim, logger)
	if err != nil {
		return err
	}

	// Step 7: Serve until a signal or quit_server
	srv := controlserver.New(deviceID, cs, protocol, opts)
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	logger.Info("control server stopped")
	return nil
}

// resolve finds the control server of a device through the settings and the registry.
func resolve(ctx context.Context, f Family, configFile, deviceID string) (proxy.Endpoint, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return proxy.Endpoint{}, err
	}
	cs, err := cfg.ControlServer(deviceID, f.ServiceType)
	if err != nil {
		return proxy.Endpoint{}, err
	}
	reg, err := registry.Open(ctx, cfg.Registry.URL, registry.RedisOptions{Prefix: cfg.Registry.Prefix})
	if err != nil {
		return proxy.Endpoint{}, fmt.Errorf("failed to open service registry: %w", err)
	}
	ep, err := proxy.Resolve(ctx, deviceID, cs, reg)
	return ep, multierr.Append(err, reg.Close())
}

func stop(f Family, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	configFile := fs.String("config", "", "settings file")
	deviceID, err := commandArgs(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	ep, err := resolve(ctx, f, *configFile, deviceID)
	if err != nil {
		return err
	}
	if err := proxy.NewServiceProxy(ep).QuitServer(ctx); err != nil {
		return fmt.Errorf("could not stop the %s control server: %w", f.Title, err)
	}
	fmt.Fprintf(stdout, "Sent quit_server to the %s control server of %s\n", f.Title, deviceID)
	return nil
}

func status(f Family, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configFile := fs.String("config", "", "settings file")
	deviceID, err := commandArgs(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	ep, err := resolve(ctx, f, *configFile, deviceID)
	if err != nil || !controlserver.IsActive(ctx, ep, statusTimeout) {
		fmt.Fprintf(stdout, "%s control server (%s): not active\n", f.Title, deviceID)
		return nil
	}
	writeStatus(ctx, f, ep, stdout)
	return nil
}

func writeStatus(ctx context.Context, f Family, ep proxy.Endpoint, w io.Writer) {
	dev := proxy.NewDevice(proxy.NewClient(ep))

	mode := controlserver.ModeDevice
	if dev.IsSimulator() {
		mode = controlserver.ModeSimulator
	}
	connected := "connected"
	if !dev.IsConnected(ctx) {
		connected = "not connected"
	}

	fmt.Fprintf(w, "%s control server (%s):\n", f.Title, ep.DeviceID)
	fmt.Fprintf(w, "  Status: active\n")
	fmt.Fprintf(w, "  Mode: %s, %s\n", mode, connected)
	if f.Describe != nil {
		for _, line := range f.Describe(ctx, ep) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintf(w, "  Hostname: %s\n", ep.Host)
	fmt.Fprintf(w, "  Commanding port: %d\n", ep.Port)
	fmt.Fprintf(w, "  Service port: %d\n", ep.ServicePort)
	fmt.Fprintf(w, "  Monitoring port: %d\n", ep.MonitoringPort)
}

// Run is Main with the process arguments and exit.
func Run(f Family) {
	os.Exit(Main(f, os.Args[1:], os.Stdout, os.Stderr))
}
