// Command scpisim serves a simulated SCPI instrument on the address the
// settings give for a device, so that its controller can be exercised
// without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/devsim"
	"github.com/SaraRegibo/cgse/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "start-sim":
		err = startSim(args[1:], stdout, stderr)
	case "stop-sim":
		err = stopSim(args[1:], stdout)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "scpisim: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  scpisim start-sim <device-id> [-profile tgf4000|pmx_a] [-addr host:port] [-config file]\n")
	fmt.Fprintf(w, "  scpisim stop-sim <device-id>\n")
}

func deviceArg(fs *flag.FlagSet, args []string) (string, error) {
	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
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

func startSim(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("start-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileName := fs.String("profile", "", "instrument profile, defaults to the device FAMILY")
	addr := fs.String("addr", "", "listen address, defaults to the device HOSTNAME:PORT")
	configFile := fs.String("config", "", "settings file")
	deviceID, err := deviceArg(fs, args)
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
	logger = logger.With("process", "scpisim", "device", deviceID)

	settings, settingsErr := cfg.Device(deviceID)
	if *profileName == "" {
		if settingsErr != nil {
			return settingsErr
		}
		*profileName = settings.Family
	}
	if *addr == "" {
		if settingsErr != nil {
			return settingsErr
		}
		*addr = net.JoinHostPort(settings.Hostname, strconv.Itoa(settings.Port))
	}

	// Step 2: Build the simulated instrument
	profile, err := devsim.LookupProfile(*profileName)
	if err != nil {
		return err
	}
	inst := devsim.NewInstrument(profile, devsim.Options{})
	defer inst.Close()

	// Step 3: Listen and record the process for stop-sim
	srv := devsim.NewServer(inst, logger)
	if err := srv.Listen(*addr); err != nil {
		return err
	}
	if err := writePID(deviceID); err != nil {
		srv.Close()
		return err
	}
	defer removePID(deviceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("simulator started", "profile", profile.Name, "address", srv.Addr().String())
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	logger.Info("simulator stopped")
	return nil
}

func stopSim(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stop-sim", flag.ContinueOnError)
	deviceID, err := deviceArg(fs, args)
	if err != nil {
		return err
	}

	pid, err := readPID(deviceID)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no simulator running for %s", deviceID)
	}
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		removePID(deviceID)
		return fmt.Errorf("simulator for %s (pid %d) is not running: %w", deviceID, pid, err)
	}
	fmt.Fprintf(stdout, "Sent SIGTERM to the simulator of %s (pid %d)\n", deviceID, pid)
	return nil
}

func pidFile(deviceID string) string {
	return filepath.Join(os.TempDir(), "scpisim-"+deviceID+".pid")
}

func writePID(deviceID string) error {
	return os.WriteFile(pidFile(deviceID), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPID(deviceID string) (int, error) {
	data, err := os.ReadFile(pidFile(deviceID))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file %s: %w", pidFile(deviceID), err)
	}
	return pid, nil
}

func removePID(deviceID string) {
	_ = os.Remove(pidFile(deviceID))
}
