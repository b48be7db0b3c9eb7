package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/SaraRegibo/cgse/internal/device"
)

// SerialConfig describes an RS-232 connection to an instrument.
type SerialConfig struct {
	DeviceID    string
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration
	CmdDelay    time.Duration
	Identify    IdentityCheck
	Logger      *slog.Logger
}

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// Serial is a line-based SCPI transport over a serial port. A reply ends at
// the line terminator or when the port stays silent for the read timeout.
type Serial struct {
	cfg    SerialConfig
	logger *slog.Logger

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a closed serial transport.
func NewSerial(cfg SerialConfig) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Serial{
		cfg:    cfg,
		logger: loggerOrDefault(cfg.Logger).With("device_id", cfg.DeviceID, "transport", "serial"),
	}
}

// Connect opens the port and verifies the instrument identity.
func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		s.logger.Warn("trying to connect to an already open serial port")
		return nil
	}
	if s.cfg.PortName == "" {
		return fmt.Errorf("%s: serial port is not initialized", s.cfg.DeviceID)
	}

	port, err := openPort(s.cfg.PortName, &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return device.ConnectionError(s.cfg.DeviceID, "cannot open "+s.cfg.PortName, err)
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		return device.ConnectionError(s.cfg.DeviceID, "cannot set read timeout", multierr.Append(err, port.Close()))
	}
	s.port = port

	reply, err := s.transLocked(ctx, identityQuery)
	if err != nil {
		s.closeLocked()
		return device.ConnectionError(s.cfg.DeviceID, "device did not respond to identification", err)
	}
	if !checkIdentity(reply, s.cfg.Identify) {
		s.closeLocked()
		return device.ConnectionError(s.cfg.DeviceID, fmt.Sprintf("unexpected identification %q", decodeReply(reply)), nil)
	}

	s.logger.Info("connected", "port", s.cfg.PortName, "baud_rate", s.cfg.BaudRate)
	return nil
}

// Disconnect closes the port when open.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	if err := s.closeLocked(); err != nil {
		return device.ConnectionError(s.cfg.DeviceID, "could not close "+s.cfg.PortName, err)
	}
	return nil
}

// Reconnect closes an open port and opens it again.
func (s *Serial) Reconnect(ctx context.Context) error {
	if err := s.Disconnect(); err != nil {
		s.logger.Warn("disconnect before reconnect failed", "error", err)
	}
	return s.Connect(ctx)
}

// IsConnected sends *IDN? and applies the identity check.
func (s *Serial) IsConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return false
	}
	reply, err := s.transLocked(ctx, identityQuery)
	if err != nil || !checkIdentity(reply, s.cfg.Identify) {
		s.logger.Error("device is not connected, check cable and device status", "error", err)
		s.closeLocked()
		return false
	}
	return true
}

// Write sends a command without waiting for a reply.
func (s *Serial) Write(ctx context.Context, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, command)
}

// Trans sends a command and returns the reply.
func (s *Serial) Trans(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.transLocked(ctx, command)
	if err != nil {
		return "", err
	}
	return decodeReply(reply), nil
}

// Read returns one reply line.
func (s *Serial) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

func (s *Serial) transLocked(ctx context.Context, command string) ([]byte, error) {
	if err := s.writeLocked(ctx, command); err != nil {
		return nil, err
	}
	return s.readLocked(ctx)
}

func (s *Serial) writeLocked(ctx context.Context, command string) error {
	if s.port == nil {
		return device.ErrNotConnected
	}
	if _, err := s.port.Write([]byte(withTerminator(command))); err != nil {
		s.dropLocked("write", err)
		return device.ConnectionError(s.cfg.DeviceID, "serial write failed", err)
	}
	return sleepCtx(ctx, s.cfg.CmdDelay)
}

func (s *Serial) readLocked(ctx context.Context) ([]byte, error) {
	if s.port == nil {
		return nil, device.ErrNotConnected
	}

	var response []byte
	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			s.dropLocked("read", err)
			return nil, device.Normalize(s.cfg.DeviceID, err)
		}
		n, err := s.port.Read(buf)
		if err != nil {
			s.dropLocked("read", err)
			return nil, device.ConnectionError(s.cfg.DeviceID, "serial read failed", err)
		}
		// go.bug.st/serial reports a read timeout as zero bytes.
		if n == 0 {
			if len(response) == 0 {
				s.dropLocked("read", errors.New("read timeout"))
				return nil, device.TimeoutError(s.cfg.DeviceID, "no reply within "+s.cfg.ReadTimeout.String(), nil)
			}
			break
		}
		response = append(response, buf[:n]...)
		if bytes.HasSuffix(response, []byte("\n")) {
			break
		}
	}
	return response, nil
}

// dropLocked closes the port after a failed exchange so that a late reply
// is not read as the answer to the next command.
func (s *Serial) dropLocked(op string, err error) {
	s.logger.Warn("closing serial port after failed "+op, "port", s.cfg.PortName, "error", err)
	s.closeLocked()
}

func (s *Serial) closeLocked() error {
	port := s.port
	s.port = nil
	if port == nil {
		return nil
	}
	return multierr.Combine(port.ResetInputBuffer(), port.Close())
}
