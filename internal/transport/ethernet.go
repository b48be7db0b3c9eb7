package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/SaraRegibo/cgse/internal/device"
)

// EthernetConfig describes a TCP connection to an instrument.
type EthernetConfig struct {
	DeviceID       string
	Hostname       string
	Port           int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// CmdDelay is slept after every write.
	CmdDelay time.Duration
	Identify IdentityCheck
	Logger   *slog.Logger
}

// Ethernet is a line-based SCPI transport over TCP.
type Ethernet struct {
	cfg    EthernetConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewEthernet creates a closed transport; call Connect to open it.
func NewEthernet(cfg EthernetConfig) *Ethernet {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Ethernet{
		cfg:    cfg,
		logger: loggerOrDefault(cfg.Logger).With("device_id", cfg.DeviceID, "transport", "ethernet"),
	}
}

// Address returns host:port of the instrument.
func (e *Ethernet) Address() string {
	return net.JoinHostPort(e.cfg.Hostname, strconv.Itoa(e.cfg.Port))
}

// Connect opens the socket and verifies the instrument identity.
func (e *Ethernet) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		e.logger.Warn("trying to connect to an already connected socket")
		return nil
	}
	if e.cfg.Hostname == "" {
		return fmt.Errorf("%s: hostname is not initialized", e.cfg.DeviceID)
	}
	if e.cfg.Port == 0 {
		return fmt.Errorf("%s: port number is not initialized", e.cfg.DeviceID)
	}

	dialer := net.Dialer{Timeout: e.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.Address())
	if err != nil {
		e.logger.Error("cannot connect", "address", e.Address(), "error", err)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return device.TimeoutError(e.cfg.DeviceID, "connection to "+e.Address()+" timed out", err)
		}
		return device.ConnectionError(e.cfg.DeviceID, "cannot connect to "+e.Address(), err)
	}
	e.conn = conn

	reply, err := e.transLocked(ctx, identityQuery)
	if err != nil {
		e.closeLocked()
		return device.ConnectionError(e.cfg.DeviceID, "device did not respond to identification", err)
	}
	if !checkIdentity(reply, e.cfg.Identify) {
		e.closeLocked()
		return device.ConnectionError(e.cfg.DeviceID, fmt.Sprintf("unexpected identification %q", decodeReply(reply)), nil)
	}

	e.logger.Info("connected", "address", e.Address())
	return nil
}

// Disconnect closes the socket when open.
func (e *Ethernet) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	if err := e.closeLocked(); err != nil {
		return device.ConnectionError(e.cfg.DeviceID, "could not close socket to "+e.Address(), err)
	}
	e.logger.Info("disconnected", "address", e.Address())
	return nil
}

// Reconnect closes an open socket and connects again.
func (e *Ethernet) Reconnect(ctx context.Context) error {
	if err := e.Disconnect(); err != nil {
		e.logger.Warn("disconnect before reconnect failed", "error", err)
	}
	return e.Connect(ctx)
}

// IsConnected sends *IDN? and applies the identity check. A failing check
// closes the socket.
func (e *Ethernet) IsConnected(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return false
	}
	reply, err := e.transLocked(ctx, identityQuery)
	if err != nil || !checkIdentity(reply, e.cfg.Identify) {
		e.logger.Error("device is not connected, check network connection and device status", "error", err)
		e.closeLocked()
		return false
	}
	return true
}

// Write sends a command without waiting for a reply.
func (e *Ethernet) Write(ctx context.Context, command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeLocked(ctx, command)
}

// Trans sends a command and returns the reply.
func (e *Ethernet) Trans(ctx context.Context, command string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reply, err := e.transLocked(ctx, command)
	if err != nil {
		return "", err
	}
	return decodeReply(reply), nil
}

// Read returns the bytes the instrument sends until a short chunk arrives.
func (e *Ethernet) Read(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readLocked(ctx)
}

func (e *Ethernet) transLocked(ctx context.Context, command string) ([]byte, error) {
	if err := e.writeLocked(ctx, command); err != nil {
		return nil, err
	}
	return e.readLocked(ctx)
}

func (e *Ethernet) writeLocked(ctx context.Context, command string) error {
	if e.conn == nil {
		return device.ErrNotConnected
	}

	stop := e.bindContext(ctx, e.cfg.ReadTimeout)
	_, err := e.conn.Write([]byte(withTerminator(command)))
	stop()
	if err != nil {
		e.dropLocked("write", err)
		return device.Normalize(e.cfg.DeviceID, err)
	}

	return sleepCtx(ctx, e.cfg.CmdDelay)
}

func (e *Ethernet) readLocked(ctx context.Context) ([]byte, error) {
	if e.conn == nil {
		return nil, device.ErrNotConnected
	}

	stop := e.bindContext(ctx, e.cfg.ReadTimeout)
	defer stop()

	var response []byte
	buf := make([]byte, ChunkSize)
	for {
		n, err := e.conn.Read(buf)
		response = append(response, buf[:n]...)
		if err != nil {
			e.dropLocked("read", err)
			return nil, device.Normalize(e.cfg.DeviceID, err)
		}
		if n < ChunkSize {
			break
		}
	}
	return response, nil
}

// bindContext sets the I/O deadline to the earlier of timeout and the context
// deadline, and aborts pending I/O when the context is cancelled.
func (e *Ethernet) bindContext(ctx context.Context, timeout time.Duration) func() {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn := e.conn
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

// dropLocked closes the socket after a failed exchange. A reply that arrives
// late would otherwise be read as the answer to the next command, so the
// caller has to Reconnect.
func (e *Ethernet) dropLocked(op string, err error) {
	e.logger.Warn("closing socket after failed "+op, "address", e.Address(), "error", err)
	e.closeLocked()
}

func (e *Ethernet) closeLocked() error {
	conn := e.conn
	e.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Close()
}
