// Package device defines the contract shared by instrument controllers,
// simulators and proxies, together with the error kinds they report.
//
// Every instrument family exposes one interface with three implementations:
// a controller talking to the hardware through a Transport, an in-process
// simulator, and a proxy forwarding calls to a running control server.
package device

import (
	"context"
)

// ConnectionState describes whether the device behind a control server answers.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connected
)

// String returns the state as reported in status replies.
func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "not connected"
}

// StateOf maps a connection check onto a ConnectionState.
func StateOf(connected bool) ConnectionState {
	if connected {
		return Connected
	}
	return NotConnected
}

// Interface is the connection contract every device implementation satisfies.
type Interface interface {
	// ID returns the device identifier as used in the settings.
	ID() string

	// Connect opens the connection to the device.
	Connect(ctx context.Context) error

	// Disconnect closes the connection to the device.
	Disconnect() error

	// Reconnect closes the connection when open and opens it again.
	Reconnect(ctx context.Context) error

	// IsConnected reports whether the device is connected and answers.
	IsConnected(ctx context.Context) bool

	// IsSimulator reports whether the implementation is a simulator.
	IsSimulator() bool
}

// Transport carries line-based commands to an instrument and returns its replies.
// Implementations allow a single outstanding request at a time.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	IsConnected(ctx context.Context) bool

	// Write sends a command without waiting for a reply.
	Write(ctx context.Context, command string) error

	// Trans sends a command and blocks until the reply arrives or the read times out.
	Trans(ctx context.Context, command string) (string, error)

	// Read returns what the instrument has sent since the last read.
	Read(ctx context.Context) ([]byte, error)
}

// Base provides the identifier bookkeeping shared by implementations.
type Base struct {
	DeviceID string
}

// ID returns the device identifier.
func (b *Base) ID() string {
	return b.DeviceID
}
