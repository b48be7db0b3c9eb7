package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Error kinds surfaced to callers. Compare with errors.Is.
var (
	ErrConnection = errors.New("CONNECTION")
	ErrTimeout    = errors.New("TIMEOUT")
	ErrDevice     = errors.New("DEVICE")

	// ErrNotConnected is a connection error raised before any I/O was attempted.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)
)

// Error wraps a device failure with the device identifier and its kind.
type Error struct {
	DeviceID string
	Kind     error
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s: %s", e.DeviceID, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ConnectionError builds an ErrConnection for the given device.
func ConnectionError(deviceID, message string, cause error) error {
	return &Error{DeviceID: deviceID, Kind: ErrConnection, Message: message, Err: cause}
}

// TimeoutError builds an ErrTimeout for the given device.
func TimeoutError(deviceID, message string, cause error) error {
	return &Error{DeviceID: deviceID, Kind: ErrTimeout, Message: message, Err: cause}
}

// DeviceError builds an ErrDevice for the given device.
func DeviceError(deviceID, message string, cause error) error {
	return &Error{DeviceID: deviceID, Kind: ErrDevice, Message: message, Err: cause}
}

// KindMap lists the remote error codes that map onto each kind.
type KindMap struct {
	Timeout    []string
	Connection []string
	Device     []string
}

// RemoteErrorMappings translates codes received from a control server back into
// error kinds. Unknown codes map to ErrDevice.
var RemoteErrorMappings = KindMap{
	Timeout: []string{
		"TIMEOUT",
		"TIMED_OUT",
		"DEADLINE_EXCEEDED",
	},
	Connection: []string{
		"CONNECTION",
		"NOT_CONNECTED",
		"CONNECTION_REFUSED",
		"UNAVAILABLE",
	},
	Device: []string{
		"DEVICE",
		"INVALID_PARAMS",
		"INVALID_RANGE",
		"BUSY",
	},
}

// KindFromCode maps a remote error code to an error kind.
func KindFromCode(code string) error {
	upper := strings.ToUpper(strings.TrimSpace(code))

	for _, token := range RemoteErrorMappings.Timeout {
		if upper == token {
			return ErrTimeout
		}
	}
	for _, token := range RemoteErrorMappings.Connection {
		if upper == token {
			return ErrConnection
		}
	}
	return ErrDevice
}

// Code returns the wire code for an error kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrConnection):
		return "CONNECTION"
	case errors.Is(err, ErrDevice):
		return "DEVICE"
	default:
		return "INTERNAL"
	}
}

// Normalize classifies a raw I/O error into one of the device error kinds.
// Errors that already carry a kind are returned unchanged.
func Normalize(deviceID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection) || errors.Is(err, ErrDevice) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return TimeoutError(deviceID, "timeout", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return TimeoutError(deviceID, "socket timeout", err)
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ConnectionError(deviceID, "socket communication error", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ConnectionError(deviceID, "socket communication error", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnectionError(deviceID, "address lookup failed", err)
	}

	return DeviceError(deviceID, "device error", err)
}
