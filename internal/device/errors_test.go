package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "context deadline", err: context.DeadlineExceeded, expected: ErrTimeout},
		{name: "socket deadline", err: fmt.Errorf("read: %w", os.ErrDeadlineExceeded), expected: ErrTimeout},
		{name: "net timeout", err: timeoutNetError{}, expected: ErrTimeout},
		{name: "eof", err: io.EOF, expected: ErrConnection},
		{name: "closed", err: net.ErrClosed, expected: ErrConnection},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, expected: ErrConnection},
		{name: "reset", err: syscall.ECONNRESET, expected: ErrConnection},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "awg"}, expected: ErrConnection},
		{name: "other", err: errors.New("bad reply"), expected: ErrDevice},
		{name: "already classified", err: ErrNotConnected, expected: ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize("AWG-1", tt.err)
			if !errors.Is(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Expected cause %v to be preserved in %v", tt.err, got)
			}
		})
	}

	if Normalize("AWG-1", nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestErrorMessage(t *testing.T) {
	err := ConnectionError("PSU-1", "socket communication error", io.EOF)
	expected := "PSU-1: socket communication error: EOF"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	var devErr *Error
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if devErr.DeviceID != "PSU-1" {
		t.Errorf("Expected device ID PSU-1, got %s", devErr.DeviceID)
	}

	if got := DeviceError("", "bad reply", nil).Error(); got != "bad reply" {
		t.Errorf("Expected bare message, got %q", got)
	}
}

func TestCodeRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{TimeoutError("AWG-1", "timeout", nil), "TIMEOUT"},
		{ConnectionError("AWG-1", "closed", nil), "CONNECTION"},
		{ErrNotConnected, "CONNECTION"},
		{DeviceError("AWG-1", "bad", nil), "DEVICE"},
		{errors.New("boom"), "INTERNAL"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %s, expected %s", tt.err, got, tt.code)
		}
	}
}

func TestKindFromCode(t *testing.T) {
	tests := map[string]error{
		"TIMEOUT":       ErrTimeout,
		"timed_out":     ErrTimeout,
		"CONNECTION":    ErrConnection,
		"NOT_CONNECTED": ErrConnection,
		" unavailable ": ErrConnection,
		"DEVICE":        ErrDevice,
		"BUSY":          ErrDevice,
		"SOMETHING":     ErrDevice,
	}

	for code, expected := range tests {
		if got := KindFromCode(code); got != expected {
			t.Errorf("KindFromCode(%q) = %v, expected %v", code, got, expected)
		}
	}
}

func TestConnectionState(t *testing.T) {
	if StateOf(true).String() != "connected" {
		t.Errorf("Expected connected, got %s", StateOf(true))
	}
	if StateOf(false).String() != "not connected" {
		t.Errorf("Expected not connected, got %s", StateOf(false))
	}
}
