// Package psu drives the Kikusui PMX-A series of DC power supplies.
package psu

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/scpi"
	"github.com/SaraRegibo/cgse/internal/transport"
)

// ServiceType is the default registry service type of the control server.
const ServiceType = "pmx_a_cs"

// Identify accepts the *IDN? reply of a PMX-A.
var Identify = transport.IdentityContains("KIKUSUI", "PMX")

// Identity is the decoded *IDN? reply.
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

// ErrorEntry is one item of the SYST:ERR? queue. Code 0 means no error.
type ErrorEntry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Interface is the PMX-A command set.
type Interface interface {
	device.Interface

	SetVoltage(ctx context.Context, v float64) error
	GetVoltage(ctx context.Context) (float64, error)
	SetCurrent(ctx context.Context, a float64) error
	GetCurrent(ctx context.Context) (float64, error)
	SetOutput(ctx context.Context, on bool) error
	GetOutput(ctx context.Context) (bool, error)
	MeasureVoltage(ctx context.Context) (float64, error)
	MeasureCurrent(ctx context.Context) (float64, error)

	SetOverVoltageProtection(ctx context.Context, v float64) error
	GetOverVoltageProtection(ctx context.Context) (float64, error)
	SetOverCurrentProtection(ctx context.Context, a float64) error
	GetOverCurrentProtection(ctx context.Context) (float64, error)
	ClearProtection(ctx context.Context) error

	Reset(ctx context.Context) error
	ClearStatus(ctx context.Context) error
	GetID(ctx context.Context) (Identity, error)
	GetError(ctx context.Context) (ErrorEntry, error)
}

// parseIdentity decodes "KIKUSUI,PMX18-5A,AB123456,IFC01.00.0011 IOC01.00.0007".
func parseIdentity(b []byte) (interface{}, error) {
	s := strings.TrimSpace(scpi.DecodeLatin1(b))
	fields := strings.SplitN(s, ",", 4)
	if len(fields) < 3 {
		return nil, fmt.Errorf("identification needs at least 3 fields, got %q", s)
	}
	id := Identity{
		Manufacturer: strings.TrimSpace(fields[0]),
		Model:        strings.TrimSpace(fields[1]),
		Serial:       strings.TrimSpace(fields[2]),
	}
	if len(fields) == 4 {
		id.Firmware = strings.TrimSpace(fields[3])
	}
	return id, nil
}

// parseError decodes `-222,"Data out of range"`.
func parseError(b []byte) (interface{}, error) {
	s := strings.TrimSpace(scpi.DecodeLatin1(b))
	code, msg, _ := strings.Cut(s, ",")
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("error code: %w", err)
	}
	return ErrorEntry{Code: n, Message: strings.Trim(strings.TrimSpace(msg), `"`)}, nil
}

func invalidParam(format string, args ...interface{}) error {
	return &commands.CommandError{
		Code:    commands.ErrInvalidParams,
		Message: "Invalid parameters",
		Details: fmt.Sprintf(format, args...),
	}
}

func checkNonNegative(what string, v float64) error {
	if v < 0 {
		return invalidParam("%s must not be negative, got %g", what, v)
	}
	return nil
}
