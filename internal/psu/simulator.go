package psu

import (
	"context"
	"sync"

	"github.com/SaraRegibo/cgse/internal/device"
)

// Ratings of the simulated PMX18-5A.
const (
	MaxVoltage = 18.0
	MaxCurrent = 5.0
)

// Simulator models the output stage: measurements follow the set-points while
// the output is on, and a protection trip switches the output off until the
// protection is cleared.
type Simulator struct {
	device.Base

	mu        sync.Mutex
	connected bool
	voltage   float64
	current   float64
	output    bool
	ovp       float64
	ocp       float64
	tripped   bool
	errors    []ErrorEntry
}

var _ Interface = (*Simulator)(nil)

// NewSimulator returns a connected simulator with the output off.
func NewSimulator(deviceID string) *Simulator {
	s := &Simulator{Base: device.Base{DeviceID: deviceID}, connected: true}
	s.resetLocked()
	return s
}

func (s *Simulator) resetLocked() {
	s.voltage = 0
	s.current = MaxCurrent
	s.output = false
	s.ovp = MaxVoltage * 1.1
	s.ocp = MaxCurrent * 1.1
	s.tripped = false
}

// checkProtectionLocked trips the output when a set-point exceeds its limit.
func (s *Simulator) checkProtectionLocked() {
	if !s.output {
		return
	}
	if s.voltage > s.ovp || s.current > s.ocp {
		s.output = false
		s.tripped = true
		s.errors = append(s.errors, ErrorEntry{Code: -200, Message: "Execution error; protection tripped"})
	}
}

func (s *Simulator) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Reconnect(ctx context.Context) error { return s.Connect(ctx) }

func (s *Simulator) IsConnected(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) IsSimulator() bool { return true }

func (s *Simulator) set(target *float64, what string, v, max float64) error {
	if err := checkNonNegative(what, v); err != nil {
		return err
	}
	if v > max {
		return invalidParam("%s %g exceeds the rating %g", what, v, max)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*target = v
	s.checkProtectionLocked()
	return nil
}

func (s *Simulator) get(v *float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *v, nil
}

func (s *Simulator) SetVoltage(_ context.Context, v float64) error {
	return s.set(&s.voltage, "voltage", v, MaxVoltage)
}

func (s *Simulator) GetVoltage(context.Context) (float64, error) { return s.get(&s.voltage) }

func (s *Simulator) SetCurrent(_ context.Context, a float64) error {
	return s.set(&s.current, "current", a, MaxCurrent)
}

func (s *Simulator) GetCurrent(context.Context) (float64, error) { return s.get(&s.current) }

func (s *Simulator) SetOutput(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && s.tripped {
		return device.DeviceError(s.ID(), "protection tripped, clear it before switching the output on", nil)
	}
	s.output = on
	s.checkProtectionLocked()
	return nil
}

func (s *Simulator) GetOutput(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output, nil
}

func (s *Simulator) MeasureVoltage(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.output {
		return 0, nil
	}
	return s.voltage, nil
}

func (s *Simulator) MeasureCurrent(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.output {
		return 0, nil
	}
	return s.current, nil
}

func (s *Simulator) SetOverVoltageProtection(_ context.Context, v float64) error {
	return s.set(&s.ovp, "OVP", v, MaxVoltage*1.1)
}

func (s *Simulator) GetOverVoltageProtection(context.Context) (float64, error) { return s.get(&s.ovp) }

func (s *Simulator) SetOverCurrentProtection(_ context.Context, a float64) error {
	return s.set(&s.ocp, "OCP", a, MaxCurrent*1.1)
}

func (s *Simulator) GetOverCurrentProtection(context.Context) (float64, error) { return s.get(&s.ocp) }

func (s *Simulator) ClearProtection(context.Context) error {
	s.mu.Lock()
	s.tripped = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Reset(context.Context) error {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return nil
}

func (s *Simulator) ClearStatus(context.Context) error {
	s.mu.Lock()
	s.errors = nil
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetID(context.Context) (Identity, error) {
	return Identity{
		Manufacturer: "KIKUSUI",
		Model:        "PMX18-5A",
		Serial:       "SIM00001",
		Firmware:     "IFC01.00.0011 IOC01.00.0007",
	}, nil
}

// GetError pops the oldest queued error.
func (s *Simulator) GetError(context.Context) (ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return ErrorEntry{Code: 0, Message: "No error"}, nil
	}
	e := s.errors[0]
	s.errors = s.errors[1:]
	return e, nil
}
