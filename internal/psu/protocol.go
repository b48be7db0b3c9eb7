package psu

import (
	"context"
	"log/slog"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
)

// Protocol exposes a PMX-A to its control server.
type Protocol struct {
	dev    Interface
	logger *slog.Logger
}

// NewProtocol wraps an already constructed device.
func NewProtocol(dev Interface, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{dev: dev, logger: logger.With("device", dev.ID())}
}

// OpenProtocol selects the simulator or the controller and connects it.
// A failed connection is only logged.
func OpenProtocol(ctx context.Context, deviceID string, settings config.DeviceSettings, simulator bool, logger *slog.Logger) (*Protocol, error) {
	var dev Interface
	if simulator {
		dev = NewSimulator(deviceID)
	} else {
		ctrl, err := NewController(deviceID, settings, logger)
		if err != nil {
			return nil, err
		}
		dev = ctrl
	}

	p := NewProtocol(dev, logger)
	if err := dev.Connect(ctx); err != nil {
		p.logger.Warn("could not connect to the power supply", "error", err)
	}
	return p, nil
}

func (p *Protocol) Device() device.Interface { return p.dev }

func (p *Protocol) ServiceType() string { return ServiceType }

// Housekeeping reports set-points, read-backs and the output state.
func (p *Protocol) Housekeeping(ctx context.Context) map[string]interface{} {
	hk := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !p.dev.IsConnected(ctx) {
		return hk
	}

	reads := []struct {
		key string
		fn  func(context.Context) (float64, error)
	}{
		{"voltage_setpoint", p.dev.GetVoltage},
		{"current_setpoint", p.dev.GetCurrent},
		{"voltage", p.dev.MeasureVoltage},
		{"current", p.dev.MeasureCurrent},
	}
	for _, r := range reads {
		v, err := r.fn(ctx)
		if err != nil {
			p.logger.Debug("housekeeping read failed", "parameter", r.key, "error", err)
			continue
		}
		hk[r.key] = v
	}
	if on, err := p.dev.GetOutput(ctx); err == nil {
		hk["output"] = on
	}
	return hk
}

// Handlers lists the JSON-RPC methods of the control server.
func (p *Protocol) Handlers() []commands.Handler {
	d := p.dev
	return append(commands.DeviceHandlers(d),
		commands.FloatSetter(opSetVoltage, "Set the output voltage [V]", d.SetVoltage),
		commands.Getter(opGetVoltage, "Voltage set-point [V]", d.GetVoltage),
		commands.FloatSetter(opSetCurrent, "Set the current limit [A]", d.SetCurrent),
		commands.Getter(opGetCurrent, "Current set-point [A]", d.GetCurrent),
		commands.BoolSetter(opSetOutput, "Switch the output on or off", d.SetOutput),
		commands.Getter(opGetOutput, "Output state", d.GetOutput),
		commands.Getter(opMeasureVoltage, "Measured output voltage [V]", d.MeasureVoltage),
		commands.Getter(opMeasureCurrent, "Measured output current [A]", d.MeasureCurrent),
		commands.FloatSetter(opSetOVP, "Set the over-voltage protection [V]", d.SetOverVoltageProtection),
		commands.Getter(opGetOVP, "Over-voltage protection [V]", d.GetOverVoltageProtection),
		commands.FloatSetter(opSetOCP, "Set the over-current protection [A]", d.SetOverCurrentProtection),
		commands.Getter(opGetOCP, "Over-current protection [A]", d.GetOverCurrentProtection),
		commands.Action(opClearProtection, "Clear a protection trip", d.ClearProtection),
		commands.Action(opReset, "Reset to the factory defaults", d.Reset),
		commands.Action(opClearStatus, "Clear the status registers", d.ClearStatus),
		commands.Getter(opGetID, "Instrument identification", d.GetID),
		commands.Getter(opGetError, "Oldest entry of the error queue", d.GetError),
	)
}
