package awg

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/scpi"
)

// Protocol exposes a TGF4000 to its control server.
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
// A failed connection is logged; the control server starts regardless.
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
		p.logger.Warn("could not connect to the AWG, check that it is powered on", "error", err)
	}
	return p, nil
}

func (p *Protocol) Device() device.Interface {
	return p.dev
}

func (p *Protocol) ServiceType() string {
	return ServiceType
}

// Housekeeping reports the timestamp and, when connected, the carrier of the
// selected channel.
func (p *Protocol) Housekeeping(ctx context.Context) map[string]interface{} {
	hk := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !p.dev.IsConnected(ctx) {
		return hk
	}

	collect := func(key string, fn func() (interface{}, error)) {
		v, err := fn()
		if err != nil {
			p.logger.Debug("housekeeping read failed", "parameter", key, "error", err)
			return
		}
		hk[key] = v
	}
	collect("channel", func() (interface{}, error) { return p.dev.GetChannel(ctx) })
	collect("frequency", func() (interface{}, error) { return p.dev.GetFrequency(ctx) })
	collect("amplitude", func() (interface{}, error) { return p.dev.GetAmplitude(ctx) })
	collect("dc_offset", func() (interface{}, error) { return p.dev.GetDCOffset(ctx) })
	collect("output", func() (interface{}, error) { return p.dev.GetOutput(ctx) })
	return hk
}

func enumSetter[T ~string](name, description string, fn func(context.Context, T) error) commands.Handler {
	return commands.StringSetter(name, description, func(ctx context.Context, v string) error {
		return fn(ctx, T(strings.ToUpper(strings.TrimSpace(v))))
	})
}

// Handlers lists the JSON-RPC methods of the control server.
func (p *Protocol) Handlers() []commands.Handler {
	d := p.dev
	handlers := commands.DeviceHandlers(d)
	return append(handlers,
		commands.IntSetter(opSetChannel, "Select the channel (1 or 2)", d.SetChannel),
		commands.Getter(opGetChannel, "Selected channel", d.GetChannel),
		enumSetter(opSetWaveform, "Set the waveform type", d.SetWaveform),
		commands.Getter(opGetWaveform, "Waveform type", d.GetWaveform),
		commands.FloatSetter(opSetFrequency, "Set the frequency [Hz]", d.SetFrequency),
		commands.Getter(opGetFrequency, "Frequency [Hz]", d.GetFrequency),
		commands.FloatSetter(opSetPeriod, "Set the period [s]", d.SetPeriod),
		commands.Getter(opGetPeriod, "Period [s]", d.GetPeriod),
		enumSetter(opSetAmplitudeRange, "Set the amplitude range (AUTO or HOLD)", d.SetAmplitudeRange),
		commands.Getter(opGetAmplitudeRange, "Amplitude range", d.GetAmplitudeRange),
		commands.FloatSetter(opSetAmplitude, "Set the amplitude [Vpp]", d.SetAmplitude),
		commands.Getter(opGetAmplitude, "Amplitude [Vpp]", d.GetAmplitude),
		commands.FloatSetter(opSetHighLevel, "Set the amplitude high level [V]", d.SetHighLevel),
		commands.Getter(opGetHighLevel, "Amplitude high level [V]", d.GetHighLevel),
		commands.FloatSetter(opSetLowLevel, "Set the amplitude low level [V]", d.SetLowLevel),
		commands.Getter(opGetLowLevel, "Amplitude low level [V]", d.GetLowLevel),
		commands.FloatSetter(opSetDCOffset, "Set the DC offset [V]", d.SetDCOffset),
		commands.Getter(opGetDCOffset, "DC offset [V]", d.GetDCOffset),
		commands.FloatSetter(opSetPhase, "Set the phase [deg]", d.SetPhase),
		commands.Getter(opGetPhase, "Phase [deg]", d.GetPhase),
		commands.FloatSetter(opSetSquareSymmetry, "Set the square wave symmetry [%]", d.SetSquareSymmetry),
		commands.Getter(opGetSquareSymmetry, "Square wave symmetry [%]", d.GetSquareSymmetry),
		commands.FloatSetter(opSetRampSymmetry, "Set the ramp symmetry [%]", d.SetRampSymmetry),
		commands.Getter(opGetRampSymmetry, "Ramp symmetry [%]", d.GetRampSymmetry),
		enumSetter(opSetOutput, "Set the output (ON, OFF, NORMAL, INVERT)", d.SetOutput),
		commands.Getter(opGetOutput, "Output status", d.GetOutput),
		enumSetter(opSetOutputLoad, "Set the output load [ohm] or OPEN", func(ctx context.Context, v string) error {
			return d.SetOutputLoad(ctx, v)
		}),
		commands.Getter(opGetOutputLoad, "Output load", d.GetOutputLoad),
		enumSetter(opSetSyncOutput, "Switch the sync output", d.SetSyncOutput),
		commands.Getter(opGetSyncOutput, "Sync output", d.GetSyncOutput),
		enumSetter(opSetSyncType, "Set the sync type", d.SetSyncType),
		commands.Getter(opGetSyncType, "Sync type", d.GetSyncType),
		enumSetter(opSetChannel2Config, "Set the channel 2 configuration", d.SetChannel2Config),
		commands.Getter(opGetChannel2Config, "Channel 2 configuration", d.GetChannel2Config),
		commands.Action(opAlign, "Align the phases of both channels", d.Align),

		enumSetter(opSelectArbWaveform, "Select the arbitrary waveform", func(ctx context.Context, v string) error {
			return d.SelectArbWaveform(ctx, v)
		}),
		commands.Getter(opGetArbWaveform, "Selected arbitrary waveform", d.GetArbWaveform),
		commands.NewFuncHandler(opDefineArb, "Define an ARB slot: slot, name, interpolation", false, p.defineArb),
		commands.NewFuncHandler(opLoadArbData, "Load ARB samples: slot, hex string", false, p.loadArbData),
		commands.IntGetter(opGetArbData, "ARB samples of a slot as a hex string", func(ctx context.Context, slot int) (string, error) {
			data, err := d.GetArbData(ctx, slot)
			if err != nil {
				return "", err
			}
			return data.HexString(), nil
		}),
		commands.IntGetter(opGetArbDefinition, "ARB definition of a slot", d.GetArbDefinition),
		commands.NewFuncHandler(opResizeArb, "Resize an ARB slot: slot, size", false, p.resizeArb),
		commands.FloatSetter(opSetArbDCOffset, "Set the ARB DC offset [V]", d.SetArbDCOffset),
		commands.Getter(opGetArbDCOffset, "ARB DC offset [V]", d.GetArbDCOffset),
		enumSetter(opSetArbFilter, "Set the ARB filter (NORMAL or STEP)", d.SetArbFilter),
		commands.Getter(opGetArbFilter, "ARB filter", d.GetArbFilter),

		enumSetter(opSetCounterStatus, "Switch the frequency counter", d.SetCounterStatus),
		commands.Getter(opGetCounterStatus, "Frequency counter status", d.GetCounterStatus),
		enumSetter(opSetCounterSource, "Set the counter coupling (AC or DC)", d.SetCounterSource),
		commands.Getter(opGetCounterSource, "Counter coupling", d.GetCounterSource),
		enumSetter(opSetCounterType, "Set the counter measurement", d.SetCounterType),
		commands.Getter(opGetCounterType, "Counter measurement", d.GetCounterType),
		commands.Getter(opGetCounterValue, "Counter reading", d.GetCounterValue),

		commands.Action(opClearStatus, "Clear the status registers", d.ClearStatus),
		commands.Action(opReset, "Reset to the factory defaults", d.Reset),
		commands.Getter(opGetID, "Instrument identification", d.GetID),
		commands.Getter(opGetStatusByte, "Status byte register", d.GetStatusByte),
		commands.Getter(opGetEventStatus, "Standard event status register", d.GetEventStatus),
		commands.Getter(opGetExecutionErrors, "Execution error register", d.GetExecutionErrors),
		commands.Getter(opGetQueryErrors, "Query error register", d.GetQueryErrors),
		commands.Getter(opOperationComplete, "Operation complete query", d.OperationComplete),
		commands.Action(opTrigger, "Bus trigger", d.Trigger),
		commands.Action(opWait, "Wait for pending operations", d.Wait),
		commands.IntSetter(opSaveSetup, "Save the setup to a store (0-9)", d.SaveSetup),
		commands.IntSetter(opRecallSetup, "Recall the setup from a store (0-9)", d.RecallSetup),

		enumSetter(opSetBeepMode, "Set the beep mode", d.SetBeepMode),
		commands.Getter(opGetBeepMode, "Beep mode", d.GetBeepMode),
		commands.Action(opBeep, "Beep once", d.Beep),
		commands.Action(opLocal, "Return to local control", d.Local),
		commands.Getter(opGetAddress, "Bus address", d.GetAddress),
		commands.Getter(opGetIPAddress, "IP address", d.GetIPAddress),
		commands.Getter(opGetNetmask, "Netmask", d.GetNetmask),
	)
}

func (p *Protocol) defineArb(ctx context.Context, params []string) (interface{}, error) {
	if err := commands.ExpectParams(params, 3); err != nil {
		return nil, err
	}
	slot, err := commands.ParseInt(params[0])
	if err != nil {
		return nil, err
	}
	interpolation, err := commands.ParseBool(params[2])
	if err != nil {
		return nil, err
	}
	sw := Off
	if interpolation {
		sw = On
	}
	return nil, p.dev.DefineArb(ctx, slot, params[1], sw)
}

func (p *Protocol) loadArbData(ctx context.Context, params []string) (interface{}, error) {
	if err := commands.ExpectParams(params, 2); err != nil {
		return nil, err
	}
	slot, err := commands.ParseInt(params[0])
	if err != nil {
		return nil, err
	}
	data, err := scpi.ParseHexString(params[1])
	if err != nil {
		return nil, &commands.CommandError{Code: commands.ErrInvalidParams, Message: "Invalid parameters", Details: err.Error()}
	}
	return nil, p.dev.LoadArbData(ctx, slot, data)
}

func (p *Protocol) resizeArb(ctx context.Context, params []string) (interface{}, error) {
	if err := commands.ExpectParams(params, 2); err != nil {
		return nil, err
	}
	slot, err := commands.ParseInt(params[0])
	if err != nil {
		return nil, err
	}
	size, err := commands.ParseInt(params[1])
	if err != nil {
		return nil, err
	}
	return nil, p.dev.ResizeArb(ctx, slot, size)
}
