// Package awg drives the Aim-TTi TGF4000 arbitrary waveform generator.
//
// The same Interface is implemented by a Controller talking SCPI to the
// instrument, a Simulator holding the state in memory and a Proxy forwarding
// calls to the control server.
package awg

import (
	"context"
	"fmt"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/scpi"
	"github.com/SaraRegibo/cgse/internal/transport"
)

// ServiceType is the default registry service type of the control server.
const ServiceType = "tgf4000_cs"

// Channels is the number of output channels.
const Channels = 2

// ArbSlots is the number of user arbitrary waveform slots (ARB1..ARB4).
const ArbSlots = 4

// Identify accepts the *IDN? reply of a TGF4000.
var Identify = transport.IdentityContains("THURLBY THANDAR", "TGF4")

// Waveform is the carrier waveform type.
type Waveform string

const (
	WaveSine      Waveform = "SINE"
	WaveSquare    Waveform = "SQUARE"
	WaveRamp      Waveform = "RAMP"
	WaveRampUp    Waveform = "RAMPUP"
	WaveRampDown  Waveform = "RAMPDOWN"
	WaveTriangle  Waveform = "TRIANG"
	WavePulse     Waveform = "PULSE"
	WaveNoise     Waveform = "NOISE"
	WavePRBSPN7   Waveform = "PRBSPN7"
	WavePRBSPN9   Waveform = "PRBSPN9"
	WavePRBSPN11  Waveform = "PRBSPN11"
	WavePRBSPN15  Waveform = "PRBSPN15"
	WavePRBSPN20  Waveform = "PRBSPN20"
	WavePRBSPN23  Waveform = "PRBSPN23"
	WavePRBSPN29  Waveform = "PRBSPN29"
	WavePRBSPN31  Waveform = "PRBSPN31"
	WaveArbitrary Waveform = "ARB"
)

// AmplitudeRange is AUTO or HOLD.
type AmplitudeRange string

const (
	RangeAuto AmplitudeRange = "AUTO"
	RangeHold AmplitudeRange = "HOLD"
)

// Output is the state of the main output.
type Output string

const (
	OutputOn     Output = "ON"
	OutputOff    Output = "OFF"
	OutputNormal Output = "NORMAL"
	OutputInvert Output = "INVERT"
)

// Switch is a plain ON/OFF setting.
type Switch string

const (
	On  Switch = "ON"
	Off Switch = "OFF"
)

// SyncType selects what drives the sync output.
type SyncType string

const (
	SyncAuto    SyncType = "AUTO"
	SyncNormal  SyncType = "NORMAL"
	SyncCarrier SyncType = "CARRIER"
	SyncTrigger SyncType = "TRIGGER"
	SyncOff     SyncType = "OFF"
)

// Channel2Config selects the role of the channel 2 connector.
type Channel2Config string

const (
	Channel2MainOut Channel2Config = "MAINOUT"
	Channel2SyncOut Channel2Config = "SYNCOUT"
)

// FilterShape is the ARB output filter.
type FilterShape string

const (
	FilterNormal FilterShape = "NORMAL"
	FilterStep   FilterShape = "STEP"
)

// CounterSource is the counter coupling.
type CounterSource string

const (
	CounterAC CounterSource = "AC"
	CounterDC CounterSource = "DC"
)

// CounterType is the counter measurement.
type CounterType string

const (
	CounterFrequency CounterType = "FREQUENCY"
	CounterPeriod    CounterType = "PERIOD"
	CounterWidth     CounterType = "WIDTH"
	CounterNWidth    CounterType = "NWIDTH"
	CounterDutyCycle CounterType = "DUTY"
)

// BeepMode selects when the instrument beeps.
type BeepMode string

const (
	BeepOn    BeepMode = "ON"
	BeepOff   BeepMode = "OFF"
	BeepWarn  BeepMode = "WARN"
	BeepError BeepMode = "ERROR"
)

// Interface is the full TGF4000 command set.
type Interface interface {
	device.Interface

	// Channel and carrier.
	SetChannel(ctx context.Context, channel int) error
	GetChannel(ctx context.Context) (int, error)
	SetWaveform(ctx context.Context, w Waveform) error
	GetWaveform(ctx context.Context) (Waveform, error)
	SetFrequency(ctx context.Context, hz float64) error
	GetFrequency(ctx context.Context) (float64, error)
	SetPeriod(ctx context.Context, s float64) error
	GetPeriod(ctx context.Context) (float64, error)
	SetAmplitudeRange(ctx context.Context, r AmplitudeRange) error
	GetAmplitudeRange(ctx context.Context) (AmplitudeRange, error)
	SetAmplitude(ctx context.Context, vpp float64) error
	GetAmplitude(ctx context.Context) (float64, error)
	SetHighLevel(ctx context.Context, v float64) error
	GetHighLevel(ctx context.Context) (float64, error)
	SetLowLevel(ctx context.Context, v float64) error
	GetLowLevel(ctx context.Context) (float64, error)
	SetDCOffset(ctx context.Context, v float64) error
	GetDCOffset(ctx context.Context) (float64, error)
	SetPhase(ctx context.Context, degrees float64) error
	GetPhase(ctx context.Context) (float64, error)
	SetSquareSymmetry(ctx context.Context, percent float64) error
	GetSquareSymmetry(ctx context.Context) (float64, error)
	SetRampSymmetry(ctx context.Context, percent float64) error
	GetRampSymmetry(ctx context.Context) (float64, error)
	SetOutput(ctx context.Context, o Output) error
	GetOutput(ctx context.Context) (Output, error)
	SetOutputLoad(ctx context.Context, load string) error
	GetOutputLoad(ctx context.Context) (string, error)
	SetSyncOutput(ctx context.Context, s Switch) error
	GetSyncOutput(ctx context.Context) (Switch, error)
	SetSyncType(ctx context.Context, t SyncType) error
	GetSyncType(ctx context.Context) (SyncType, error)
	SetChannel2Config(ctx context.Context, c Channel2Config) error
	GetChannel2Config(ctx context.Context) (Channel2Config, error)
	Align(ctx context.Context) error

	// Arbitrary waveforms. Slots are numbered 1 to 4.
	SelectArbWaveform(ctx context.Context, name string) error
	GetArbWaveform(ctx context.Context) (string, error)
	DefineArb(ctx context.Context, slot int, name string, interpolation Switch) error
	LoadArbData(ctx context.Context, slot int, data scpi.ArbData) error
	GetArbData(ctx context.Context, slot int) (scpi.ArbData, error)
	GetArbDefinition(ctx context.Context, slot int) (*scpi.ArbDefinition, error)
	ResizeArb(ctx context.Context, slot int, size int) error
	SetArbDCOffset(ctx context.Context, v float64) error
	GetArbDCOffset(ctx context.Context) (float64, error)
	SetArbFilter(ctx context.Context, f FilterShape) error
	GetArbFilter(ctx context.Context) (FilterShape, error)

	// Frequency counter.
	SetCounterStatus(ctx context.Context, s Switch) error
	GetCounterStatus(ctx context.Context) (Switch, error)
	SetCounterSource(ctx context.Context, s CounterSource) error
	GetCounterSource(ctx context.Context) (CounterSource, error)
	SetCounterType(ctx context.Context, t CounterType) error
	GetCounterType(ctx context.Context) (CounterType, error)
	GetCounterValue(ctx context.Context) (float64, error)

	// Common commands.
	ClearStatus(ctx context.Context) error
	Reset(ctx context.Context) error
	GetID(ctx context.Context) (scpi.InstrumentID, error)
	GetStatusByte(ctx context.Context) (int, error)
	GetEventStatus(ctx context.Context) (int, error)
	GetExecutionErrors(ctx context.Context) (int, error)
	GetQueryErrors(ctx context.Context) (int, error)
	OperationComplete(ctx context.Context) (int, error)
	Trigger(ctx context.Context) error
	Wait(ctx context.Context) error
	SaveSetup(ctx context.Context, slot int) error
	RecallSetup(ctx context.Context, slot int) error

	// System and network.
	SetBeepMode(ctx context.Context, m BeepMode) error
	GetBeepMode(ctx context.Context) (BeepMode, error)
	Beep(ctx context.Context) error
	Local(ctx context.Context) error
	GetAddress(ctx context.Context) (int, error)
	GetIPAddress(ctx context.Context) (string, error)
	GetNetmask(ctx context.Context) (string, error)
}

func invalidParam(format string, args ...interface{}) error {
	return &commands.CommandError{
		Code:    commands.ErrInvalidParams,
		Message: "Invalid parameters",
		Details: fmt.Sprintf(format, args...),
	}
}

func checkChannel(channel int) error {
	if channel < 1 || channel > Channels {
		return invalidParam("channel %d out of range 1..%d", channel, Channels)
	}
	return nil
}

func checkArbSlot(slot int) error {
	if slot < 1 || slot > ArbSlots {
		return invalidParam("ARB slot %d out of range 1..%d", slot, ArbSlots)
	}
	return nil
}

// checkSetupSlot validates *SAV/*RCL store numbers (0 to 9).
func checkSetupSlot(slot int) error {
	if slot < 0 || slot > 9 {
		return invalidParam("setup store %d out of range 0..9", slot)
	}
	return nil
}
