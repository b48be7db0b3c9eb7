package awg

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/scpi"
	"github.com/SaraRegibo/cgse/internal/transport"
)

// Controller talks to a TGF4000 over its transport.
type Controller struct {
	device.Base
	exec   *scpi.Executor
	logger *slog.Logger
}

var _ Interface = (*Controller)(nil)

// NewController builds the transport described by the device settings.
func NewController(deviceID string, settings config.DeviceSettings, logger *slog.Logger) (*Controller, error) {
	t, err := transport.New(deviceID, settings, Identify, logger)
	if err != nil {
		return nil, err
	}
	return NewControllerWithTransport(deviceID, t, logger), nil
}

// NewControllerWithTransport uses an existing transport.
func NewControllerWithTransport(deviceID string, t device.Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Base:   device.Base{DeviceID: deviceID},
		exec:   scpi.NewExecutor(deviceID, t, Commands),
		logger: logger.With("device", deviceID),
	}
}

func (c *Controller) Connect(ctx context.Context) error {
	return c.exec.Transport().Connect(ctx)
}

func (c *Controller) Disconnect() error {
	return c.exec.Transport().Disconnect()
}

func (c *Controller) Reconnect(ctx context.Context) error {
	return c.exec.Transport().Reconnect(ctx)
}

func (c *Controller) IsConnected(ctx context.Context) bool {
	return c.exec.IsConnected(ctx)
}

func (c *Controller) IsSimulator() bool {
	return false
}

func (c *Controller) write(ctx context.Context, op string, args scpi.Args) error {
	_, err := c.exec.Execute(ctx, op, args)
	return err
}

func (c *Controller) setValue(ctx context.Context, op string, v float64) error {
	return c.write(ctx, op, scpi.Args{"value": formatFloat(v)})
}

func (c *Controller) queryFloat(ctx context.Context, op string, args scpi.Args) (float64, error) {
	v, err := c.exec.Execute(ctx, op, args)
	if err != nil {
		return 0, err
	}
	f, err := scpi.AsFloat(v)
	if err != nil {
		return 0, device.DeviceError(c.ID(), op, err)
	}
	return f, nil
}

func (c *Controller) queryInt(ctx context.Context, op string) (int, error) {
	v, err := c.exec.Execute(ctx, op, nil)
	if err != nil {
		return 0, err
	}
	n, err := scpi.AsInt(v)
	if err != nil {
		return 0, device.DeviceError(c.ID(), op, err)
	}
	return n, nil
}

func (c *Controller) queryString(ctx context.Context, op string) (string, error) {
	v, err := c.exec.Execute(ctx, op, nil)
	if err != nil {
		return "", err
	}
	s, err := scpi.AsString(v)
	if err != nil {
		return "", device.DeviceError(c.ID(), op, err)
	}
	return s, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Channel and carrier

func (c *Controller) SetChannel(ctx context.Context, channel int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return c.write(ctx, opSetChannel, scpi.Args{"channel": strconv.Itoa(channel)})
}

func (c *Controller) GetChannel(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetChannel)
}

func (c *Controller) SetWaveform(ctx context.Context, w Waveform) error {
	return c.write(ctx, opSetWaveform, scpi.Args{"waveform": string(w)})
}

func (c *Controller) GetWaveform(ctx context.Context) (Waveform, error) {
	s, err := c.queryString(ctx, opGetWaveform)
	return Waveform(s), err
}

func (c *Controller) SetFrequency(ctx context.Context, hz float64) error {
	return c.setValue(ctx, opSetFrequency, hz)
}

func (c *Controller) GetFrequency(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetFrequency, nil)
}

func (c *Controller) SetPeriod(ctx context.Context, s float64) error {
	return c.setValue(ctx, opSetPeriod, s)
}

func (c *Controller) GetPeriod(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetPeriod, nil)
}

func (c *Controller) SetAmplitudeRange(ctx context.Context, r AmplitudeRange) error {
	return c.write(ctx, opSetAmplitudeRange, scpi.Args{"range": string(r)})
}

func (c *Controller) GetAmplitudeRange(ctx context.Context) (AmplitudeRange, error) {
	s, err := c.queryString(ctx, opGetAmplitudeRange)
	return AmplitudeRange(s), err
}

func (c *Controller) SetAmplitude(ctx context.Context, vpp float64) error {
	return c.setValue(ctx, opSetAmplitude, vpp)
}

func (c *Controller) GetAmplitude(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetAmplitude, nil)
}

func (c *Controller) SetHighLevel(ctx context.Context, v float64) error {
	return c.setValue(ctx, opSetHighLevel, v)
}

func (c *Controller) GetHighLevel(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetHighLevel, nil)
}

func (c *Controller) SetLowLevel(ctx context.Context, v float64) error {
	return c.setValue(ctx, opSetLowLevel, v)
}

func (c *Controller) GetLowLevel(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetLowLevel, nil)
}

func (c *Controller) SetDCOffset(ctx context.Context, v float64) error {
	return c.setValue(ctx, opSetDCOffset, v)
}

func (c *Controller) GetDCOffset(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetDCOffset, nil)
}

func (c *Controller) SetPhase(ctx context.Context, degrees float64) error {
	return c.setValue(ctx, opSetPhase, degrees)
}

func (c *Controller) GetPhase(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetPhase, nil)
}

func (c *Controller) SetSquareSymmetry(ctx context.Context, percent float64) error {
	return c.setValue(ctx, opSetSquareSymmetry, percent)
}

func (c *Controller) GetSquareSymmetry(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetSquareSymmetry, nil)
}

func (c *Controller) SetRampSymmetry(ctx context.Context, percent float64) error {
	return c.setValue(ctx, opSetRampSymmetry, percent)
}

func (c *Controller) GetRampSymmetry(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetRampSymmetry, nil)
}

func (c *Controller) SetOutput(ctx context.Context, o Output) error {
	return c.write(ctx, opSetOutput, scpi.Args{"status": string(o)})
}

func (c *Controller) GetOutput(ctx context.Context) (Output, error) {
	s, err := c.queryString(ctx, opGetOutput)
	return Output(s), err
}

func (c *Controller) SetOutputLoad(ctx context.Context, load string) error {
	return c.write(ctx, opSetOutputLoad, scpi.Args{"load": load})
}

func (c *Controller) GetOutputLoad(ctx context.Context) (string, error) {
	return c.queryString(ctx, opGetOutputLoad)
}

func (c *Controller) SetSyncOutput(ctx context.Context, s Switch) error {
	return c.write(ctx, opSetSyncOutput, scpi.Args{"status": string(s)})
}

func (c *Controller) GetSyncOutput(ctx context.Context) (Switch, error) {
	s, err := c.queryString(ctx, opGetSyncOutput)
	return Switch(s), err
}

func (c *Controller) SetSyncType(ctx context.Context, t SyncType) error {
	return c.write(ctx, opSetSyncType, scpi.Args{"type": string(t)})
}

func (c *Controller) GetSyncType(ctx context.Context) (SyncType, error) {
	s, err := c.queryString(ctx, opGetSyncType)
	return SyncType(s), err
}

func (c *Controller) SetChannel2Config(ctx context.Context, cfg Channel2Config) error {
	return c.write(ctx, opSetChannel2Config, scpi.Args{"config": string(cfg)})
}

func (c *Controller) GetChannel2Config(ctx context.Context) (Channel2Config, error) {
	s, err := c.queryString(ctx, opGetChannel2Config)
	return Channel2Config(s), err
}

func (c *Controller) Align(ctx context.Context) error {
	return c.write(ctx, opAlign, nil)
}

// Arbitrary waveforms

func (c *Controller) SelectArbWaveform(ctx context.Context, name string) error {
	return c.write(ctx, opSelectArbWaveform, scpi.Args{"name": name})
}

func (c *Controller) GetArbWaveform(ctx context.Context) (string, error) {
	return c.queryString(ctx, opGetArbWaveform)
}

func (c *Controller) DefineArb(ctx context.Context, slot int, name string, interpolation Switch) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	return c.write(ctx, opDefineArb, scpi.Args{
		"arb":           arbName(slot),
		"name":          name,
		"interpolation": string(interpolation),
	})
}

func (c *Controller) LoadArbData(ctx context.Context, slot int, data scpi.ArbData) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	c.logger.Debug("loading ARB data", "slot", slot, "samples", len(data))
	return c.write(ctx, opLoadArbData, scpi.Args{"arb": arbName(slot), "block": data.Block()})
}

func (c *Controller) GetArbData(ctx context.Context, slot int) (scpi.ArbData, error) {
	if err := checkArbSlot(slot); err != nil {
		return nil, err
	}
	v, err := c.exec.Execute(ctx, opGetArbData, scpi.Args{"arb": arbName(slot)})
	if err != nil {
		return nil, err
	}
	data, ok := v.(scpi.ArbData)
	if !ok {
		return nil, device.DeviceError(c.ID(), opGetArbData, fmt.Errorf("unexpected reply type %T", v))
	}
	return data, nil
}

func (c *Controller) GetArbDefinition(ctx context.Context, slot int) (*scpi.ArbDefinition, error) {
	if err := checkArbSlot(slot); err != nil {
		return nil, err
	}
	v, err := c.exec.Execute(ctx, opGetArbDefinition, scpi.Args{"arb": arbName(slot)})
	if err != nil {
		return nil, err
	}
	def, ok := v.(*scpi.ArbDefinition)
	if !ok {
		return nil, device.DeviceError(c.ID(), opGetArbDefinition, fmt.Errorf("unexpected reply type %T", v))
	}
	return def, nil
}

func (c *Controller) ResizeArb(ctx context.Context, slot int, size int) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	return c.write(ctx, opResizeArb, scpi.Args{"arb": arbName(slot), "size": strconv.Itoa(size)})
}

func (c *Controller) SetArbDCOffset(ctx context.Context, v float64) error {
	return c.setValue(ctx, opSetArbDCOffset, v)
}

func (c *Controller) GetArbDCOffset(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetArbDCOffset, nil)
}

func (c *Controller) SetArbFilter(ctx context.Context, f FilterShape) error {
	return c.write(ctx, opSetArbFilter, scpi.Args{"filter": string(f)})
}

func (c *Controller) GetArbFilter(ctx context.Context) (FilterShape, error) {
	s, err := c.queryString(ctx, opGetArbFilter)
	return FilterShape(s), err
}

// Frequency counter

func (c *Controller) SetCounterStatus(ctx context.Context, s Switch) error {
	return c.write(ctx, opSetCounterStatus, scpi.Args{"status": string(s)})
}

func (c *Controller) GetCounterStatus(ctx context.Context) (Switch, error) {
	s, err := c.queryString(ctx, opGetCounterStatus)
	return Switch(s), err
}

func (c *Controller) SetCounterSource(ctx context.Context, s CounterSource) error {
	return c.write(ctx, opSetCounterSource, scpi.Args{"source": string(s)})
}

func (c *Controller) GetCounterSource(ctx context.Context) (CounterSource, error) {
	s, err := c.queryString(ctx, opGetCounterSource)
	return CounterSource(s), err
}

func (c *Controller) SetCounterType(ctx context.Context, t CounterType) error {
	return c.write(ctx, opSetCounterType, scpi.Args{"type": string(t)})
}

func (c *Controller) GetCounterType(ctx context.Context) (CounterType, error) {
	s, err := c.queryString(ctx, opGetCounterType)
	return CounterType(s), err
}

func (c *Controller) GetCounterValue(ctx context.Context) (float64, error) {
	return c.queryFloat(ctx, opGetCounterValue, nil)
}

// Common commands

func (c *Controller) ClearStatus(ctx context.Context) error {
	return c.write(ctx, opClearStatus, nil)
}

func (c *Controller) Reset(ctx context.Context) error {
	return c.write(ctx, opReset, nil)
}

func (c *Controller) GetID(ctx context.Context) (scpi.InstrumentID, error) {
	v, err := c.exec.Execute(ctx, opGetID, nil)
	if err != nil {
		return scpi.InstrumentID{}, err
	}
	id, ok := v.(scpi.InstrumentID)
	if !ok {
		return scpi.InstrumentID{}, device.DeviceError(c.ID(), opGetID, fmt.Errorf("unexpected reply type %T", v))
	}
	return id, nil
}

func (c *Controller) GetStatusByte(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetStatusByte)
}

func (c *Controller) GetEventStatus(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetEventStatus)
}

func (c *Controller) GetExecutionErrors(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetExecutionErrors)
}

func (c *Controller) GetQueryErrors(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetQueryErrors)
}

func (c *Controller) OperationComplete(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opOperationComplete)
}

func (c *Controller) Trigger(ctx context.Context) error {
	return c.write(ctx, opTrigger, nil)
}

func (c *Controller) Wait(ctx context.Context) error {
	return c.write(ctx, opWait, nil)
}

func (c *Controller) SaveSetup(ctx context.Context, slot int) error {
	if err := checkSetupSlot(slot); err != nil {
		return err
	}
	return c.write(ctx, opSaveSetup, scpi.Args{"slot": strconv.Itoa(slot)})
}

func (c *Controller) RecallSetup(ctx context.Context, slot int) error {
	if err := checkSetupSlot(slot); err != nil {
		return err
	}
	return c.write(ctx, opRecallSetup, scpi.Args{"slot": strconv.Itoa(slot)})
}

// System and network

func (c *Controller) SetBeepMode(ctx context.Context, m BeepMode) error {
	return c.write(ctx, opSetBeepMode, scpi.Args{"mode": string(m)})
}

func (c *Controller) GetBeepMode(ctx context.Context) (BeepMode, error) {
	s, err := c.queryString(ctx, opGetBeepMode)
	return BeepMode(s), err
}

func (c *Controller) Beep(ctx context.Context) error {
	return c.write(ctx, opBeep, nil)
}

func (c *Controller) Local(ctx context.Context) error {
	return c.write(ctx, opLocal, nil)
}

func (c *Controller) GetAddress(ctx context.Context) (int, error) {
	return c.queryInt(ctx, opGetAddress)
}

func (c *Controller) GetIPAddress(ctx context.Context) (string, error) {
	return c.queryString(ctx, opGetIPAddress)
}

func (c *Controller) GetNetmask(ctx context.Context) (string, error) {
	return c.queryString(ctx, opGetNetmask)
}
