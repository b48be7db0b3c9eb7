package awg

import (
	"context"
	"strconv"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/registry"
	"github.com/SaraRegibo/cgse/internal/scpi"
)

// Proxy forwards every operation to the TGF4000 control server.
type Proxy struct {
	proxy.Device
}

var _ Interface = (*Proxy)(nil)

// NewProxy resolves the control server of deviceID, through the registry
// when no commanding port is configured.
func NewProxy(ctx context.Context, deviceID string, cs config.ControlServerSettings, reg registry.Registry, opts ...proxy.Option) (*Proxy, error) {
	if cs.ServiceType == "" {
		cs.ServiceType = ServiceType
	}
	ep, err := proxy.Resolve(ctx, deviceID, cs, reg)
	if err != nil {
		return nil, err
	}
	return NewProxyForEndpoint(ep, opts...), nil
}

// NewProxyForEndpoint talks to a known endpoint.
func NewProxyForEndpoint(ep proxy.Endpoint, opts ...proxy.Option) *Proxy {
	return &Proxy{Device: proxy.NewDevice(proxy.NewClient(ep, opts...))}
}

func (p *Proxy) send(ctx context.Context, method string, params ...string) error {
	return p.Call(ctx, method, nil, params...)
}

func fetch[T any](ctx context.Context, p *Proxy, method string, params ...string) (T, error) {
	var v T
	err := p.Call(ctx, method, &v, params...)
	return v, err
}

func (p *Proxy) SetChannel(ctx context.Context, channel int) error {
	return p.send(ctx, opSetChannel, strconv.Itoa(channel))
}

func (p *Proxy) GetChannel(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetChannel)
}

func (p *Proxy) SetWaveform(ctx context.Context, w Waveform) error {
	return p.send(ctx, opSetWaveform, string(w))
}

func (p *Proxy) GetWaveform(ctx context.Context) (Waveform, error) {
	return fetch[Waveform](ctx, p, opGetWaveform)
}

func (p *Proxy) SetFrequency(ctx context.Context, hz float64) error {
	return p.send(ctx, opSetFrequency, formatFloat(hz))
}

func (p *Proxy) GetFrequency(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetFrequency)
}

func (p *Proxy) SetPeriod(ctx context.Context, s float64) error {
	return p.send(ctx, opSetPeriod, formatFloat(s))
}

func (p *Proxy) GetPeriod(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetPeriod)
}

func (p *Proxy) SetAmplitudeRange(ctx context.Context, r AmplitudeRange) error {
	return p.send(ctx, opSetAmplitudeRange, string(r))
}

func (p *Proxy) GetAmplitudeRange(ctx context.Context) (AmplitudeRange, error) {
	return fetch[AmplitudeRange](ctx, p, opGetAmplitudeRange)
}

func (p *Proxy) SetAmplitude(ctx context.Context, vpp float64) error {
	return p.send(ctx, opSetAmplitude, formatFloat(vpp))
}

func (p *Proxy) GetAmplitude(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetAmplitude)
}

func (p *Proxy) SetHighLevel(ctx context.Context, v float64) error {
	return p.send(ctx, opSetHighLevel, formatFloat(v))
}

func (p *Proxy) GetHighLevel(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetHighLevel)
}

func (p *Proxy) SetLowLevel(ctx context.Context, v float64) error {
	return p.send(ctx, opSetLowLevel, formatFloat(v))
}

func (p *Proxy) GetLowLevel(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetLowLevel)
}

func (p *Proxy) SetDCOffset(ctx context.Context, v float64) error {
	return p.send(ctx, opSetDCOffset, formatFloat(v))
}

func (p *Proxy) GetDCOffset(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetDCOffset)
}

func (p *Proxy) SetPhase(ctx context.Context, degrees float64) error {
	return p.send(ctx, opSetPhase, formatFloat(degrees))
}

func (p *Proxy) GetPhase(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetPhase)
}

func (p *Proxy) SetSquareSymmetry(ctx context.Context, percent float64) error {
	return p.send(ctx, opSetSquareSymmetry, formatFloat(percent))
}

func (p *Proxy) GetSquareSymmetry(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetSquareSymmetry)
}

func (p *Proxy) SetRampSymmetry(ctx context.Context, percent float64) error {
	return p.send(ctx, opSetRampSymmetry, formatFloat(percent))
}

func (p *Proxy) GetRampSymmetry(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetRampSymmetry)
}

func (p *Proxy) SetOutput(ctx context.Context, o Output) error {
	return p.send(ctx, opSetOutput, string(o))
}

func (p *Proxy) GetOutput(ctx context.Context) (Output, error) {
	return fetch[Output](ctx, p, opGetOutput)
}

func (p *Proxy) SetOutputLoad(ctx context.Context, load string) error {
	return p.send(ctx, opSetOutputLoad, load)
}

func (p *Proxy) GetOutputLoad(ctx context.Context) (string, error) {
	return fetch[string](ctx, p, opGetOutputLoad)
}

func (p *Proxy) SetSyncOutput(ctx context.Context, s Switch) error {
	return p.send(ctx, opSetSyncOutput, string(s))
}

func (p *Proxy) GetSyncOutput(ctx context.Context) (Switch, error) {
	return fetch[Switch](ctx, p, opGetSyncOutput)
}

func (p *Proxy) SetSyncType(ctx context.Context, t SyncType) error {
	return p.send(ctx, opSetSyncType, string(t))
}

func (p *Proxy) GetSyncType(ctx context.Context) (SyncType, error) {
	return fetch[SyncType](ctx, p, opGetSyncType)
}

func (p *Proxy) SetChannel2Config(ctx context.Context, c Channel2Config) error {
	return p.send(ctx, opSetChannel2Config, string(c))
}

func (p *Proxy) GetChannel2Config(ctx context.Context) (Channel2Config, error) {
	return fetch[Channel2Config](ctx, p, opGetChannel2Config)
}

func (p *Proxy) Align(ctx context.Context) error {
	return p.send(ctx, opAlign)
}

func (p *Proxy) SelectArbWaveform(ctx context.Context, name string) error {
	return p.send(ctx, opSelectArbWaveform, name)
}

func (p *Proxy) GetArbWaveform(ctx context.Context) (string, error) {
	return fetch[string](ctx, p, opGetArbWaveform)
}

func (p *Proxy) DefineArb(ctx context.Context, slot int, name string, interpolation Switch) error {
	return p.send(ctx, opDefineArb, strconv.Itoa(slot), name, string(interpolation))
}

// LoadArbData ships the samples as a hex string.
func (p *Proxy) LoadArbData(ctx context.Context, slot int, data scpi.ArbData) error {
	return p.send(ctx, opLoadArbData, strconv.Itoa(slot), data.HexString())
}

func (p *Proxy) GetArbData(ctx context.Context, slot int) (scpi.ArbData, error) {
	hex, err := fetch[string](ctx, p, opGetArbData, strconv.Itoa(slot))
	if err != nil {
		return nil, err
	}
	return scpi.ParseHexString(hex)
}

func (p *Proxy) GetArbDefinition(ctx context.Context, slot int) (*scpi.ArbDefinition, error) {
	return fetch[*scpi.ArbDefinition](ctx, p, opGetArbDefinition, strconv.Itoa(slot))
}

func (p *Proxy) ResizeArb(ctx context.Context, slot int, size int) error {
	return p.send(ctx, opResizeArb, strconv.Itoa(slot), strconv.Itoa(size))
}

func (p *Proxy) SetArbDCOffset(ctx context.Context, v float64) error {
	return p.send(ctx, opSetArbDCOffset, formatFloat(v))
}

func (p *Proxy) GetArbDCOffset(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetArbDCOffset)
}

func (p *Proxy) SetArbFilter(ctx context.Context, f FilterShape) error {
	return p.send(ctx, opSetArbFilter, string(f))
}

func (p *Proxy) GetArbFilter(ctx context.Context) (FilterShape, error) {
	return fetch[FilterShape](ctx, p, opGetArbFilter)
}

func (p *Proxy) SetCounterStatus(ctx context.Context, s Switch) error {
	return p.send(ctx, opSetCounterStatus, string(s))
}

func (p *Proxy) GetCounterStatus(ctx context.Context) (Switch, error) {
	return fetch[Switch](ctx, p, opGetCounterStatus)
}

func (p *Proxy) SetCounterSource(ctx context.Context, s CounterSource) error {
	return p.send(ctx, opSetCounterSource, string(s))
}

func (p *Proxy) GetCounterSource(ctx context.Context) (CounterSource, error) {
	return fetch[CounterSource](ctx, p, opGetCounterSource)
}

func (p *Proxy) SetCounterType(ctx context.Context, t CounterType) error {
	return p.send(ctx, opSetCounterType, string(t))
}

func (p *Proxy) GetCounterType(ctx context.Context) (CounterType, error) {
	return fetch[CounterType](ctx, p, opGetCounterType)
}

func (p *Proxy) GetCounterValue(ctx context.Context) (float64, error) {
	return fetch[float64](ctx, p, opGetCounterValue)
}

func (p *Proxy) ClearStatus(ctx context.Context) error {
	return p.send(ctx, opClearStatus)
}

func (p *Proxy) Reset(ctx context.Context) error {
	return p.send(ctx, opReset)
}

func (p *Proxy) GetID(ctx context.Context) (scpi.InstrumentID, error) {
	return fetch[scpi.InstrumentID](ctx, p, opGetID)
}

func (p *Proxy) GetStatusByte(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetStatusByte)
}

func (p *Proxy) GetEventStatus(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetEventStatus)
}

func (p *Proxy) GetExecutionErrors(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetExecutionErrors)
}

func (p *Proxy) GetQueryErrors(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetQueryErrors)
}

func (p *Proxy) OperationComplete(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opOperationComplete)
}

func (p *Proxy) Trigger(ctx context.Context) error {
	return p.send(ctx, opTrigger)
}

func (p *Proxy) Wait(ctx context.Context) error {
	return p.send(ctx, opWait)
}

func (p *Proxy) SaveSetup(ctx context.Context, slot int) error {
	return p.send(ctx, opSaveSetup, strconv.Itoa(slot))
}

func (p *Proxy) RecallSetup(ctx context.Context, slot int) error {
	return p.send(ctx, opRecallSetup, strconv.Itoa(slot))
}

func (p *Proxy) SetBeepMode(ctx context.Context, m BeepMode) error {
	return p.send(ctx, opSetBeepMode, string(m))
}

func (p *Proxy) GetBeepMode(ctx context.Context) (BeepMode, error) {
	return fetch[BeepMode](ctx, p, opGetBeepMode)
}

func (p *Proxy) Beep(ctx context.Context) error {
	return p.send(ctx, opBeep)
}

func (p *Proxy) Local(ctx context.Context) error {
	return p.send(ctx, opLocal)
}

func (p *Proxy) GetAddress(ctx context.Context) (int, error) {
	return fetch[int](ctx, p, opGetAddress)
}

func (p *Proxy) GetIPAddress(ctx context.Context) (string, error) {
	return fetch[string](ctx, p, opGetIPAddress)
}

func (p *Proxy) GetNetmask(ctx context.Context) (string, error) {
	return fetch[string](ctx, p, opGetNetmask)
}
