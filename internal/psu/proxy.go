package psu

import (
	"context"
	"strconv"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/registry"
)

// Proxy forwards every operation to the PMX-A control server.
type Proxy struct {
	proxy.Device
}

var _ Interface = (*Proxy)(nil)

// NewProxy resolves the control server of deviceID.
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

func (p *Proxy) setValue(ctx context.Context, method string, v float64) error {
	return p.Call(ctx, method, nil, strconv.FormatFloat(v, 'g', -1, 64))
}

func (p *Proxy) float(ctx context.Context, method string) (float64, error) {
	var v float64
	err := p.Call(ctx, method, &v)
	return v, err
}

func (p *Proxy) SetVoltage(ctx context.Context, v float64) error {
	return p.setValue(ctx, opSetVoltage, v)
}

func (p *Proxy) GetVoltage(ctx context.Context) (float64, error) {
	return p.float(ctx, opGetVoltage)
}

func (p *Proxy) SetCurrent(ctx context.Context, a float64) error {
	return p.setValue(ctx, opSetCurrent, a)
}

func (p *Proxy) GetCurrent(ctx context.Context) (float64, error) {
	return p.float(ctx, opGetCurrent)
}

func (p *Proxy) SetOutput(ctx context.Context, on bool) error {
	return p.Call(ctx, opSetOutput, nil, strconv.FormatBool(on))
}

func (p *Proxy) GetOutput(ctx context.Context) (bool, error) {
	var on bool
	err := p.Call(ctx, opGetOutput, &on)
	return on, err
}

func (p *Proxy) MeasureVoltage(ctx context.Context) (float64, error) {
	return p.float(ctx, opMeasureVoltage)
}

func (p *Proxy) MeasureCurrent(ctx context.Context) (float64, error) {
	return p.float(ctx, opMeasureCurrent)
}

func (p *Proxy) SetOverVoltageProtection(ctx context.Context, v float64) error {
	return p.setValue(ctx, opSetOVP, v)
}

func (p *Proxy) GetOverVoltageProtection(ctx context.Context) (float64, error) {
	return p.float(ctx, opGetOVP)
}

func (p *Proxy) SetOverCurrentProtection(ctx context.Context, a float64) error {
	return p.setValue(ctx, opSetOCP, a)
}

func (p *Proxy) GetOverCurrentProtection(ctx context.Context) (float64, error) {
	return p.float(ctx, opGetOCP)
}

func (p *Proxy) ClearProtection(ctx context.Context) error {
	return p.Call(ctx, opClearProtection, nil)
}

func (p *Proxy) Reset(ctx context.Context) error {
	return p.Call(ctx, opReset, nil)
}

func (p *Proxy) ClearStatus(ctx context.Context) error {
	return p.Call(ctx, opClearStatus, nil)
}

func (p *Proxy) GetID(ctx context.Context) (Identity, error) {
	var id Identity
	err := p.Call(ctx, opGetID, &id)
	return id, err
}

func (p *Proxy) GetError(ctx context.Context) (ErrorEntry, error) {
	var e ErrorEntry
	err := p.Call(ctx, opGetError, &e)
	return e, err
}
