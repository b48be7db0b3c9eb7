package psu

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

// Controller talks to a PMX-A over Ethernet or RS-232.
type Controller struct {
	device.Base
	exec *scpi.Executor
}

var _ Interface = (*Controller)(nil)

// NewController builds the transport selected by the device settings.
func NewController(deviceID string, settings config.DeviceSettings, logger *slog.Logger) (*Controller, error) {
	t, err := transport.New(deviceID, settings, Identify, logger)
	if err != nil {
		return nil, err
	}
	return NewControllerWithTransport(deviceID, t), nil
}

// NewControllerWithTransport uses an existing transport.
func NewControllerWithTransport(deviceID string, t device.Transport) *Controller {
	return &Controller{
		Base: device.Base{DeviceID: deviceID},
		exec: scpi.NewExecutor(deviceID, t, Commands),
	}
}

func (c *Controller) Connect(ctx context.Context) error    { return c.exec.Transport().Connect(ctx) }
func (c *Controller) Disconnect() error                    { return c.exec.Transport().Disconnect() }
func (c *Controller) Reconnect(ctx context.Context) error  { return c.exec.Transport().Reconnect(ctx) }
func (c *Controller) IsConnected(ctx context.Context) bool { return c.exec.IsConnected(ctx) }
func (c *Controller) IsSimulator() bool                    { return false }

func (c *Controller) write(ctx context.Context, op string, args scpi.Args) error {
	_, err := c.exec.Execute(ctx, op, args)
	return err
}

func (c *Controller) setValue(ctx context.Context, op string, v float64) error {
	return c.write(ctx, op, scpi.Args{"value": strconv.FormatFloat(v, 'g', -1, 64)})
}

func (c *Controller) scalar(ctx context.Context, op string) (float64, error) {
	v, err := c.exec.Execute(ctx, op, nil)
	if err != nil {
		return 0, err
	}
	f, err := scpi.AsFloat(v)
	if err != nil {
		return 0, device.DeviceError(c.ID(), op, err)
	}
	return f, nil
}

func typed[T any](c *Controller, ctx context.Context, op string) (T, error) {
	var zero T
	v, err := c.exec.Execute(ctx, op, nil)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, device.DeviceError(c.ID(), op, fmt.Errorf("unexpected reply type %T", v))
	}
	return t, nil
}

func (c *Controller) SetVoltage(ctx context.Context, v float64) error {
	if err := checkNonNegative("voltage", v); err != nil {
		return err
	}
	return c.setValue(ctx, opSetVoltage, v)
}

func (c *Controller) GetVoltage(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opGetVoltage)
}

func (c *Controller) SetCurrent(ctx context.Context, a float64) error {
	if err := checkNonNegative("current", a); err != nil {
		return err
	}
	return c.setValue(ctx, opSetCurrent, a)
}

func (c *Controller) GetCurrent(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opGetCurrent)
}

func (c *Controller) SetOutput(ctx context.Context, on bool) error {
	status := "OFF"
	if on {
		status = "ON"
	}
	return c.write(ctx, opSetOutput, scpi.Args{"status": status})
}

func (c *Controller) GetOutput(ctx context.Context) (bool, error) {
	return typed[bool](c, ctx, opGetOutput)
}

func (c *Controller) MeasureVoltage(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opMeasureVoltage)
}

func (c *Controller) MeasureCurrent(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opMeasureCurrent)
}

func (c *Controller) SetOverVoltageProtection(ctx context.Context, v float64) error {
	if err := checkNonNegative("OVP", v); err != nil {
		return err
	}
	return c.setValue(ctx, opSetOVP, v)
}

func (c *Controller) GetOverVoltageProtection(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opGetOVP)
}

func (c *Controller) SetOverCurrentProtection(ctx context.Context, a float64) error {
	if err := checkNonNegative("OCP", a); err != nil {
		return err
	}
	return c.setValue(ctx, opSetOCP, a)
}

func (c *Controller) GetOverCurrentProtection(ctx context.Context) (float64, error) {
	return c.scalar(ctx, opGetOCP)
}

func (c *Controller) ClearProtection(ctx context.Context) error {
	return c.write(ctx, opClearProtection, nil)
}

func (c *Controller) Reset(ctx context.Context) error {
	return c.write(ctx, opReset, nil)
}

func (c *Controller) ClearStatus(ctx context.Context) error {
	return c.write(ctx, opClearStatus, nil)
}

func (c *Controller) GetID(ctx context.Context) (Identity, error) {
	return typed[Identity](c, ctx, opGetID)
}

func (c *Controller) GetError(ctx context.Context) (ErrorEntry, error) {
	return typed[ErrorEntry](c, ctx, opGetError)
}
