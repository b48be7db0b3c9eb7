package controlserver

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SaraRegibo/cgse/internal/audit"
	"github.com/SaraRegibo/cgse/internal/auth"
	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/telemetry"
)

// Protocol is what a device family offers its control server.
type Protocol interface {
	Device() device.Interface
	ServiceType() string
	Handlers() []commands.Handler
	Housekeeping(ctx context.Context) map[string]interface{}
}

// Runner executes handler calls for the dispatcher. Every call gets a
// timeout, an audit record and, on failure, a fault event.
type Runner struct {
	deviceID    string
	timeout     time.Duration
	requireAuth bool

	audit  *audit.Logger
	hub    *telemetry.Hub
	logger *slog.Logger

	connected atomic.Bool
}

// NewRunner creates a runner. audit and hub may be nil.
func NewRunner(deviceID string, timeout time.Duration, auditLogger *audit.Logger, hub *telemetry.Hub, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		deviceID: deviceID,
		timeout:  timeout,
		audit:    auditLogger,
		hub:      hub,
		logger:   logger,
	}
}

// RequireAuth makes every call check the caller's scopes.
func (r *Runner) RequireAuth(required bool) {
	r.requireAuth = required
}

// Connected reports the last known device connection state.
func (r *Runner) Connected() bool {
	return r.connected.Load()
}

// SetConnected records the device connection state.
func (r *Runner) SetConnected(v bool) {
	r.connected.Store(v)
}

// Invoke has the commands.Invoker signature.
func (r *Runner) Invoke(ctx context.Context, method string, handler commands.Handler, params []string) (interface{}, error) {
	start := time.Now()

	if r.requireAuth && !auth.Authorize(auth.ClaimsFromContext(ctx), handler.IsReadOnly()) {
		err := &commands.CommandError{Code: commands.ErrForbidden, Message: "Insufficient permissions", Details: method}
		r.audit.LogCommand(ctx, r.deviceID, method, params, err, time.Since(start))
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := handler.Handle(callCtx, params)
	latency := time.Since(start)

	if err != nil {
		var cmdErr *commands.CommandError
		if !errors.As(err, &cmdErr) {
			err = device.Normalize(r.deviceID, err)
		}
		r.audit.LogCommand(ctx, r.deviceID, method, params, err, latency)
		r.trackFailure(err)
		r.publishFault(method, err)
		r.logger.Warn("command failed", "method", method, "error", err, "latency", latency)
		return nil, err
	}

	r.audit.LogCommand(ctx, r.deviceID, method, params, nil, latency)
	r.trackSuccess(method, result)
	r.logger.Debug("command executed", "method", method, "latency", latency)
	return result, nil
}

func (r *Runner) trackSuccess(method string, result interface{}) {
	switch method {
	case commands.MethodConnect, commands.MethodReconnect:
		r.SetConnected(true)
	case commands.MethodDisconnect:
		r.SetConnected(false)
	case commands.MethodIsConnected:
		if v, ok := result.(bool); ok {
			r.SetConnected(v)
		}
	}
}

func (r *Runner) trackFailure(err error) {
	if errors.Is(err, device.ErrConnection) {
		r.SetConnected(false)
	}
}

func (r *Runner) publishFault(method string, err error) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(telemetry.Event{
		Type:   telemetry.TypeFault,
		Device: r.deviceID,
		Data: map[string]interface{}{
			"method":  method,
			"code":    faultCode(err),
			"message": err.Error(),
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func faultCode(err error) string {
	var cmdErr *commands.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return device.Code(err)
}
