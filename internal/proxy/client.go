package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
)

// Client issues JSON-RPC calls to a commanding endpoint.
type Client struct {
	endpoint Endpoint
	http     *http.Client
	token    string
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token with every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for ep.
func NewClient(ep Endpoint, opts ...Option) *Client {
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	c := &Client{
		endpoint: ep,
		http:     &http.Client{Timeout: ep.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the resolved endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Call invokes method with positional params and decodes the result into
// result, which may be nil. Remote device errors keep their kind.
func (c *Client) Call(ctx context.Context, method string, result interface{}, params ...string) error {
	deviceID := c.endpoint.DeviceID
	req := commands.Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(deviceID, method, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return device.ConnectionError(deviceID, fmt.Sprintf("%s rejected: HTTP %d", method, httpResp.StatusCode), nil)
	}

	var resp struct {
		Result json.RawMessage    `json:"result"`
		Error  *commands.RPCError `json:"error"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return device.ConnectionError(deviceID, fmt.Sprintf("malformed reply to %s", method), err)
	}
	if resp.Error != nil {
		return remoteError(deviceID, resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return device.DeviceError(deviceID, fmt.Sprintf("unexpected result for %s", method), err)
	}
	return nil
}

// Ping checks that the control server answers.
func (c *Client) Ping(ctx context.Context) error {
	var pong string
	return c.Call(ctx, commands.MethodPing, &pong)
}

func transportError(deviceID, method string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return device.TimeoutError(deviceID, fmt.Sprintf("%s timed out", method), err)
	}
	return device.ConnectionError(deviceID, fmt.Sprintf("cannot reach control server for %s", method), err)
}

// remoteError rebuilds a typed error from the wire form.
func remoteError(deviceID string, rpcErr *commands.RPCError) error {
	kind := ""
	details := ""
	if rpcErr.Data != nil {
		kind = rpcErr.Data.Kind
		details = rpcErr.Data.Details
	}
	switch rpcErr.Code {
	case commands.CodeInvalidParams, commands.CodeForbidden:
		return &commands.CommandError{Code: kind, Message: rpcErr.Message, Details: details}
	case commands.CodeMethodNotFound:
		return &commands.CommandError{Code: commands.ErrNotSupported, Message: rpcErr.Message}
	}
	return &device.Error{DeviceID: deviceID, Kind: device.KindFromCode(kind), Message: rpcErr.Message, Err: rpcErr}
}

// Device implements device.Interface by forwarding to the control server.
type Device struct {
	*Client
}

// NewDevice wraps a client.
func NewDevice(c *Client) Device {
	return Device{Client: c}
}

// ID returns the device identifier of the endpoint.
func (d Device) ID() string {
	return d.endpoint.DeviceID
}

// Connect asks the control server to connect its device.
func (d Device) Connect(ctx context.Context) error {
	return d.Call(ctx, commands.MethodConnect, nil)
}

// Disconnect asks the control server to disconnect its device.
func (d Device) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.endpoint.Timeout)
	defer cancel()
	return d.Call(ctx, commands.MethodDisconnect, nil)
}

// Reconnect asks the control server to reconnect its device.
func (d Device) Reconnect(ctx context.Context) error {
	return d.Call(ctx, commands.MethodReconnect, nil)
}

// IsConnected is false when the device or the control server is unreachable.
func (d Device) IsConnected(ctx context.Context) bool {
	var connected bool
	if err := d.Call(ctx, commands.MethodIsConnected, &connected); err != nil {
		return false
	}
	return connected
}

// IsSimulator reports whether the control server drives a simulator.
func (d Device) IsSimulator() bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.endpoint.Timeout)
	defer cancel()
	var sim bool
	if err := d.Call(ctx, commands.MethodIsSimulator, &sim); err != nil {
		return false
	}
	return sim
}
