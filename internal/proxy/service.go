package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
)

// Service endpoint methods.
const (
	MethodQuitServer = "quit_server"
	MethodStatus     = "status"
)

// ServiceProxy talks to the service endpoint of a control server: one JSON
// request and one JSON reply per TCP connection.
type ServiceProxy struct {
	endpoint Endpoint
	nextID   atomic.Int64
}

// NewServiceProxy creates a proxy for the service port of ep.
func NewServiceProxy(ep Endpoint) *ServiceProxy {
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	return &ServiceProxy{endpoint: ep}
}

// QuitServer asks the control server to shut down.
func (s *ServiceProxy) QuitServer(ctx context.Context) error {
	return s.call(ctx, MethodQuitServer, nil)
}

// Status returns the status map of the control server.
func (s *ServiceProxy) Status(ctx context.Context) (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := s.call(ctx, MethodStatus, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Ping checks that the service endpoint answers.
func (s *ServiceProxy) Ping(ctx context.Context) error {
	var pong string
	return s.call(ctx, commands.MethodPing, &pong)
}

func (s *ServiceProxy) call(ctx context.Context, method string, result interface{}) error {
	deviceID := s.endpoint.DeviceID
	if s.endpoint.ServicePort == 0 {
		return device.ConnectionError(deviceID, "service port unknown", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.endpoint.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.endpoint.ServiceAddress())
	if err != nil {
		return transportError(deviceID, method, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.endpoint.Timeout))
	}

	req := commands.Request{JSONRPC: "2.0", Method: method, ID: s.nextID.Add(1)}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return transportError(deviceID, method, err)
	}

	var resp struct {
		Result json.RawMessage    `json:"result"`
		Error  *commands.RPCError `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return transportError(deviceID, method, err)
	}
	if resp.Error != nil {
		return remoteError(deviceID, resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
