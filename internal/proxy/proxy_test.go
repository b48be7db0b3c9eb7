package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/registry"
)

func endpointFor(t *testing.T, srv *httptest.Server) Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return Endpoint{DeviceID: "AWG-1", Protocol: "http", Host: host, Port: port, Timeout: time.Second}
}

func newRPCServer(t *testing.T, handlers ...commands.Handler) (*httptest.Server, Endpoint) {
	t.Helper()
	reg := commands.NewRegistry()
	reg.Register(handlers...)
	mux := http.NewServeMux()
	mux.Handle(commands.Path, commands.NewDispatcher(reg, nil, nil))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, endpointFor(t, srv)
}

func TestResolveFixedPort(t *testing.T) {
	ep, err := Resolve(context.Background(), "AWG-1", config.ControlServerSettings{
		Hostname:       "lab-pc",
		Protocol:       "http",
		CommandingPort: 6100,
		ServicePort:    6101,
		MonitoringPort: 6102,
	}, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ep.URL() != "http://lab-pc:6100/rpc" {
		t.Errorf("Unexpected URL %s", ep.URL())
	}
	if ep.ServiceAddress() != "lab-pc:6101" || ep.MonitoringURL() != "http://lab-pc:6102/events" {
		t.Errorf("Unexpected addresses %s %s", ep.ServiceAddress(), ep.MonitoringURL())
	}
	if ep.Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", ep.Timeout)
	}
}

func TestResolveDiscovery(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	cs := config.ControlServerSettings{ServiceType: "tgf4000_cs"}

	_, err := Resolve(ctx, "AWG-1", cs, reg)
	if !errors.Is(err, device.ErrConnection) || !strings.Contains(err.Error(), "no service registered as tgf4000_cs") {
		t.Fatalf("Expected discovery failure, got %v", err)
	}
	if _, err := Resolve(ctx, "AWG-1", cs, nil); !errors.Is(err, device.ErrConnection) {
		t.Errorf("Expected connection error without registry, got %v", err)
	}

	reg.Register(ctx, registry.Service{
		Type:     "tgf4000_cs",
		Protocol: "http",
		Host:     "10.0.0.5",
		Port:     40001,
		Metadata: map[string]string{registry.MetaServicePort: "40002", registry.MetaMonitoringPort: "40003"},
	})
	ep, err := Resolve(ctx, "AWG-1", cs, reg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ep.Host != "10.0.0.5" || ep.Port != 40001 || ep.ServicePort != 40002 || ep.MonitoringPort != 40003 {
		t.Errorf("Unexpected endpoint %+v", ep)
	}
}

func TestClientCall(t *testing.T) {
	_, ep := newRPCServer(t,
		commands.Getter("get_frequency", "", func(context.Context) (float64, error) { return 1234.5, nil }),
		commands.FloatSetter("set_frequency", "", func(context.Context, float64) error { return nil }),
		commands.Getter("get_id", "", func(context.Context) (string, error) {
			return "", device.TimeoutError("AWG-1", "no reply", nil)
		}),
		commands.Getter("is_connected", "", func(context.Context) (bool, error) {
			return false, device.ConnectionError("AWG-1", "socket closed", nil)
		}),
		commands.PingHandler(),
	)
	c := NewClient(ep)
	ctx := context.Background()

	var freq float64
	if err := c.Call(ctx, "get_frequency", &freq); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if freq != 1234.5 {
		t.Errorf("Expected 1234.5, got %v", freq)
	}
	if err := c.Call(ctx, "set_frequency", nil, "1000"); err != nil {
		t.Errorf("Expected setter to succeed, got %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	tests := []struct {
		name   string
		method string
		params []string
		check  func(error) bool
	}{
		{"timeout kind", "get_id", nil, func(err error) bool { return errors.Is(err, device.ErrTimeout) }},
		{"connection kind", "is_connected", nil, func(err error) bool { return errors.Is(err, device.ErrConnection) }},
		{"invalid params", "set_frequency", []string{"abc"}, func(err error) bool {
			var ce *commands.CommandError
			return errors.As(err, &ce) && ce.Code == commands.ErrInvalidParams
		}},
		{"unknown method", "nope", nil, func(err error) bool {
			var ce *commands.CommandError
			return errors.As(err, &ce) && ce.Code == commands.ErrNotSupported
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Call(ctx, tt.method, nil, tt.params...)
			if err == nil || !tt.check(err) {
				t.Errorf("Unexpected error %v", err)
			}
		})
	}
}

func TestClientTransportErrors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	ep := endpointFor(t, slow)
	ep.Timeout = 50 * time.Millisecond
	if err := NewClient(ep).Call(context.Background(), "ping", nil); !errors.Is(err, device.ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}

	l, _ := net.Listen("tcp", "127.0.0.1:0")
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	closed := Endpoint{DeviceID: "AWG-1", Host: "127.0.0.1", Port: port, Timeout: time.Second}
	if err := NewClient(closed).Call(context.Background(), "ping", nil); !errors.Is(err, device.ErrConnection) {
		t.Errorf("Expected connection error, got %v", err)
	}

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer garbage.Close()
	if err := NewClient(endpointFor(t, garbage)).Call(context.Background(), "ping", nil); !errors.Is(err, device.ErrConnection) {
		t.Errorf("Expected connection error for malformed reply, got %v", err)
	}
}

func TestClientToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		if got != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(commands.Response{JSONRPC: "2.0", Result: "pong", ID: 1})
	}))
	defer srv.Close()

	ep := endpointFor(t, srv)
	if err := NewClient(ep).Ping(context.Background()); !errors.Is(err, device.ErrConnection) {
		t.Errorf("Expected rejection without token, got %v", err)
	}
	if err := NewClient(ep, WithToken("secret-token")).Ping(context.Background()); err != nil {
		t.Errorf("Expected success with token, got %v", err)
	}
}

type remoteDevice struct {
	connected bool
}

func TestDeviceForwarding(t *testing.T) {
	state := &remoteDevice{}
	_, ep := newRPCServer(t,
		commands.Action(commands.MethodConnect, "", func(context.Context) error { state.connected = true; return nil }),
		commands.Action(commands.MethodDisconnect, "", func(context.Context) error { state.connected = false; return nil }),
		commands.Action(commands.MethodReconnect, "", func(context.Context) error { state.connected = true; return nil }),
		commands.Getter(commands.MethodIsConnected, "", func(context.Context) (bool, error) { return state.connected, nil }),
		commands.Getter(commands.MethodIsSimulator, "", func(context.Context) (bool, error) { return true, nil }),
	)
	dev := NewDevice(NewClient(ep))
	ctx := context.Background()

	if dev.ID() != "AWG-1" || !dev.IsSimulator() {
		t.Errorf("Unexpected identity %s sim=%v", dev.ID(), dev.IsSimulator())
	}
	if err := dev.Connect(ctx); err != nil || !dev.IsConnected(ctx) {
		t.Fatalf("Expected connected, err=%v", err)
	}
	if err := dev.Disconnect(); err != nil || dev.IsConnected(ctx) {
		t.Fatalf("Expected disconnected, err=%v", err)
	}
	if err := dev.Reconnect(ctx); err != nil || !dev.IsConnected(ctx) {
		t.Fatalf("Expected reconnected, err=%v", err)
	}
}

func TestServiceProxy(t *testing.T) {
	reg := commands.NewRegistry()
	quit := make(chan struct{}, 1)
	reg.Register(
		commands.PingHandler(),
		commands.Getter(MethodStatus, "", func(context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"device_id": "AWG-1"}, nil
		}),
		commands.Action(MethodQuitServer, "", func(context.Context) error { quit <- struct{}{}; return nil }),
	)
	d := commands.NewDispatcher(reg, nil, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var req commands.Request
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				json.NewEncoder(conn).Encode(d.Dispatch(context.Background(), &req))
			}(conn)
		}
	}()

	sp := NewServiceProxy(Endpoint{DeviceID: "AWG-1", Host: "127.0.0.1", ServicePort: l.Addr().(*net.TCPAddr).Port, Timeout: time.Second})
	ctx := context.Background()

	if err := sp.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	status, err := sp.Status(ctx)
	if err != nil || status["device_id"] != "AWG-1" {
		t.Fatalf("Unexpected status %v err=%v", status, err)
	}
	if err := sp.QuitServer(ctx); err != nil {
		t.Fatalf("QuitServer failed: %v", err)
	}
	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Error("Expected quit to reach the server")
	}

	if err := NewServiceProxy(Endpoint{DeviceID: "x"}).Ping(ctx); !errors.Is(err, device.ErrConnection) {
		t.Errorf("Expected connection error without service port, got %v", err)
	}
}
