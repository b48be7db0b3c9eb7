package psu

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/device/devicetest"
	"github.com/SaraRegibo/cgse/internal/proxy"
)

type scriptedTransport struct {
	mu        sync.Mutex
	connected bool
	replies   map[string]string
	last      string
}

func (s *scriptedTransport) Connect(context.Context) error       { s.connected = true; return nil }
func (s *scriptedTransport) Disconnect() error                   { s.connected = false; return nil }
func (s *scriptedTransport) Reconnect(ctx context.Context) error { return s.Connect(ctx) }
func (s *scriptedTransport) IsConnected(context.Context) bool    { return s.connected }

func (s *scriptedTransport) Write(_ context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = strings.TrimSuffix(cmd, "\n")
	return nil
}

func (s *scriptedTransport) Trans(ctx context.Context, cmd string) (string, error) {
	s.Write(ctx, cmd)
	b, err := s.Read(ctx)
	return string(b), err
}

func (s *scriptedTransport) Read(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[s.last]
	if !ok {
		return nil, device.TimeoutError("PSU-1", "no reply", nil)
	}
	return []byte(reply), nil
}

func TestParsers(t *testing.T) {
	v, err := parseIdentity([]byte("KIKUSUI,PMX18-5A,AB123456,IFC01.00.0011 IOC01.00.0007\n"))
	if err != nil {
		t.Fatalf("parseIdentity: %v", err)
	}
	id := v.(Identity)
	if id.Manufacturer != "KIKUSUI" || id.Model != "PMX18-5A" || id.Serial != "AB123456" || id.Firmware != "IFC01.00.0011 IOC01.00.0007" {
		t.Errorf("Unexpected identity %+v", id)
	}
	if _, err := parseIdentity([]byte("KIKUSUI\n")); err == nil {
		t.Error("Expected error for a short identification")
	}

	tests := []struct {
		reply string
		want  ErrorEntry
	}{
		{`0,"No error"`, ErrorEntry{0, "No error"}},
		{`-222,"Data out of range"` + "\r\n", ErrorEntry{-222, "Data out of range"}},
	}
	for _, tt := range tests {
		v, err := parseError([]byte(tt.reply))
		if err != nil {
			t.Fatalf("parseError(%q): %v", tt.reply, err)
		}
		if v.(ErrorEntry) != tt.want {
			t.Errorf("Expected %+v, got %+v", tt.want, v)
		}
	}
	if _, err := parseError([]byte("oops")); err == nil {
		t.Error("Expected error for a malformed entry")
	}
}

func TestControllerWire(t *testing.T) {
	tr := &scriptedTransport{replies: map[string]string{
		"MEAS:VOLT?": "12.003\n",
		"OUTP?":      "1\n",
		"*IDN?":      "KIKUSUI,PMX18-5A,AB123456,IFC01.00.0011 IOC01.00.0007\n",
		"SYST:ERR?":  "-222,\"Data out of range\"\n",
	}}
	ctrl := NewControllerWithTransport("PSU-1", tr)
	ctx := context.Background()
	ctrl.Connect(ctx)

	tests := []struct {
		name string
		fn   func() error
		want string
	}{
		{"voltage", func() error { return ctrl.SetVoltage(ctx, 12) }, "VOLT 12"},
		{"current", func() error { return ctrl.SetCurrent(ctx, 0.5) }, "CURR 0.5"},
		{"output", func() error { return ctrl.SetOutput(ctx, true) }, "OUTP ON"},
		{"ovp", func() error { return ctrl.SetOverVoltageProtection(ctx, 15) }, "VOLT:PROT 15"},
		{"clear", func() error { return ctrl.ClearProtection(ctx) }, "OUTP:PROT:CLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tr.last != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, tr.last)
			}
		})
	}

	if v, err := ctrl.MeasureVoltage(ctx); err != nil || v != 12.003 {
		t.Errorf("Expected 12.003, got %v (%v)", v, err)
	}
	if on, err := ctrl.GetOutput(ctx); err != nil || !on {
		t.Errorf("Expected output on, got %v (%v)", on, err)
	}
	if id, err := ctrl.GetID(ctx); err != nil || id.Model != "PMX18-5A" {
		t.Errorf("Unexpected identity %+v (%v)", id, err)
	}
	if e, err := ctrl.GetError(ctx); err != nil || e.Code != -222 {
		t.Errorf("Unexpected error entry %+v (%v)", e, err)
	}
	if _, err := ctrl.MeasureCurrent(ctx); !errors.Is(err, device.ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
	if err := ctrl.SetVoltage(ctx, -1); err == nil {
		t.Error("Expected negative voltage to be rejected")
	}
}

func TestSimulatorConformance(t *testing.T) {
	devicetest.RunConformance(t, func() device.Interface { return NewSimulator("PSU-1") }, devicetest.Expectations{Simulator: true})
}

func TestSimulatorOutputStage(t *testing.T) {
	sim := NewSimulator("PSU-1")
	ctx := context.Background()

	sim.SetVoltage(ctx, 12)
	sim.SetCurrent(ctx, 1.5)
	if v, _ := sim.MeasureVoltage(ctx); v != 0 {
		t.Errorf("Expected 0 V with the output off, got %v", v)
	}

	sim.SetOutput(ctx, true)
	if v, _ := sim.MeasureVoltage(ctx); v != 12 {
		t.Errorf("Expected 12 V with the output on, got %v", v)
	}
	if a, _ := sim.MeasureCurrent(ctx); a != 1.5 {
		t.Errorf("Expected 1.5 A with the output on, got %v", a)
	}

	// Lowering OVP below the set-point trips the output.
	if err := sim.SetOverVoltageProtection(ctx, 10); err != nil {
		t.Fatalf("SetOverVoltageProtection: %v", err)
	}
	if on, _ := sim.GetOutput(ctx); on {
		t.Error("Expected output off after an OVP trip")
	}
	if e, _ := sim.GetError(ctx); e.Code == 0 {
		t.Error("Expected a queued error after a trip")
	}
	if e, _ := sim.GetError(ctx); e.Code != 0 {
		t.Errorf("Expected an empty queue, got %+v", e)
	}
	if err := sim.SetOutput(ctx, true); !errors.Is(err, device.ErrDevice) {
		t.Errorf("Expected device error while tripped, got %v", err)
	}

	sim.ClearProtection(ctx)
	sim.SetVoltage(ctx, 9)
	if err := sim.SetOutput(ctx, true); err != nil {
		t.Fatalf("SetOutput after clear: %v", err)
	}
	if v, _ := sim.MeasureVoltage(ctx); v != 9 {
		t.Errorf("Expected 9 V, got %v", v)
	}

	var cmdErr *commands.CommandError
	if err := sim.SetVoltage(ctx, 30); !errors.As(err, &cmdErr) {
		t.Errorf("Expected a command error above the rating, got %v", err)
	}
}

func TestProxyRoundTrip(t *testing.T) {
	sim := NewSimulator("PSU-1")
	protocol := NewProtocol(sim, nil)
	reg := commands.NewRegistry()
	reg.Register(protocol.Handlers()...)

	mux := http.NewServeMux()
	mux.Handle(commands.Path, commands.NewDispatcher(reg, nil, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	p := NewProxyForEndpoint(proxy.Endpoint{DeviceID: "PSU-1", Host: host, Port: port, Timeout: 2 * time.Second})
	ctx := context.Background()

	devicetest.RunConformance(t, func() device.Interface { return p }, devicetest.Expectations{Simulator: true})
	p.Connect(ctx)

	if err := p.SetVoltage(ctx, 5); err != nil {
		t.Fatalf("SetVoltage: %v", err)
	}
	if err := p.SetOutput(ctx, true); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	if v, err := p.MeasureVoltage(ctx); err != nil || v != 5 {
		t.Errorf("Expected 5 V, got %v (%v)", v, err)
	}
	if on, err := p.GetOutput(ctx); err != nil || !on {
		t.Errorf("Expected output on, got %v (%v)", on, err)
	}
	if id, err := p.GetID(ctx); err != nil || id.Manufacturer != "KIKUSUI" {
		t.Errorf("Unexpected identity %+v (%v)", id, err)
	}

	hk := protocol.Housekeeping(ctx)
	if hk["voltage"] != 5.0 || hk["output"] != true {
		t.Errorf("Unexpected housekeeping %v", hk)
	}
}
