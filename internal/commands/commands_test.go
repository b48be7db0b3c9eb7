package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SaraRegibo/cgse/internal/device"
)

type fakeDevice struct {
	frequency float64
	channel   int
	waveform  string
	output    bool
	resets    int
	fail      error
}

func createTestRegistry(dev *fakeDevice) *Registry {
	r := NewRegistry()
	r.Register(
		FloatSetter("set_frequency", "Set frequency", func(ctx context.Context, v float64) error {
			dev.frequency = v
			return dev.fail
		}),
		Getter("get_frequency", "Get frequency", func(ctx context.Context) (float64, error) {
			return dev.frequency, dev.fail
		}),
		IntSetter("set_channel", "Select channel", func(ctx context.Context, v int) error {
			dev.channel = v
			return nil
		}),
		StringSetter("set_waveform_type", "Set waveform", func(ctx context.Context, v string) error {
			dev.waveform = v
			return nil
		}),
		BoolSetter("set_output", "Switch output", func(ctx context.Context, v bool) error {
			dev.output = v
			return nil
		}),
		Action("reset", "Reset", func(ctx context.Context) error {
			dev.resets++
			return nil
		}),
		IntGetter("get_arb_def", "ARB definition", func(ctx context.Context, n int) (string, error) {
			return strings.Repeat("A", n), nil
		}),
	)
	return r
}

func postRPC(t *testing.T, d *Dispatcher, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestDispatcherMethods(t *testing.T) {
	dev := &fakeDevice{}
	d := NewDispatcher(createTestRegistry(dev), nil, nil)

	tests := []struct {
		name         string
		body         string
		expectedCode int
		expectedKind string
	}{
		{name: "set frequency", body: `{"jsonrpc":"2.0","method":"set_frequency","params":["1000"],"id":1}`},
		{name: "get frequency", body: `{"jsonrpc":"2.0","method":"get_frequency","id":2}`},
		{name: "set channel", body: `{"jsonrpc":"2.0","method":"set_channel","params":["2"],"id":3}`},
		{name: "set waveform", body: `{"jsonrpc":"2.0","method":"set_waveform_type","params":["SINE"],"id":4}`},
		{name: "set output", body: `{"jsonrpc":"2.0","method":"set_output","params":["ON"],"id":5}`},
		{name: "reset", body: `{"jsonrpc":"2.0","method":"reset","id":6}`},
		{name: "arb def", body: `{"jsonrpc":"2.0","method":"get_arb_def","params":["3"],"id":7}`},
		{
			name:         "bad number",
			body:         `{"jsonrpc":"2.0","method":"set_frequency","params":["fast"],"id":8}`,
			expectedCode: CodeInvalidParams,
			expectedKind: ErrInvalidParams,
		},
		{
			name:         "missing params",
			body:         `{"jsonrpc":"2.0","method":"set_channel","id":9}`,
			expectedCode: CodeInvalidParams,
			expectedKind: ErrInvalidParams,
		},
		{
			name:         "unknown method",
			body:         `{"jsonrpc":"2.0","method":"warp_drive","id":10}`,
			expectedCode: CodeMethodNotFound,
		},
		{
			name:         "wrong version",
			body:         `{"jsonrpc":"1.0","method":"reset","id":11}`,
			expectedCode: CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := postRPC(t, d, tt.body)
			if tt.expectedCode == 0 {
				if resp.Error != nil {
					t.Fatalf("Unexpected error: %+v", resp.Error)
				}
				return
			}
			if resp.Error == nil {
				t.Fatalf("Expected error code %d, got result %v", tt.expectedCode, resp.Result)
			}
			if resp.Error.Code != tt.expectedCode {
				t.Errorf("Expected code %d, got %d", tt.expectedCode, resp.Error.Code)
			}
			if tt.expectedKind != "" && (resp.Error.Data == nil || resp.Error.Data.Kind != tt.expectedKind) {
				t.Errorf("Expected kind %s, got %+v", tt.expectedKind, resp.Error.Data)
			}
		})
	}

	if dev.frequency != 1000 || dev.channel != 2 || dev.waveform != "SINE" || !dev.output || dev.resets != 1 {
		t.Errorf("Handlers did not reach the device: %+v", dev)
	}
}

func TestDispatcherResult(t *testing.T) {
	dev := &fakeDevice{frequency: 250}
	d := NewDispatcher(createTestRegistry(dev), nil, nil)

	_, resp := postRPC(t, d, `{"jsonrpc":"2.0","method":"get_frequency","id":"abc"}`)
	if resp.Result != 250.0 {
		t.Errorf("Expected 250, got %v", resp.Result)
	}
	if resp.ID != "abc" {
		t.Errorf("Expected id to be echoed, got %v", resp.ID)
	}
}

func TestDispatcherDeviceError(t *testing.T) {
	dev := &fakeDevice{fail: device.TimeoutError("AWG-1", "no reply", nil)}
	d := NewDispatcher(createTestRegistry(dev), nil, nil)

	_, resp := postRPC(t, d, `{"jsonrpc":"2.0","method":"get_frequency","id":1}`)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("Expected internal error, got %+v", resp.Error)
	}
	if resp.Error.Data.Kind != "TIMEOUT" {
		t.Errorf("Expected TIMEOUT kind, got %s", resp.Error.Data.Kind)
	}
}

func TestResponseMembers(t *testing.T) {
	dev := &fakeDevice{}
	d := NewDispatcher(createTestRegistry(dev), nil, nil)

	tests := []struct {
		name    string
		body    string
		want    string
		notWant string
	}{
		{"write command", `{"jsonrpc":"2.0","method":"set_frequency","params":["10"],"id":1}`, `"result":null`, `"error"`},
		{"query", `{"jsonrpc":"2.0","method":"get_frequency","id":2}`, `"result":10`, `"error"`},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope","id":3}`, `"error":`, `"result"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			d.ServeHTTP(w, req)

			body := w.Body.String()
			if !strings.Contains(body, tt.want) {
				t.Errorf("Expected %s in %s", tt.want, body)
			}
			if strings.Contains(body, tt.notWant) {
				t.Errorf("Expected no %s in %s", tt.notWant, body)
			}
		})
	}
}

func TestDispatcherTransportErrors(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, nil)

	w, resp := postRPC(t, d, `{not json`)
	if w.Code != http.StatusBadRequest || resp.Error.Code != CodeParseError {
		t.Errorf("Expected parse error, got %d %+v", w.Code, resp.Error)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for GET, got %d", rec.Code)
	}
}

func TestDispatcherInvoker(t *testing.T) {
	var seen []string
	invoke := func(ctx context.Context, method string, h Handler, params []string) (interface{}, error) {
		if MethodFromContext(ctx) != method {
			t.Errorf("Expected method %s in context", method)
		}
		seen = append(seen, method)
		return h.Handle(ctx, params)
	}
	d := NewDispatcher(createTestRegistry(&fakeDevice{}), invoke, nil)

	d.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "reset", ID: 1})
	if len(seen) != 1 || seen[0] != "reset" {
		t.Errorf("Expected invoker to see reset, got %v", seen)
	}
}

func TestRegistry(t *testing.T) {
	r := createTestRegistry(&fakeDevice{})

	names := r.List()
	if names[0] != "get_arb_def" {
		t.Errorf("Expected sorted names, got %v", names)
	}

	h, ok := r.Get("get_frequency")
	if !ok || !h.IsReadOnly() {
		t.Error("Expected get_frequency to be registered read-only")
	}

	r.Remove("reset")
	if _, ok := r.Get("reset"); ok {
		t.Error("Expected reset to be removed")
	}

	for _, info := range r.Info() {
		if info.Name == "set_frequency" && info.ReadOnly {
			t.Error("Expected set_frequency to be writable")
		}
	}
}

func TestToRPCError(t *testing.T) {
	rpcErr := ToRPCError(errors.New("boom"))
	if rpcErr.Code != CodeInternalError || rpcErr.Data.Kind != "INTERNAL" {
		t.Errorf("Unexpected conversion: %+v", rpcErr)
	}

	rpcErr = ToRPCError(device.ErrNotConnected)
	if rpcErr.Data.Kind != "CONNECTION" {
		t.Errorf("Expected CONNECTION kind, got %s", rpcErr.Data.Kind)
	}
}

type stubDevice struct {
	device.Base
	connected bool
}

func (s *stubDevice) Connect(context.Context) error       { s.connected = true; return nil }
func (s *stubDevice) Disconnect() error                   { s.connected = false; return nil }
func (s *stubDevice) Reconnect(ctx context.Context) error { return s.Connect(ctx) }
func (s *stubDevice) IsConnected(context.Context) bool    { return s.connected }
func (s *stubDevice) IsSimulator() bool                   { return true }

func TestDeviceHandlers(t *testing.T) {
	dev := &stubDevice{Base: device.Base{DeviceID: "stub"}}
	r := NewRegistry()
	r.Register(DeviceHandlers(dev)...)
	r.Register(PingHandler())
	d := NewDispatcher(r, nil, nil)

	steps := []struct {
		method string
		want   interface{}
	}{
		{MethodIsConnected, false},
		{MethodConnect, nil},
		{MethodIsConnected, true},
		{MethodIsSimulator, true},
		{MethodDisconnect, nil},
		{MethodIsConnected, false},
		{MethodReconnect, nil},
		{MethodIsConnected, true},
		{MethodPing, "pong"},
	}
	for _, s := range steps {
		_, resp := postRPC(t, d, `{"jsonrpc":"2.0","method":"`+s.method+`","id":1}`)
		if resp.Error != nil {
			t.Fatalf("%s: unexpected error %v", s.method, resp.Error)
		}
		if resp.Result != s.want {
			t.Errorf("%s: expected %v, got %v", s.method, s.want, resp.Result)
		}
	}

	if h, _ := r.Get(MethodConnect); h.IsReadOnly() {
		t.Error("connect must not be read-only")
	}
}
