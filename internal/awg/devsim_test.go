package awg

import (
	"context"
	"testing"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/device/devicetest"
	"github.com/SaraRegibo/cgse/internal/devsim"
	"github.com/SaraRegibo/cgse/internal/scpi"
)

func startInstrument(t *testing.T) config.DeviceSettings {
	t.Helper()
	inst := devsim.NewInstrument(devsim.TGF4000(), devsim.Options{})
	srv := devsim.NewServer(inst, nil)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		inst.Close()
	})
	return config.DeviceSettings{Family: config.FamilyTGF4000, Hostname: "127.0.0.1", Port: srv.Port(), ReadTimeout: 1}
}

func TestControllerConformanceOverTCP(t *testing.T) {
	settings := startInstrument(t)
	devicetest.RunConformance(t, func() device.Interface {
		c, err := NewController("AWG-1", settings, nil)
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		return c
	}, devicetest.Expectations{})
}

func TestControllerOverTCP(t *testing.T) {
	c, err := NewController("AWG-1", startInstrument(t), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	id, err := c.GetID(ctx)
	if err != nil {
		t.Fatalf("GetID: %v", err)
	}
	if id.Model != "TGF4162" || id.Interface != 2.10 {
		t.Errorf("Unexpected identification %+v", id)
	}

	if err := c.SetChannel(ctx, 2); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if err := c.SetFrequency(ctx, 2500); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if err := c.SetWaveform(ctx, WaveSquare); err != nil {
		t.Fatalf("SetWaveform: %v", err)
	}
	if ch, _ := c.GetChannel(ctx); ch != 2 {
		t.Errorf("Expected channel 2, got %d", ch)
	}
	if f, _ := c.GetFrequency(ctx); f != 2500 {
		t.Errorf("Expected 2500 Hz, got %g", f)
	}
	if w, _ := c.GetWaveform(ctx); w != WaveSquare {
		t.Errorf("Expected %s, got %s", WaveSquare, w)
	}

	def, err := c.GetArbDefinition(ctx, 3)
	if err != nil {
		t.Fatalf("GetArbDefinition: %v", err)
	}
	if def != nil {
		t.Errorf("Expected undefined slot, got %+v", def)
	}

	data := scpi.ArbData{0, 10, 8191, -8192, 3}
	if err := c.DefineArb(ctx, 3, "STEPS", On); err != nil {
		t.Fatalf("DefineArb: %v", err)
	}
	if err := c.LoadArbData(ctx, 3, data); err != nil {
		t.Fatalf("LoadArbData: %v", err)
	}
	back, err := c.GetArbData(ctx, 3)
	if err != nil {
		t.Fatalf("GetArbData: %v", err)
	}
	if back.HexString() != data.HexString() {
		t.Errorf("Expected %s, got %s", data.HexString(), back.HexString())
	}
	def, err = c.GetArbDefinition(ctx, 3)
	if err != nil || def == nil {
		t.Fatalf("GetArbDefinition: %v %v", def, err)
	}
	if def.Name != "STEPS" || def.Interpolation != "ON" || def.Length != len(data) {
		t.Errorf("Unexpected definition %+v", def)
	}

	if n, err := c.GetExecutionErrors(ctx); err != nil || n != 0 {
		t.Errorf("Expected no execution errors, got %d (%v)", n, err)
	}
}
