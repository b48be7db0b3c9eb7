package psu

import (
	"context"
	"testing"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/device/devicetest"
	"github.com/SaraRegibo/cgse/internal/devsim"
)

func startInstrument(t *testing.T) config.DeviceSettings {
	t.Helper()
	inst := devsim.NewInstrument(devsim.PMXA(), devsim.Options{})
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
	return config.DeviceSettings{Family: config.FamilyPMXA, Hostname: "127.0.0.1", Port: srv.Port(), ReadTimeout: 1}
}

func TestControllerConformanceOverTCP(t *testing.T) {
	settings := startInstrument(t)
	devicetest.RunConformance(t, func() device.Interface {
		c, err := NewController("PSU-1", settings, nil)
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		return c
	}, devicetest.Expectations{})
}

func TestControllerOverTCP(t *testing.T) {
	c, err := NewController("PSU-1", startInstrument(t), nil)
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
	if id.Model != "PMX18-5A" || id.Serial != "SIM00001" {
		t.Errorf("Unexpected identification %+v", id)
	}

	if err := c.SetVoltage(ctx, 12); err != nil {
		t.Fatalf("SetVoltage: %v", err)
	}
	if err := c.SetCurrent(ctx, 0.5); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := c.SetOutput(ctx, true); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	if on, _ := c.GetOutput(ctx); !on {
		t.Error("Expected output on")
	}
	if v, _ := c.MeasureVoltage(ctx); v != 12 {
		t.Errorf("Expected 12 V, got %g", v)
	}
	if i, _ := c.MeasureCurrent(ctx); i != 0.5 {
		t.Errorf("Expected 0.5 A, got %g", i)
	}

	if err := c.SetOverVoltageProtection(ctx, 10); err != nil {
		t.Fatalf("SetOverVoltageProtection: %v", err)
	}
	if on, _ := c.GetOutput(ctx); on {
		t.Error("Expected protection to switch the output off")
	}
	entry, err := c.GetError(ctx)
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if entry.Code != -200 {
		t.Errorf("Expected error -200, got %+v", entry)
	}
	if entry, _ := c.GetError(ctx); entry.Code != 0 || entry.Message != "No error" {
		t.Errorf("Expected empty error queue, got %+v", entry)
	}

	if err := c.ClearProtection(ctx); err != nil {
		t.Fatalf("ClearProtection: %v", err)
	}
	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v, _ := c.GetVoltage(ctx); v != 0 {
		t.Errorf("Expected 0 V after reset, got %g", v)
	}
}
