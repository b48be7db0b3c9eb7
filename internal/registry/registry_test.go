package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRegisterDiscover(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "tgf4000_cs"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	id, err := reg.Register(ctx, Service{
		Name:     "tgf4000_cs",
		Type:     "tgf4000_cs",
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     6100,
		Metadata: map[string]string{MetaServicePort: "6101", MetaMonitoringPort: "6102"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated ID")
	}

	svc, err := reg.Discover(ctx, "tgf4000_cs")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if svc.Address() != "127.0.0.1:6100" {
		t.Errorf("Unexpected address %s", svc.Address())
	}
	if svc.MetadataPort(MetaServicePort) != 6101 || svc.MetadataPort("missing") != 0 {
		t.Errorf("Unexpected metadata %v", svc.Metadata)
	}

	if err := reg.Deregister(ctx, id); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if _, err := reg.Discover(ctx, "tgf4000_cs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deregister, got %v", err)
	}
}

func TestMemoryDiscoverNewest(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()
	now := time.Now()

	reg.Register(ctx, Service{ID: "old", Type: "pmx_a_cs", Host: "a", Port: 1, RegisteredAt: now.Add(-time.Minute)})
	reg.Register(ctx, Service{ID: "new", Type: "pmx_a_cs", Host: "b", Port: 2, RegisteredAt: now})
	reg.Register(ctx, Service{ID: "other", Type: "tgf4000_cs", Host: "c", Port: 3, RegisteredAt: now.Add(time.Minute)})

	svc, err := reg.Discover(ctx, "pmx_a_cs")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if svc.ID != "new" {
		t.Errorf("Expected newest registration, got %s", svc.ID)
	}
	if len(reg.List()) != 3 {
		t.Errorf("Expected 3 registrations, got %d", len(reg.List()))
	}
}

func TestMemoryRequiresType(t *testing.T) {
	if _, err := NewMemory().Register(context.Background(), Service{Host: "x"}); err == nil {
		t.Error("Expected error for missing type")
	}
}

func TestOpen(t *testing.T) {
	for _, url := range []string{"", "memory", "MEMORY"} {
		reg, err := Open(context.Background(), url, RedisOptions{})
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", url, err)
		}
		if _, ok := reg.(*Memory); !ok {
			t.Errorf("Open(%q) returned %T", url, reg)
		}
		reg.Close()
	}
}

func TestConnectParsesURL(t *testing.T) {
	client, err := Connect(context.Background(), "redis://localhost:6390/2")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if client.Options().Addr != "localhost:6390" || client.Options().DB != 2 {
		t.Errorf("Unexpected options %s db=%d", client.Options().Addr, client.Options().DB)
	}

	if _, err := Connect(context.Background(), "redis://%zz"); err == nil {
		t.Error("Expected error for malformed URL")
	}
}

func TestRedisKeys(t *testing.T) {
	client, _ := Connect(context.Background(), "localhost:6390")
	r := NewRedisWithClient(client, RedisOptions{Prefix: "test"})
	defer r.Close()

	if r.serviceKey("abc") != "test:service:abc" || r.typeKey("pmx_a_cs") != "test:type:pmx_a_cs" {
		t.Errorf("Unexpected keys %s %s", r.serviceKey("abc"), r.typeKey("pmx_a_cs"))
	}
}
