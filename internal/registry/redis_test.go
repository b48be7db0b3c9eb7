package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), m.Addr(), RedisOptions{Prefix: "test", TTL: ttl})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, m
}

func TestRedisRegisterDiscover(t *testing.T) {
	r, m := newTestRedis(t, 30*time.Second)
	ctx := context.Background()

	if _, err := r.Discover(ctx, "tgf4000_cs"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	id, err := r.Register(ctx, Service{
		Name:     "tgf4000_cs_awg_1",
		Type:     "tgf4000_cs",
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     6100,
		Metadata: map[string]string{MetaServicePort: "6101", MetaMonitoringPort: "6102"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if ttl := m.TTL(r.serviceKey(id)); ttl != 30*time.Second {
		t.Errorf("Expected record TTL 30s, got %v", ttl)
	}
	if ok, _ := m.IsMember(r.typeKey("tgf4000_cs"), id); !ok {
		t.Errorf("Expected %s in the type index", id)
	}

	svc, err := r.Discover(ctx, "tgf4000_cs")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if svc.ID != id || svc.Address() != "127.0.0.1:6100" || svc.MetadataPort(MetaMonitoringPort) != 6102 {
		t.Errorf("Unexpected service %+v", svc)
	}

	if err := r.Deregister(ctx, id); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if m.Exists(r.serviceKey(id)) {
		t.Error("Expected record to be deleted")
	}
	if _, err := r.Discover(ctx, "tgf4000_cs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deregister, got %v", err)
	}
}

func TestRedisDiscoverSelection(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		services []Service
		dangling []string
		wantHost string
	}{
		{
			name: "newest wins",
			services: []Service{
				{ID: "old", Type: "pmx_a_cs", Host: "old-host", Port: 1, RegisteredAt: base},
				{ID: "new", Type: "pmx_a_cs", Host: "new-host", Port: 2, RegisteredAt: base.Add(time.Minute)},
			},
			wantHost: "new-host",
		},
		{
			name: "expired members skipped",
			services: []Service{
				{ID: "live", Type: "pmx_a_cs", Host: "live-host", Port: 1, RegisteredAt: base},
			},
			dangling: []string{"gone-1", "gone-2"},
			wantHost: "live-host",
		},
		{
			name:     "only expired members",
			dangling: []string{"gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := newTestRedis(t, 30*time.Second)
			ctx := context.Background()

			for _, svc := range tt.services {
				if _, err := r.Register(ctx, svc); err != nil {
					t.Fatalf("Register failed: %v", err)
				}
			}
			if len(tt.dangling) > 0 {
				m.SetAdd(r.typeKey("pmx_a_cs"), tt.dangling...)
			}

			svc, err := r.Discover(ctx, "pmx_a_cs")
			if tt.wantHost == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("Expected ErrNotFound, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("Discover failed: %v", err)
				}
				if svc.Host != tt.wantHost {
					t.Errorf("Expected host %s, got %s", tt.wantHost, svc.Host)
				}
			}

			for _, id := range tt.dangling {
				if ok, _ := m.IsMember(r.typeKey("pmx_a_cs"), id); ok {
					t.Errorf("Expected %s to be pruned from the index", id)
				}
			}
		})
	}
}

func TestRedisRecordExpires(t *testing.T) {
	m := miniredis.RunT(t)
	owner, err := NewRedis(context.Background(), m.Addr(), RedisOptions{Prefix: "test", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	ctx := context.Background()
	id, err := owner.Register(ctx, Service{Type: "tgf4000_cs", Host: "h", Port: 1})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// miniredis time only moves with FastForward, so no heartbeat refresh
	// can land between these two calls.
	m.FastForward(2 * time.Hour)

	if _, err := owner.Discover(ctx, "tgf4000_cs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired record to be skipped, got %v", err)
	}
	if ok, _ := m.IsMember(owner.typeKey("tgf4000_cs"), id); ok {
		t.Error("Expected expired member to be pruned")
	}
	if err := owner.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRedisHeartbeatRestoresLostRecord(t *testing.T) {
	r, m := newTestRedis(t, 300*time.Millisecond)
	ctx := context.Background()

	id, err := r.Register(ctx, Service{Type: "tgf4000_cs", Host: "127.0.0.1", Port: 6100})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.FlushAll()

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc, err := r.Discover(ctx, "tgf4000_cs")
		if err == nil {
			if svc.ID != id {
				t.Errorf("Expected restored %s, got %s", id, svc.ID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Registration was not restored: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if ttl := m.TTL(r.serviceKey(id)); ttl <= 0 {
		t.Errorf("Expected restored record to carry a TTL, got %v", ttl)
	}
}

func TestRedisCloseDeregisters(t *testing.T) {
	m := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), m.Addr(), RedisOptions{Prefix: "test"})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	id, err := r.Register(context.Background(), Service{Type: "pmx_a_cs", Host: "h", Port: 1})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.Exists(r.serviceKey(id)) {
		t.Error("Expected Close to remove owned records")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}
