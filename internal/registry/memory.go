package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process registry.
type Memory struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{services: make(map[string]*Service)}
}

// Register stores svc and returns its ID, generating one when empty.
func (m *Memory) Register(_ context.Context, svc Service) (string, error) {
	if svc.Type == "" {
		return "", fmt.Errorf("service type is required")
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.RegisteredAt.IsZero() {
		svc.RegisteredAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ID] = &svc
	return svc.ID, nil
}

// Deregister removes a registration; unknown IDs are ignored.
func (m *Memory) Deregister(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, id)
	return nil
}

// Discover returns the most recently registered service of the type.
func (m *Memory) Discover(_ context.Context, serviceType string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*Service
	for _, svc := range m.services {
		if svc.Type == serviceType {
			matches = append(matches, svc)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceType)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].RegisteredAt.After(matches[j].RegisteredAt)
	})

	found := *matches[0]
	return &found, nil
}

// List returns all registrations.
func (m *Memory) List() []Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
