// Package registry lets control servers announce their endpoints and lets
// proxies discover them by service type.
package registry

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Discover when no service of the type is registered.
var ErrNotFound = errors.New("service not found")

// Metadata keys published by control servers.
const (
	MetaServicePort    = "service_port"
	MetaMonitoringPort = "monitoring_port"
	MetaDeviceID       = "device_id"
)

// Service is one registered control server.
type Service struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Protocol     string            `json:"protocol"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// Address returns host:port of the commanding endpoint.
func (s *Service) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MetadataPort returns an integer metadata value, or 0.
func (s *Service) MetadataPort(key string) int {
	port, err := strconv.Atoi(s.Metadata[key])
	if err != nil {
		return 0
	}
	return port
}

// Registry stores service registrations.
type Registry interface {
	Register(ctx context.Context, svc Service) (string, error)
	Deregister(ctx context.Context, id string) error
	Discover(ctx context.Context, serviceType string) (*Service, error)
	Close() error
}

// Open selects a backend from a URL: "memory" (or empty) for an in-process
// registry, otherwise a redis:// URL or host:port.
func Open(ctx context.Context, url string, opts RedisOptions) (Registry, error) {
	if url == "" || strings.EqualFold(url, "memory") {
		return NewMemory(), nil
	}
	return NewRedis(ctx, url, opts)
}
