// Package proxy gives client processes access to a device through its
// control server.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/registry"
)

// DefaultTimeout bounds every proxied call.
const DefaultTimeout = 10 * time.Second

// MonitoringPath is the SSE path of the monitoring endpoint.
const MonitoringPath = "/events"

// Endpoint locates the ports of one control server.
type Endpoint struct {
	DeviceID       string
	Protocol       string
	Host           string
	Port           int
	ServicePort    int
	MonitoringPort int
	Timeout        time.Duration
}

// URL returns the commanding URL.
func (e Endpoint) URL() string {
	protocol := e.Protocol
	if protocol == "" || protocol == "tcp" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s%s", protocol, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), commands.Path)
}

// ServiceAddress returns host:port of the service endpoint.
func (e Endpoint) ServiceAddress() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.ServicePort))
}

// MonitoringURL returns the SSE stream URL.
func (e Endpoint) MonitoringURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(e.Host, strconv.Itoa(e.MonitoringPort)), MonitoringPath)
}

// Resolve finds the control server of deviceID. A non-zero COMMANDING_PORT is
// used as configured; otherwise the registry is asked for SERVICE_TYPE.
func Resolve(ctx context.Context, deviceID string, cs config.ControlServerSettings, reg registry.Registry) (Endpoint, error) {
	ep := Endpoint{
		DeviceID:       deviceID,
		Protocol:       cs.Protocol,
		Host:           cs.Hostname,
		Port:           cs.CommandingPort,
		ServicePort:    cs.ServicePort,
		MonitoringPort: cs.MonitoringPort,
		Timeout:        DefaultTimeout,
	}
	if ep.Host == "" {
		ep.Host = "localhost"
	}
	if cs.CommandingPort != 0 {
		return ep, nil
	}

	if reg == nil {
		return Endpoint{}, device.ConnectionError(deviceID,
			fmt.Sprintf("no commanding port configured and no registry to discover %s", cs.ServiceType), nil)
	}
	svc, err := reg.Discover(ctx, cs.ServiceType)
	if errors.Is(err, registry.ErrNotFound) {
		return Endpoint{}, device.ConnectionError(deviceID, fmt.Sprintf("no service registered as %s", cs.ServiceType), err)
	}
	if err != nil {
		return Endpoint{}, device.ConnectionError(deviceID, "service discovery failed", err)
	}

	ep.Protocol = svc.Protocol
	ep.Host = svc.Host
	ep.Port = svc.Port
	ep.ServicePort = svc.MetadataPort(registry.MetaServicePort)
	ep.MonitoringPort = svc.MetadataPort(registry.MetaMonitoringPort)
	return ep, nil
}
