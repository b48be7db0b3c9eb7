package commands

import (
	"context"

	"github.com/SaraRegibo/cgse/internal/device"
)

// Path is the HTTP path of the commanding endpoint.
const Path = "/rpc"

// Method names shared by every device protocol.
const (
	MethodConnect     = "connect"
	MethodDisconnect  = "disconnect"
	MethodReconnect   = "reconnect"
	MethodIsConnected = "is_connected"
	MethodIsSimulator = "is_simulator"
	MethodPing        = "ping"
)

// DeviceHandlers exposes the connection operations of dev.
func DeviceHandlers(dev device.Interface) []Handler {
	return []Handler{
		Action(MethodConnect, "Open the connection to the device", dev.Connect),
		Action(MethodDisconnect, "Close the connection to the device", func(context.Context) error {
			return dev.Disconnect()
		}),
		Action(MethodReconnect, "Re-open the connection to the device", dev.Reconnect),
		Getter(MethodIsConnected, "Whether the device is connected and answers", func(ctx context.Context) (bool, error) {
			return dev.IsConnected(ctx), nil
		}),
		Getter(MethodIsSimulator, "Whether the device is a simulator", func(context.Context) (bool, error) {
			return dev.IsSimulator(), nil
		}),
	}
}

// PingHandler answers "pong"; control servers use it as a liveness check.
func PingHandler() Handler {
	return Getter(MethodPing, "Liveness check", func(context.Context) (string, error) {
		return "pong", nil
	})
}
