package transport

import (
	"fmt"
	"log/slog"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/device"
)

// New builds the transport selected by TRANSPORT in the device settings.
func New(deviceID string, s config.DeviceSettings, identify IdentityCheck, logger *slog.Logger) (device.Transport, error) {
	switch s.Transport {
	case "", "ethernet", "tcp":
		return NewEthernet(EthernetConfig{
			DeviceID:    deviceID,
			Hostname:    s.Hostname,
			Port:        s.Port,
			ReadTimeout: s.ReadTimeoutDuration(),
			CmdDelay:    s.CmdDelayDuration(),
			Identify:    identify,
			Logger:      logger,
		}), nil
	case "serial":
		return NewSerial(SerialConfig{
			DeviceID:    deviceID,
			PortName:    s.SerialPort,
			BaudRate:    s.BaudRate,
			ReadTimeout: s.ReadTimeoutDuration(),
			CmdDelay:    s.CmdDelayDuration(),
			Identify:    identify,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("device %s: unknown transport %q", deviceID, s.Transport)
	}
}
