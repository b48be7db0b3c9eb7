// Command tgf4000cs runs and manages the control server of an Aim-TTi
// TGF4000 arbitrary waveform generator.
package main

import (
	"context"
	"log/slog"

	"github.com/SaraRegibo/cgse/internal/awg"
	"github.com/SaraRegibo/cgse/internal/cli"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/controlserver"
	"github.com/SaraRegibo/cgse/internal/proxy"
)

func main() {
	cli.Run(cli.Family{
		Command:     "tgf4000cs",
		Title:       "TGF4000 AWG",
		ServiceType: awg.ServiceType,
		Open: func(ctx context.Context, deviceID string, settings config.DeviceSettings, simulator bool, logger *slog.Logger) (controlserver.Protocol, error) {
			return awg.OpenProtocol(ctx, deviceID, settings, simulator, logger)
		},
		Describe: describe,
	})
}

// describe reports the instrument's own network address.
func describe(ctx context.Context, ep proxy.Endpoint) []string {
	ip, err := awg.NewProxyForEndpoint(ep).GetIPAddress(ctx)
	if err != nil {
		return []string{"IP address: unknown"}
	}
	return []string{"IP address: " + ip}
}
