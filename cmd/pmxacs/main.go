// Command pmxacs runs and manages the control server of a Kikusui PMX-A
// power supply.
package main

import (
	"context"
	"log/slog"

	"github.com/SaraRegibo/cgse/internal/cli"
	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/controlserver"
	"github.com/SaraRegibo/cgse/internal/proxy"
	"github.com/SaraRegibo/cgse/internal/psu"
)

func main() {
	cli.Run(cli.Family{
		Command:     "pmxacs",
		Title:       "PMX-A PSU",
		ServiceType: psu.ServiceType,
		Open: func(ctx context.Context, deviceID string, settings config.DeviceSettings, simulator bool, logger *slog.Logger) (controlserver.Protocol, error) {
			return psu.OpenProtocol(ctx, deviceID, settings, simulator, logger)
		},
		Describe: func(ctx context.Context, ep proxy.Endpoint) []string {
			id, err := psu.NewProxyForEndpoint(ep).GetID(ctx)
			if err != nil {
				return nil
			}
			return []string{"Instrument: " + id.Manufacturer + " " + id.Model + " " + id.Serial}
		},
	})
}
