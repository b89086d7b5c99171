package probe

import (
	"context"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// GatewayChecker reports whether the messaging gateway is configured and authenticated.
// Simulation mode forces it available.
func GatewayChecker(gateway ports.MessageGateway, simulation bool) Checker {
	return CheckerFunc(func(context.Context) entities.ChannelCapability {
		switch {
		case simulation:
			return entities.ChannelCapability{Available: true, Diagnostics: map[string]any{"provider": "simulation"}}
		case gateway != nil && gateway.Configured():
			return entities.ChannelCapability{Available: true, Diagnostics: map[string]any{"provider": "configured"}}
		default:
			return entities.ChannelCapability{Diagnostics: map[string]any{"reason": "gateway credentials not configured"}}
		}
	})
}

// LocalStoreChecker is available whenever local storage is enabled.
func LocalStoreChecker(enabled bool) Checker {
	if enabled {
		return Static(true, "initialized")
	}
	return Static(false, "disabled by configuration")
}
