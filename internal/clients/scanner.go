package clients

import (
	"context"
	"log/slog"

	"github.com/sand/paymesh/backend/internal/entities"
)

// SimulatedScanner stands in for the radio when no proximity hardware is present.
type SimulatedScanner struct {
	logger  *slog.Logger
	devices []entities.Device
}

// NewSimulatedScanner reports the given devices, or a single mock point of sale when none are given.
func NewSimulatedScanner(logger *slog.Logger, devices ...entities.Device) *SimulatedScanner {
	if len(devices) == 0 {
		devices = []entities.Device{{
			Name:    "PayMesh_Mock_POS",
			Address: "12:34:56:78:90:AB",
			RSSI:    -45,
		}}
	}

	return &SimulatedScanner{logger: logger, devices: devices}
}

func (s *SimulatedScanner) Scan(ctx context.Context) ([]entities.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "Simulated proximity scan", "devices", len(s.devices))

	out := make([]entities.Device, len(s.devices))
	copy(out, s.devices)

	return out, nil
}
