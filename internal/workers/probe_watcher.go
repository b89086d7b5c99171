package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

type Prober interface {
	Snapshot(ctx context.Context, force bool) *entities.CapabilitySnapshot
}

// ProbeWatcher refreshes the capability snapshot so that connectivity changes are
// noticed even when no payment is being made.
type ProbeWatcher struct {
	logger   *slog.Logger
	prober   Prober
	interval time.Duration
}

func NewProbeWatcher(logger *slog.Logger, prober Prober, interval time.Duration) *ProbeWatcher {
	if interval <= 0 {
		interval = ports.DefaultSnapshotTTL
	}

	return &ProbeWatcher{logger: logger, prober: prober, interval: interval}
}

func (w *ProbeWatcher) Start(ctx context.Context) {
	w.logger.Info("Starting probe watcher", "interval", w.interval.String())

	w.prober.Snapshot(ctx, true)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Probe watcher stopped")
			return
		case <-ticker.C:
			w.prober.Snapshot(ctx, true)
		}
	}
}
