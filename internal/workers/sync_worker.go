package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/usecases"
)

type Syncer interface {
	Sync(ctx context.Context) (usecases.SyncReport, error)
}

// SyncWorker drains the offline queue periodically and whenever it is triggered.
type SyncWorker struct {
	logger   *slog.Logger
	syncer   Syncer
	interval time.Duration
	trigger  chan struct{}
}

func NewSyncWorker(logger *slog.Logger, syncer Syncer, interval time.Duration) *SyncWorker {
	if interval <= 0 {
		interval = ports.DefaultSyncInterval
	}

	return &SyncWorker{
		logger:   logger,
		syncer:   syncer,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a cycle without blocking. Requests arriving while one is pending collapse into it.
func (w *SyncWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start runs until ctx is cancelled. Unsynced records stay in the ledger for the next run.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info("Starting sync worker", "interval", w.interval.String())

	w.run(ctx, "initial")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker stopped")
			return
		case <-ticker.C:
			w.run(ctx, "interval")
		case <-w.trigger:
			w.run(ctx, "trigger")
		}
	}
}

func (w *SyncWorker) run(ctx context.Context, reason string) {
	report, err := w.syncer.Sync(ctx)
	if err != nil {
		w.logger.Error("Sync cycle failed", "reason", reason, "error", err)
		return
	}

	if report.Synced > 0 || report.Failed > 0 {
		w.logger.Info("Sync cycle completed",
			"reason", reason,
			"synced", report.Synced,
			"failed", report.Failed)
	} else {
		w.logger.Debug("Nothing to sync", "reason", reason, "coalesced", report.Coalesced)
	}
}
