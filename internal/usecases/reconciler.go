package usecases

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

const lockStripes = 64

var tracer = otel.Tracer("github.com/sand/paymesh/backend/internal/usecases")

// SyncReport summarises one reconciliation cycle.
type SyncReport struct {
	Pending   int  `json:"pending"`
	Synced    int  `json:"synced"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Coalesced bool `json:"coalesced"`
}

// Reconciler drains the offline queue into the remote ledger.
type Reconciler struct {
	logger      *slog.Logger
	ledger      ports.Ledger
	endpoint    ports.ReconciliationEndpoint
	publisher   ports.EventPublisher
	timeout     time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time

	cycle sync.Mutex
	locks [lockStripes]sync.Mutex
}

func NewReconciler(
	logger *slog.Logger,
	ledger ports.Ledger,
	endpoint ports.ReconciliationEndpoint,
	publisher ports.EventPublisher,
	timeout time.Duration,
	batchSize int,
	concurrency int,
) *Reconciler {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if timeout <= 0 {
		timeout = ports.DefaultSyncTimeout
	}
	if concurrency < 1 {
		concurrency = 1
	}

	return &Reconciler{
		logger:      logger,
		ledger:      ledger,
		endpoint:    endpoint,
		publisher:   publisher,
		timeout:     timeout,
		batchSize:   batchSize,
		concurrency: concurrency,
		now:         time.Now,
	}
}

type syncOutcome int

const (
	outcomeSynced syncOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// Sync runs one cycle. A cycle started while another is running returns immediately.
func (r *Reconciler) Sync(ctx context.Context) (SyncReport, error) {
	if !r.cycle.TryLock() {
		r.logger.DebugContext(ctx, "Reconciliation already running, coalescing")
		return SyncReport{Coalesced: true}, nil
	}
	defer r.cycle.Unlock()

	ctx, span := tracer.Start(ctx, "Reconciler.Sync")
	defer span.End()

	var (
		report SyncReport
		cursor entities.SyncCursor
	)

	// keyset paging moves past records that stay queued
	for ctx.Err() == nil {
		page, err := r.ledger.FetchUnsynced(ctx, cursor, r.batchSize)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("failed to fetch queued transactions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		report.Pending += len(page)
		r.syncPage(ctx, page, &report)

		if r.batchSize <= 0 || len(page) < r.batchSize {
			break
		}
		cursor = entities.CursorAfter(page[len(page)-1])
	}

	if report.Pending == 0 {
		return report, nil
	}

	span.SetAttributes(
		attribute.Int("sync.pending", report.Pending),
		attribute.Int("sync.synced", report.Synced),
		attribute.Int("sync.failed", report.Failed),
	)

	r.logger.InfoContext(ctx, "Reconciliation cycle finished",
		"pending", report.Pending,
		"synced", report.Synced,
		"failed", report.Failed,
		"skipped", report.Skipped)

	return report, ctx.Err()
}

func (r *Reconciler) syncPage(ctx context.Context, page []*entities.Transaction, report *SyncReport) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, r.concurrency)
	)

loop:
	for _, txn := range page {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(txn *entities.Transaction) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.syncOne(ctx, txn)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSynced:
				report.Synced++
			case outcomeFailed:
				report.Failed++
			default:
				report.Skipped++
			}
		}(txn)
	}
	wg.Wait()
}

func (r *Reconciler) syncOne(ctx context.Context, txn *entities.Transaction) syncOutcome {
	lock := r.lockFor(txn.ID)
	lock.Lock()
	defer lock.Unlock()

	// another path may have synced it since the batch was read
	current, err := r.ledger.Get(ctx, txn.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to reload queued transaction", "tx_id", txn.ID, "error", err)
		return outcomeFailed
	}
	if current.Synced {
		return outcomeSkipped
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.endpoint.Reconcile(reqCtx, ports.SyncRequest{
		ID:        current.ID,
		Sender:    current.Sender,
		Recipient: current.Recipient,
		Amount:    current.Amount,
		CreatedAt: current.CreatedAt,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Transaction not acknowledged, keeping it queued", "tx_id", txn.ID, "error", err)
		return outcomeFailed
	}

	// use a context that survives cancellation: the remote side already has it
	flipped, err := r.ledger.MarkSynced(context.WithoutCancel(ctx), txn.ID, r.now())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to mark transaction synced", "tx_id", txn.ID, "error", err)
		return outcomeFailed
	}
	if !flipped {
		return outcomeSkipped
	}

	r.publisher.Publish(entities.TransactionEvent{
		TxID:      txn.ID,
		Status:    entities.StatusSynced,
		Channel:   string(entities.ChannelLocal),
		Timestamp: r.now(),
	})

	return outcomeSynced
}

func (r *Reconciler) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.locks[h.Sum32()%lockStripes]
}
