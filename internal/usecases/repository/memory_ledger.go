package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/sand/paymesh/backend/internal/entities"
)

// MemoryLedger is a process local ledger for simulation runs and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*entities.Transaction
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*entities.Transaction)}
}

func (l *MemoryLedger) Append(_ context.Context, txn *entities.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[txn.ID]; ok {
		return "", fmt.Errorf("transaction %s already recorded", txn.ID)
	}
	l.records[txn.ID] = txn.Clone()

	return txn.ID, nil
}

func (l *MemoryLedger) MarkSynced(_ context.Context, id string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	if rec.Synced || rec.Status != entities.StatusQueued {
		return false, nil
	}
	if err := rec.MarkSynced(at); err != nil {
		return false, err
	}

	return true, nil
}

func (l *MemoryLedger) FetchUnsynced(_ context.Context, after entities.SyncCursor, limit int) ([]*entities.Transaction, error) {
	out := l.filter(func(t *entities.Transaction) bool {
		return !t.Synced && t.Status == entities.StatusQueued && after.Follows(t)
	})
	slices.SortStableFunc(out, func(a, b *entities.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (l *MemoryLedger) TransactionCount(_ context.Context, user string) (int, error) {
	return len(l.filter(func(t *entities.Transaction) bool {
		return t.Sender == user || t.Recipient == user
	})), nil
}

func (l *MemoryLedger) RecentSuccessful(_ context.Context, sender string, limit int) ([]entities.HistoryPoint, error) {
	out := l.filter(func(t *entities.Transaction) bool {
		return t.Sender == sender && slices.Contains(successfulStatuses, string(t.Status))
	})
	slices.SortStableFunc(out, func(a, b *entities.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	points := make([]entities.HistoryPoint, 0, len(out))
	for _, t := range out {
		points = append(points, entities.HistoryPoint{Amount: t.Amount, CreatedAt: t.CreatedAt})
	}

	return points, nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (*entities.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}

	return rec.Clone(), nil
}

// filter returns matching records in id order, so a stable sort by time breaks ties by id
// the same way the SQL ledgers do.
func (l *MemoryLedger) filter(keep func(*entities.Transaction) bool) []*entities.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := maps.Keys(l.records)
	slices.Sort(ids)

	var out []*entities.Transaction
	for _, id := range ids {
		if rec := l.records[id]; keep(rec) {
			out = append(out, rec.Clone())
		}
	}

	return out
}
