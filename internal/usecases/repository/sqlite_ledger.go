package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sand/paymesh/backend/internal/entities"
)

// SQLiteLedger is the on-device store backing the local-store channel.
type SQLiteLedger struct {
	logger *slog.Logger
	db     *sql.DB
	sb     sq.StatementBuilderType
}

func NewSQLiteLedger(logger *slog.Logger, db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{
		logger: logger,
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}

func (r *SQLiteLedger) Append(ctx context.Context, txn *entities.Transaction) (string, error) {
	annotations, err := annotationsValue(txn)
	if err != nil {
		return "", err
	}

	_, err = r.sb.Insert(transactionsTable).
		Columns(transactionColumns...).
		Values(txn.ID, txn.Sender, txn.Recipient, txn.Amount, txn.Content, formatTime(txn.CreatedAt),
			channelValue(txn), string(txn.Status), string(annotations), txn.Synced, formatTimePtr(txn.SyncedAt)).
		ExecContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.logger.InfoContext(ctx, "Transaction recorded",
		"tx_id", txn.ID,
		"status", txn.Status,
		"sender", txn.Sender)

	return txn.ID, nil
}

func (r *SQLiteLedger) MarkSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := markSyncedQuery(r.sb, id, formatTime(at)).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction synced: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		r.logger.InfoContext(ctx, "Transaction synced", "tx_id", id)
		return true, nil
	}

	var exists bool
	err = r.sb.Select("1").From(transactionsTable).Where(sq.Eq{"id": id}).
		QueryRowContext(ctx).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check if transaction exists: %w", err)
	}

	return false, nil
}

func (r *SQLiteLedger) FetchUnsynced(ctx context.Context, after entities.SyncCursor, limit int) ([]*entities.Transaction, error) {
	rows, err := unsyncedQuery(r.sb, after, formatTime(after.CreatedAt), limit).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced transactions: %w", err)
	}

	return r.collect(rows)
}

func (r *SQLiteLedger) TransactionCount(ctx context.Context, user string) (int, error) {
	var count int
	if err := countQuery(r.sb, user).QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

func (r *SQLiteLedger) RecentSuccessful(ctx context.Context, sender string, limit int) ([]entities.HistoryPoint, error) {
	rows, err := historyQuery(r.sb, sender, limit).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []entities.HistoryPoint
	for rows.Next() {
		var (
			p         entities.HistoryPoint
			createdAt string
		)
		if err := rows.Scan(&p.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

func (r *SQLiteLedger) Get(ctx context.Context, id string) (*entities.Transaction, error) {
	rows, err := r.sb.Select(transactionColumns...).
		From(transactionsTable).
		Where(sq.Eq{"id": id}).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	txns, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}

	return txns[0], nil
}

func (r *SQLiteLedger) collect(rows *sql.Rows) ([]*entities.Transaction, error) {
	defer rows.Close()

	var txns []*entities.Transaction
	for rows.Next() {
		var (
			rec         transactionRow
			createdAt   string
			syncedAt    sql.NullString
			annotations string
		)
		err := rows.Scan(&rec.ID, &rec.Sender, &rec.Recipient, &rec.Amount, &rec.Content, &createdAt,
			&rec.ChannelUsed, &rec.Status, &annotations, &rec.Synced, &syncedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}

		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if syncedAt.Valid {
			t, err := parseTime(syncedAt.String)
			if err != nil {
				return nil, err
			}
			rec.SyncedAt = &t
		}
		rec.Annotations = []byte(annotations)

		txn, err := rec.toEntity()
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
