package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/pkg/database"
)

// PostgresLedger keeps the transaction log in Postgres.
type PostgresLedger struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	sb         sq.StatementBuilderType
}

func NewPostgresLedger(logger *slog.Logger, pg *database.Postgres) *PostgresLedger {
	return &PostgresLedger{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		sb:         sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Append inserts a new record. Records are never updated in place except for the sync flag.
func (r *PostgresLedger) Append(ctx context.Context, txn *entities.Transaction) (string, error) {
	annotations, err := annotationsValue(txn)
	if err != nil {
		return "", err
	}

	query, args, err := r.sb.Insert(transactionsTable).
		Columns(transactionColumns...).
		Values(txn.ID, txn.Sender, txn.Recipient, txn.Amount, txn.Content, txn.CreatedAt.UTC(),
			channelValue(txn), string(txn.Status), annotations, txn.Synced, txn.SyncedAt).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.logger.InfoContext(ctx, "Transaction recorded",
		"tx_id", txn.ID,
		"status", txn.Status,
		"sender", txn.Sender)

	return txn.ID, nil
}

// MarkSynced flips the flag of a queued record. Only the call that actually flipped it gets true.
func (r *PostgresLedger) MarkSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	var flipped bool

	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := markSyncedQuery(r.sb, id, at.UTC()).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}

		tag, err := r.db(ctx).Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mark transaction synced: %w", err)
		}
		if tag.RowsAffected() == 1 {
			flipped = true
			return nil
		}

		var exists bool
		err = r.db(ctx).QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)", id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check if transaction exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	if flipped {
		r.logger.InfoContext(ctx, "Transaction synced", "tx_id", id)
	}

	return flipped, nil
}

func (r *PostgresLedger) FetchUnsynced(ctx context.Context, after entities.SyncCursor, limit int) ([]*entities.Transaction, error) {
	query, args, err := unsyncedQuery(r.sb, after, after.CreatedAt, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	return r.collect(ctx, query, args...)
}

func (r *PostgresLedger) TransactionCount(ctx context.Context, user string) (int, error) {
	query, args, err := countQuery(r.sb, user).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}

	var count int
	if err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

func (r *PostgresLedger) RecentSuccessful(ctx context.Context, sender string, limit int) ([]entities.HistoryPoint, error) {
	query, args, err := historyQuery(r.sb, sender, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entities.HistoryPoint, error) {
		var p entities.HistoryPoint
		err := row.Scan(&p.Amount, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect history rows: %w", err)
	}

	return points, nil
}

func (r *PostgresLedger) Get(ctx context.Context, id string) (*entities.Transaction, error) {
	query, args, err := r.sb.Select(transactionColumns...).
		From(transactionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	txns, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}

	return txns[0], nil
}

func (r *PostgresLedger) collect(ctx context.Context, query string, args ...any) ([]*entities.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[transactionRow])
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to collect transactions rows", "error", err)
		return nil, err
	}

	txns := make([]*entities.Transaction, 0, len(records))
	for _, rec := range records {
		txn, err := rec.toEntity()
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, nil
}
