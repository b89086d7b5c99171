package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/pkg/database"
)

var reconciliationColumns = []string{"id", "sender", "recipient", "amount", "created_at", "received_at"}

func recordQuery(sb sq.StatementBuilderType, req ports.SyncRequest, createdAt, receivedAt any) sq.InsertBuilder {
	return sb.Insert(reconciliationsTable).
		Columns(reconciliationColumns...).
		Values(req.ID, req.Sender, req.Recipient, req.Amount, createdAt, receivedAt).
		Suffix("ON CONFLICT (id) DO NOTHING")
}

// PostgresReconciliations is the sync server's record of acknowledged ids.
type PostgresReconciliations struct {
	logger *slog.Logger
	db     tx.DBGetter
	sb     sq.StatementBuilderType
}

func NewPostgresReconciliations(logger *slog.Logger, pg *database.Postgres) *PostgresReconciliations {
	return &PostgresReconciliations{
		logger: logger,
		db:     pg.DBGetter,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Record stores the id once. It reports whether this call created the record.
func (r *PostgresReconciliations) Record(ctx context.Context, req ports.SyncRequest, at time.Time) (bool, error) {
	var createdAt *time.Time
	if !req.CreatedAt.IsZero() {
		t := req.CreatedAt.UTC()
		createdAt = &t
	}

	query, args, err := recordQuery(r.sb, req, createdAt, at.UTC()).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build insert: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to record reconciliation: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PostgresReconciliations) Get(ctx context.Context, id string) (*entities.Reconciliation, error) {
	query, args, err := r.sb.Select(reconciliationColumns...).
		From(reconciliationsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var rec entities.Reconciliation
	err = r.db(ctx).QueryRow(ctx, query, args...).
		Scan(&rec.ID, &rec.Sender, &rec.Recipient, &rec.Amount, &rec.CreatedAt, &rec.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation: %w", err)
	}

	return &rec, nil
}

// SQLiteReconciliations is the single file variant used when the sync server runs standalone.
type SQLiteReconciliations struct {
	logger *slog.Logger
	sb     sq.StatementBuilderType
}

func NewSQLiteReconciliations(logger *slog.Logger, db *sql.DB) *SQLiteReconciliations {
	return &SQLiteReconciliations{
		logger: logger,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}

func (r *SQLiteReconciliations) Record(ctx context.Context, req ports.SyncRequest, at time.Time) (bool, error) {
	var createdAt *string
	if !req.CreatedAt.IsZero() {
		s := formatTime(req.CreatedAt)
		createdAt = &s
	}

	res, err := recordQuery(r.sb, req, createdAt, formatTime(at)).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to record reconciliation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (r *SQLiteReconciliations) Get(ctx context.Context, id string) (*entities.Reconciliation, error) {
	var (
		rec        entities.Reconciliation
		createdAt  sql.NullString
		receivedAt string
	)

	err := r.sb.Select(reconciliationColumns...).
		From(reconciliationsTable).
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx).
		Scan(&rec.ID, &rec.Sender, &rec.Recipient, &rec.Amount, &createdAt, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation: %w", err)
	}

	if rec.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t, err := parseTime(createdAt.String)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = &t
	}

	return &rec, nil
}
