package repository

import (
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sand/paymesh/backend/internal/entities"
)

const (
	transactionsTable    = "transactions"
	reconciliationsTable = "reconciliations"

	// fixed width so that text timestamps sort chronologically
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

var transactionColumns = []string{
	"id", "sender", "recipient", "amount", "content", "created_at",
	"channel_used", "status", "annotations", "synced", "synced_at",
}

// statuses whose amounts count as the sender's successful history
var successfulStatuses = []string{
	string(entities.StatusSent),
	string(entities.StatusQueued),
	string(entities.StatusSynced),
}

type transactionRow struct {
	ID          string     `db:"id"`
	Sender      string     `db:"sender"`
	Recipient   string     `db:"recipient"`
	Amount      float64    `db:"amount"`
	Content     string     `db:"content"`
	CreatedAt   time.Time  `db:"created_at"`
	ChannelUsed *string    `db:"channel_used"`
	Status      string     `db:"status"`
	Annotations []byte     `db:"annotations"`
	Synced      bool       `db:"synced"`
	SyncedAt    *time.Time `db:"synced_at"`
}

func (r transactionRow) toEntity() (*entities.Transaction, error) {
	txn := &entities.Transaction{
		ID:        r.ID,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Amount:    r.Amount,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Status:    entities.TransactionStatus(r.Status),
		Synced:    r.Synced,
		SyncedAt:  r.SyncedAt,
	}
	if r.ChannelUsed != nil {
		ch := entities.Channel(*r.ChannelUsed)
		txn.ChannelUsed = &ch
	}
	if len(r.Annotations) > 0 {
		if err := json.Unmarshal(r.Annotations, &txn.Annotations); err != nil {
			return nil, fmt.Errorf("failed to decode annotations of %s: %w", r.ID, err)
		}
	}

	return txn, nil
}

func channelValue(txn *entities.Transaction) *string {
	if txn.ChannelUsed == nil {
		return nil
	}
	ch := string(*txn.ChannelUsed)
	return &ch
}

func annotationsValue(txn *entities.Transaction) ([]byte, error) {
	annotations := txn.Annotations
	if annotations == nil {
		annotations = []entities.RiskAnnotation{}
	}

	data, err := json.Marshal(annotations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotations: %w", err)
	}

	return data, nil
}

// unsyncedQuery selects queued records after the keyset cursor. createdAt is the
// cursor time in the driver's representation.
func unsyncedQuery(sb sq.StatementBuilderType, after entities.SyncCursor, createdAt any, limit int) sq.SelectBuilder {
	q := sb.Select(transactionColumns...).
		From(transactionsTable).
		Where(sq.Eq{"synced": false, "status": string(entities.StatusQueued)}).
		OrderBy("created_at ASC", "id ASC")
	if !after.IsZero() {
		q = q.Where(sq.Or{
			sq.Gt{"created_at": createdAt},
			sq.And{sq.Eq{"created_at": createdAt}, sq.Gt{"id": after.ID}},
		})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func countQuery(sb sq.StatementBuilderType, user string) sq.SelectBuilder {
	return sb.Select("COUNT(*)").
		From(transactionsTable).
		Where(sq.Or{sq.Eq{"sender": user}, sq.Eq{"recipient": user}})
}

func historyQuery(sb sq.StatementBuilderType, sender string, limit int) sq.SelectBuilder {
	return sb.Select("amount", "created_at").
		From(transactionsTable).
		Where(sq.Eq{"sender": sender, "status": successfulStatuses}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
}

func markSyncedQuery(sb sq.StatementBuilderType, id string, at any) sq.UpdateBuilder {
	return sb.Update(transactionsTable).
		Set("synced", true).
		Set("status", string(entities.StatusSynced)).
		Set("synced_at", at).
		Where(sq.Eq{"id": id, "synced": false, "status": string(entities.StatusQueued)})
}
