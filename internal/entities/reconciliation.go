package entities

import "time"

// Reconciliation is the remote ledger's record of an acknowledged transaction.
type Reconciliation struct {
	ID         string     `json:"id"`
	Sender     string     `json:"sender,omitempty"`
	Recipient  string     `json:"recipient,omitempty"`
	Amount     float64    `json:"amount,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// SyncCursor is a keyset position in the offline queue, ordered by creation time then id.
// The zero cursor starts at the head of the queue.
type SyncCursor struct {
	CreatedAt time.Time
	ID        string
}

func (c SyncCursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// CursorAfter positions a cursor just past txn.
func CursorAfter(txn *Transaction) SyncCursor {
	return SyncCursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
}

// Follows reports whether txn sorts strictly after the cursor.
func (c SyncCursor) Follows(txn *Transaction) bool {
	if c.IsZero() {
		return true
	}
	if cmp := txn.CreatedAt.Compare(c.CreatedAt); cmp != 0 {
		return cmp > 0
	}
	return txn.ID > c.ID
}
