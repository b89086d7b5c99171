package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.openly.dev/pointy"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusBlocked TransactionStatus = "blocked"
	StatusSent    TransactionStatus = "sent"
	StatusQueued  TransactionStatus = "queued"
	StatusSynced  TransactionStatus = "synced"
)

// allowed forward transitions
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending: {StatusBlocked, StatusSent, StatusQueued},
	StatusQueued:  {StatusSynced},
}

// RiskAnnotation is one gate layer's finding attached to a transaction.
type RiskAnnotation struct {
	Layer   string    `json:"layer"`
	Score   float64   `json:"score"`
	Blocked bool      `json:"blocked"`
	Skipped bool      `json:"skipped,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Flags   []string  `json:"flags,omitempty"`
	At      time.Time `json:"at"`
}

// Transaction represents a value transfer submitted from the device.
type Transaction struct {
	ID          string            `json:"id"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient"`
	Amount      float64           `json:"amount"`
	Content     string            `json:"content,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ChannelUsed *Channel          `json:"channel_used,omitempty"`
	Status      TransactionStatus `json:"status"`
	Annotations []RiskAnnotation  `json:"annotations,omitempty"`
	Synced      bool              `json:"synced"`
	SyncedAt    *time.Time        `json:"synced_at,omitempty"`
}

// NewTransaction validates the input and creates a pending transaction.
func NewTransaction(session Session, recipient string, amount float64, content string, now time.Time) (*Transaction, error) {
	if !(amount > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if recipient == "" {
		return nil, ErrMissingRecipient
	}

	return &Transaction{
		ID:        uuid.New().String(),
		Sender:    session.Identity(),
		Recipient: recipient,
		Amount:    amount,
		Content:   content,
		CreatedAt: now,
		Status:    StatusPending,
	}, nil
}

// TimeOfDay renders the creation time as HH:MM, the format the risk models expect.
func (t *Transaction) TimeOfDay() string {
	return t.CreatedAt.Format("15:04")
}

// Transition moves the transaction forward. Backward or sideways moves are rejected.
func (t *Transaction) Transition(to TransactionStatus) error {
	for _, next := range transitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
}

// Dispatch records the channel that carried the transaction. It can be set only once.
func (t *Transaction) Dispatch(channel Channel, status TransactionStatus) error {
	if t.ChannelUsed != nil {
		return fmt.Errorf("%w: already dispatched via %s", ErrInvalidTransition, *t.ChannelUsed)
	}
	if err := t.Transition(status); err != nil {
		return err
	}
	t.ChannelUsed = pointy.Pointer(channel)

	return nil
}

// MarkSynced flags a queued transaction as confirmed by the remote ledger.
func (t *Transaction) MarkSynced(at time.Time) error {
	if t.Synced {
		return nil
	}
	if err := t.Transition(StatusSynced); err != nil {
		return err
	}
	t.Synced = true
	t.SyncedAt = pointy.Pointer(at)

	return nil
}

// Annotate appends the verdict's layer results. Existing annotations are never touched.
func (t *Transaction) Annotate(verdict *SecurityVerdict, at time.Time) {
	for _, layer := range verdict.Layers {
		t.Annotations = append(t.Annotations, RiskAnnotation{
			Layer:   layer.Layer,
			Score:   layer.Score,
			Blocked: layer.Blocked,
			Skipped: layer.Skipped,
			Reason:  layer.Reason,
			Flags:   append([]string(nil), layer.Flags...),
			At:      at,
		})
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.ChannelUsed != nil {
		c.ChannelUsed = pointy.Pointer(*t.ChannelUsed)
	}
	if t.SyncedAt != nil {
		c.SyncedAt = pointy.Pointer(*t.SyncedAt)
	}
	c.Annotations = make([]RiskAnnotation, len(t.Annotations))
	for i, a := range t.Annotations {
		a.Flags = append([]string(nil), a.Flags...)
		c.Annotations[i] = a
	}

	return &c
}

// HistoryPoint is a prior successful transaction used by the trust layer.
type HistoryPoint struct {
	Amount    float64
	CreatedAt time.Time
}

// TransactionEvent is broadcast to subscribers when a transaction changes state.
type TransactionEvent struct {
	TxID      string            `json:"tx_id"`
	Status    TransactionStatus `json:"status"`
	Channel   string            `json:"channel,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
