package ports

import (
	"context"
	"time"

	"github.com/sand/paymesh/backend/internal/entities"
)

// Classifier is a pretrained binary text classifier.
type Classifier interface {
	Classify(ctx context.Context, text string) (entities.Classification, error)
	Available() bool
}

// AnomalyScorer is a reconstruction-error style behavioral model.
type AnomalyScorer interface {
	Score(ctx context.Context, amount float64, timeOfDay string) (entities.AnomalyScore, error)
	Available() bool
}

// TrustProvider scores a candidate against the sender's recent history.
type TrustProvider interface {
	Trust(ctx context.Context, sender string, amount float64, timeOfDay string) (entities.TrustScore, error)
}

// Ledger is the durable append-only transaction log and sync-state store.
type Ledger interface {
	Append(ctx context.Context, txn *entities.Transaction) (string, error)
	// MarkSynced returns true only for the call that flipped the flag.
	MarkSynced(ctx context.Context, id string, at time.Time) (bool, error)
	// FetchUnsynced pages through queued records strictly after the cursor, oldest first.
	FetchUnsynced(ctx context.Context, after entities.SyncCursor, limit int) ([]*entities.Transaction, error)
	TransactionCount(ctx context.Context, user string) (int, error)
	RecentSuccessful(ctx context.Context, sender string, limit int) ([]entities.HistoryPoint, error)
	Get(ctx context.Context, id string) (*entities.Transaction, error)
}

// SyncRequest is the body accepted by the remote reconciliation endpoint.
type SyncRequest struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// ReconciliationEndpoint returns nil only on explicit positive acknowledgement.
type ReconciliationEndpoint interface {
	Reconcile(ctx context.Context, req SyncRequest) error
}

// PaymentReport is the payment processor's outcome.
type PaymentReport struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
}

// PaymentProcessor is the online payment capability used by the network channel.
type PaymentProcessor interface {
	Process(ctx context.Context, txn *entities.Transaction) (PaymentReport, error)
}

// DeviceScanner performs a time-boxed proximity discovery scan.
type DeviceScanner interface {
	Scan(ctx context.Context) ([]entities.Device, error)
}

// VoucherExchanger hands a signed payment voucher to a nearby device.
type VoucherExchanger interface {
	Exchange(ctx context.Context, device entities.Device, payload []byte, signature []byte) error
}

// GatewayReceipt is what the messaging provider returns for an accepted message.
type GatewayReceipt struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
	Provider   string `json:"provider"`
}

// MessageGateway sends destination-addressed text messages.
type MessageGateway interface {
	Send(ctx context.Context, to, body string) (GatewayReceipt, error)
	Configured() bool
}

// EventPublisher fans out transaction state changes.
type EventPublisher interface {
	Publish(event entities.TransactionEvent)
}
