package notifications

import (
	"fmt"
	"strconv"

	"github.com/sand/paymesh/backend/internal/entities"
)

// Kind names an outbound notification template.
type Kind string

const (
	PaymentNotification Kind = "payment_notification"
	SecurityAlert       Kind = "security_alert"
	ConfirmationRequest Kind = "confirmation_request"
	SuccessNotification Kind = "success_notification"
)

// Kinds lists every template the system may send for a transaction, in a stable order.
var Kinds = []Kind{PaymentNotification, SecurityAlert, ConfirmationRequest, SuccessNotification}

// Message is a rendered notification.
type Message struct {
	Kind Kind
	Body string
}

// Render produces the body of a single template for the transaction.
func Render(kind Kind, txn *entities.Transaction) string {
	amount := formatAmount(txn.Amount)

	switch kind {
	case PaymentNotification:
		return fmt.Sprintf("PayMesh: You are sending %s to %s. TXN: %s. Confirm to proceed.", amount, txn.Recipient, txn.ID)
	case SecurityAlert:
		return fmt.Sprintf("PayMesh Security: %s transfer to %s initiated. TXN: %s. Contact support if unauthorized.", amount, txn.Recipient, txn.ID)
	case ConfirmationRequest:
		return fmt.Sprintf("PayMesh: Confirm payment - Send %s to %s? Reply YES to confirm. TXN: %s", amount, txn.Recipient, txn.ID)
	default:
		return fmt.Sprintf("PayMesh: Payment successful - %s sent to %s. TXN: %s. Secure transaction completed.", amount, txn.Recipient, txn.ID)
	}
}

// All renders every template that would be sent if the transaction proceeds.
func All(txn *entities.Transaction) []Message {
	messages := make([]Message, 0, len(Kinds))
	for _, kind := range Kinds {
		messages = append(messages, Message{Kind: kind, Body: Render(kind, txn)})
	}
	return messages
}

// RiskLevel is a human readable label for a classifier confidence.
func RiskLevel(confidence float64) string {
	switch {
	case confidence > 0.8:
		return "CRITICAL"
	case confidence > 0.6:
		return "HIGH"
	case confidence > 0.3:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func formatAmount(amount float64) string {
	return "INR " + strconv.FormatFloat(amount, 'f', -1, 64)
}
