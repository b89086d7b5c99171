package services

import (
	"context"
	"fmt"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/notifications"
)

// NotificationPhishingLayer classifies every outbound template the transaction would produce.
// Its threshold is stricter than the content layer's.
type NotificationPhishingLayer struct {
	classifier ports.Classifier
	threshold  float64
}

func NewNotificationPhishingLayer(classifier ports.Classifier, threshold float64) *NotificationPhishingLayer {
	return &NotificationPhishingLayer{classifier: classifier, threshold: threshold}
}

func (l *NotificationPhishingLayer) Name() string {
	return entities.LayerNotificationPhishing
}

func (l *NotificationPhishingLayer) Evaluate(ctx context.Context, _ entities.Session, txn *entities.Transaction) (entities.LayerResult, error) {
	if l.classifier == nil || !l.classifier.Available() {
		return entities.LayerResult{}, entities.ErrModelUnavailable
	}

	var (
		highest   float64
		riskiest  notifications.Kind
		templates = make(map[string]any, len(notifications.Kinds))
	)

	for _, msg := range notifications.All(txn) {
		c, err := l.classifier.Classify(ctx, msg.Body)
		if err != nil {
			return entities.LayerResult{}, fmt.Errorf("failed to classify %s template: %w", msg.Kind, err)
		}

		templates[string(msg.Kind)] = map[string]any{
			"confidence": c.Confidence,
			"is_flagged": c.IsFlagged,
			"risk_level": notifications.RiskLevel(c.Confidence),
		}

		if riskiest == "" || c.Confidence > highest {
			highest = c.Confidence
			riskiest = msg.Kind
		}
	}

	result := entities.LayerResult{
		Score: highest,
		Diagnostics: map[string]any{
			"templates":         templates,
			"riskiest_template": string(riskiest),
			"threshold":         l.threshold,
		},
	}
	if highest > l.threshold {
		result.Blocked = true
		result.Reason = fmt.Sprintf("notification template %q flagged as phishing (confidence %.2f > %.2f)", riskiest, highest, l.threshold)
	}

	return result, nil
}
