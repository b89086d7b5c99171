package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// ContentPhishingLayer classifies the free text attached to a transaction.
type ContentPhishingLayer struct {
	classifier ports.Classifier
	threshold  float64
}

func NewContentPhishingLayer(classifier ports.Classifier, threshold float64) *ContentPhishingLayer {
	return &ContentPhishingLayer{classifier: classifier, threshold: threshold}
}

func (l *ContentPhishingLayer) Name() string {
	return entities.LayerContentPhishing
}

func (l *ContentPhishingLayer) Evaluate(ctx context.Context, _ entities.Session, txn *entities.Transaction) (entities.LayerResult, error) {
	if strings.TrimSpace(txn.Content) == "" {
		return entities.LayerResult{Reason: "no content to classify"}, nil
	}
	if l.classifier == nil || !l.classifier.Available() {
		return entities.LayerResult{}, entities.ErrModelUnavailable
	}

	c, err := l.classifier.Classify(ctx, txn.Content)
	if err != nil {
		return entities.LayerResult{}, fmt.Errorf("failed to classify content: %w", err)
	}

	result := entities.LayerResult{
		Score: c.Confidence,
		Diagnostics: map[string]any{
			"is_flagged": c.IsFlagged,
			"confidence": c.Confidence,
			"threshold":  l.threshold,
		},
	}
	if c.Confidence > l.threshold {
		result.Blocked = true
		result.Reason = fmt.Sprintf("content flagged as phishing (confidence %.2f > %.2f)", c.Confidence, l.threshold)
	}

	return result, nil
}
