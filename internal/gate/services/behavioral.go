package services

import (
	"context"
	"fmt"
	"math"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// BehavioralFraudLayer feeds (amount, time of day) into the anomaly scorer.
type BehavioralFraudLayer struct {
	scorer    ports.AnomalyScorer
	threshold float64
}

func NewBehavioralFraudLayer(scorer ports.AnomalyScorer, threshold float64) *BehavioralFraudLayer {
	return &BehavioralFraudLayer{scorer: scorer, threshold: threshold}
}

func (l *BehavioralFraudLayer) Name() string {
	return entities.LayerBehavioralFraud
}

func (l *BehavioralFraudLayer) Evaluate(ctx context.Context, _ entities.Session, txn *entities.Transaction) (entities.LayerResult, error) {
	if l.scorer == nil || !l.scorer.Available() {
		return entities.LayerResult{}, entities.ErrModelUnavailable
	}

	s, err := l.scorer.Score(ctx, txn.Amount, txn.TimeOfDay())
	if err != nil {
		return entities.LayerResult{}, fmt.Errorf("failed to score transaction: %w", err)
	}

	result := entities.LayerResult{
		Score: math.Min(1, math.Max(0, s.Score)),
		Diagnostics: map[string]any{
			"anomaly_score": s.Score,
			"is_anomalous":  s.IsAnomalous,
			"threshold":     l.threshold,
		},
	}
	if s.Score > l.threshold {
		result.Blocked = true
		result.Reason = fmt.Sprintf("behavioral anomaly score %.3f exceeds %.3f", s.Score, l.threshold)
	}

	return result, nil
}
