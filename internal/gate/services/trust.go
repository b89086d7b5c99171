package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// TrustLayer blocks transactions whose trust score falls strictly below the floor.
type TrustLayer struct {
	provider ports.TrustProvider
	floor    float64
}

func NewTrustLayer(provider ports.TrustProvider, floor float64) *TrustLayer {
	return &TrustLayer{provider: provider, floor: floor}
}

func (l *TrustLayer) Name() string {
	return entities.LayerTrust
}

func (l *TrustLayer) Evaluate(ctx context.Context, session entities.Session, txn *entities.Transaction) (entities.LayerResult, error) {
	if l.provider == nil {
		return entities.LayerResult{}, entities.ErrModelUnavailable
	}

	trust, err := l.provider.Trust(ctx, session.Identity(), txn.Amount, txn.TimeOfDay())
	if err != nil {
		return entities.LayerResult{}, fmt.Errorf("failed to compute trust score: %w", err)
	}

	result := entities.LayerResult{
		Score: 1 - trust.Score,
		Flags: trust.RiskFactors,
		Diagnostics: map[string]any{
			"trust_score": trust.Score,
			"floor":       l.floor,
		},
	}

	if slices.Contains(trust.RiskFactors, entities.FlagNotEnoughHistory) {
		result.Reason = "not enough history, neutral trust"
		return result, nil
	}

	if trust.Score < l.floor {
		result.Blocked = true
		result.Reason = fmt.Sprintf("trust score %.2f below floor %.2f %v", trust.Score, l.floor, trust.RiskFactors)
	}

	return result, nil
}
