package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sand/paymesh/backend/internal/entities"
)

var tracer = otel.Tracer("github.com/sand/paymesh/backend/internal/gate")

// Layer is one independent scoring step of the gate.
type Layer interface {
	Name() string
	Evaluate(ctx context.Context, session entities.Session, txn *entities.Transaction) (entities.LayerResult, error)
}

// SecurityGate runs its layers in fixed order and stops at the first block.
type SecurityGate struct {
	logger   *slog.Logger
	layers   []Layer
	failOpen bool
}

// NewSecurityGate creates a gate over the given ordered layers.
// With failOpen a layer whose model is missing or failing is skipped; otherwise it blocks.
func NewSecurityGate(logger *slog.Logger, failOpen bool, layers ...Layer) *SecurityGate {
	if !failOpen {
		logger.Warn("Security gate running fail-closed: missing models will block transactions")
	}

	return &SecurityGate{
		logger:   logger,
		layers:   layers,
		failOpen: failOpen,
	}
}

// FailOpen reports the configured missing-model policy.
func (g *SecurityGate) FailOpen() bool {
	return g.failOpen
}

// Evaluate scores the transaction. It never mutates the transaction.
func (g *SecurityGate) Evaluate(ctx context.Context, session entities.Session, txn *entities.Transaction) *entities.SecurityVerdict {
	ctx, span := tracer.Start(ctx, "gate.Evaluate")
	defer span.End()

	verdict := &entities.SecurityVerdict{Allowed: true, Layers: make([]entities.LayerResult, 0, len(g.layers))}

	for _, layer := range g.layers {
		result := g.runLayer(ctx, session, txn, layer)
		verdict.Layers = append(verdict.Layers, result)

		if result.Score > verdict.RiskScore {
			verdict.RiskScore = result.Score
		}

		if result.Blocked {
			verdict.Allowed = false
			verdict.BlockingLayer = result.Layer
			verdict.Reason = result.Reason
			verdict.RiskScore = result.Score
			break
		}
	}

	span.SetAttributes(
		attribute.String("tx_id", txn.ID),
		attribute.Bool("allowed", verdict.Allowed),
		attribute.Float64("risk_score", verdict.RiskScore),
		attribute.Int("layers_run", len(verdict.Layers)),
	)

	return verdict
}

func (g *SecurityGate) runLayer(ctx context.Context, session entities.Session, txn *entities.Transaction, layer Layer) (result entities.LayerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = g.unavailable(layer.Name(), fmt.Errorf("layer panicked: %v", r))
		}
	}()

	result, err := layer.Evaluate(ctx, session, txn)
	if err != nil {
		return g.unavailable(layer.Name(), err)
	}
	result.Layer = layer.Name()

	return result
}

// unavailable applies the missing-model policy to a layer that could not score.
func (g *SecurityGate) unavailable(name string, err error) entities.LayerResult {
	reason := err.Error()
	if errors.Is(err, entities.ErrModelUnavailable) {
		reason = entities.ErrModelUnavailable.Error()
	}

	if g.failOpen {
		return entities.LayerResult{
			Layer:   name,
			Skipped: true,
			Reason:  reason,
			Flags:   []string{entities.FlagModelUnavailable},
		}
	}

	return entities.LayerResult{
		Layer:   name,
		Score:   1,
		Blocked: true,
		Reason:  reason,
		Flags:   []string{entities.FlagModelUnavailable},
	}
}
