package gate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/gate"
	"github.com/sand/paymesh/backend/internal/gate/services"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubClassifier struct {
	available bool
	calls     int
	classify  func(text string) (entities.Classification, error)
}

func (s *stubClassifier) Available() bool { return s.available }

func (s *stubClassifier) Classify(_ context.Context, text string) (entities.Classification, error) {
	s.calls++
	return s.classify(text)
}

func fixed(confidence float64) func(string) (entities.Classification, error) {
	return func(string) (entities.Classification, error) {
		return entities.Classification{IsFlagged: confidence > 0.5, Confidence: confidence}, nil
	}
}

type stubScorer struct {
	available bool
	score     float64
	calls     int
}

func (s *stubScorer) Available() bool { return s.available }

func (s *stubScorer) Score(context.Context, float64, string) (entities.AnomalyScore, error) {
	s.calls++
	return entities.AnomalyScore{Score: s.score, IsAnomalous: s.score > 0.15}, nil
}

type stubTrust struct {
	result entities.TrustScore
	err    error
	calls  int
}

func (s *stubTrust) Trust(context.Context, string, float64, string) (entities.TrustScore, error) {
	s.calls++
	return s.result, s.err
}

type panickingLayer struct{}

func (panickingLayer) Name() string { return "PanickingLayer" }

func (panickingLayer) Evaluate(context.Context, entities.Session, *entities.Transaction) (entities.LayerResult, error) {
	panic("boom")
}

var session = entities.Session{UserID: "42", Username: "alice"}

func newTxn(t *testing.T, amount float64, content string) *entities.Transaction {
	t.Helper()
	txn, err := entities.NewTransaction(session, "bob", amount, content, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return txn
}

func newGate(failOpen bool, content, notify *stubClassifier, scorer *stubScorer, trust *stubTrust) *gate.SecurityGate {
	return gate.NewSecurityGate(testLogger, failOpen,
		services.NewContentPhishingLayer(content, 0.7),
		services.NewBehavioralFraudLayer(scorer, 0.15),
		services.NewTrustLayer(trust, 0.5),
		services.NewNotificationPhishingLayer(notify, 0.4),
	)
}

func TestGateBlocksOnContentAndShortCircuits(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.9)}
	notify := &stubClassifier{available: true, classify: fixed(0.1)}
	scorer := &stubScorer{available: true, score: 0.01}
	trust := &stubTrust{result: entities.TrustScore{Score: 1}}

	g := newGate(true, content, notify, scorer, trust)
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "URGENT click http://x to verify"))

	require.False(t, verdict.Allowed)
	require.Equal(t, entities.LayerContentPhishing, verdict.BlockingLayer)
	require.Contains(t, verdict.Reason, "phishing")
	require.Len(t, verdict.Layers, 1)
	require.Zero(t, scorer.calls)
	require.Zero(t, trust.calls)
	require.Zero(t, notify.calls)

	var blocked *entities.LayerBlockedError
	require.ErrorAs(t, verdict.Blocked(), &blocked)
	require.ErrorIs(t, verdict.Blocked(), entities.ErrLayerBlocked)
	require.Equal(t, entities.LayerContentPhishing, blocked.Layer)
}

func TestGateContentThresholdIsExclusive(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.7)}
	notify := &stubClassifier{available: true, classify: fixed(0.1)}

	g := newGate(true, content, notify, &stubScorer{available: true}, &stubTrust{result: entities.TrustScore{Score: 1}})
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "hello"))

	require.True(t, verdict.Allowed)
	require.Len(t, verdict.Layers, 4)
	require.InDelta(t, 0.7, verdict.RiskScore, 1e-9)
}

func TestGateAllowsWhenAllLayersPass(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.2)}
	notify := &stubClassifier{available: true, classify: fixed(0.3)}
	scorer := &stubScorer{available: true, score: 0.05}
	trust := &stubTrust{result: entities.TrustScore{Score: 0.75, RiskFactors: []string{entities.FlagOddHour}}}

	g := newGate(true, content, notify, scorer, trust)
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "rent"))

	require.True(t, verdict.Allowed)
	require.NoError(t, verdict.Blocked())
	require.Len(t, verdict.Layers, 4)
	require.Equal(t, []string{
		entities.LayerContentPhishing,
		entities.LayerBehavioralFraud,
		entities.LayerTrust,
		entities.LayerNotificationPhishing,
	}, layerNames(verdict))
	// max of 0.2, 0.05, 1-0.75, 0.3
	require.InDelta(t, 0.3, verdict.RiskScore, 1e-9)
	require.Equal(t, 4, notify.calls)
}

func TestGateFailOpenSkipsUnavailableModels(t *testing.T) {
	unavailable := &stubClassifier{available: false}
	scorer := &stubScorer{available: false}
	trust := &stubTrust{result: entities.TrustScore{Score: 0.5, RiskFactors: []string{entities.FlagNotEnoughHistory}}}

	g := newGate(true, unavailable, unavailable, scorer, trust)
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "hello"))

	require.True(t, verdict.Allowed)
	require.Len(t, verdict.Layers, 4)
	require.True(t, verdict.Layers[0].Skipped)
	require.True(t, verdict.Layers[1].Skipped)
	require.False(t, verdict.Layers[2].Skipped)
	require.True(t, verdict.Layers[3].Skipped)
	require.Zero(t, unavailable.calls)
}

func TestGateFailClosedBlocksOnMissingModel(t *testing.T) {
	unavailable := &stubClassifier{available: false}

	g := newGate(false, unavailable, unavailable, &stubScorer{available: true}, &stubTrust{result: entities.TrustScore{Score: 1}})
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "hello"))

	require.False(t, verdict.Allowed)
	require.Equal(t, entities.LayerContentPhishing, verdict.BlockingLayer)
	require.Equal(t, entities.ErrModelUnavailable.Error(), verdict.Reason)
}

func TestGateLayerErrorDoesNotAbortSiblings(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.1)}
	notify := &stubClassifier{available: true, classify: fixed(0.1)}
	trust := &stubTrust{err: errors.New("ledger offline")}

	g := newGate(true, content, notify, &stubScorer{available: true}, trust)
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, "hi"))

	require.True(t, verdict.Allowed)
	require.True(t, verdict.Layers[2].Skipped)
	require.Contains(t, verdict.Layers[2].Reason, "ledger offline")
	require.Equal(t, 4, notify.calls)
}

func TestGateRecoversFromPanickingLayer(t *testing.T) {
	g := gate.NewSecurityGate(testLogger, true, panickingLayer{})
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 1, ""))

	require.True(t, verdict.Allowed)
	require.True(t, verdict.Layers[0].Skipped)
	require.Contains(t, verdict.Layers[0].Reason, "boom")
}

func TestGateBehavioralBlock(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.1)}
	notify := &stubClassifier{available: true, classify: fixed(0.1)}
	trust := &stubTrust{result: entities.TrustScore{Score: 1}}

	g := newGate(true, content, notify, &stubScorer{available: true, score: 0.4}, trust)
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 17000, ""))

	require.False(t, verdict.Allowed)
	require.Equal(t, entities.LayerBehavioralFraud, verdict.BlockingLayer)
	require.Zero(t, trust.calls)
}

func TestGateNotificationUsesMaximumConfidence(t *testing.T) {
	content := &stubClassifier{available: true, classify: fixed(0.1)}
	notify := &stubClassifier{available: true, classify: func(text string) (entities.Classification, error) {
		if strings.Contains(text, "Reply YES") {
			return entities.Classification{IsFlagged: true, Confidence: 0.45}, nil
		}
		return entities.Classification{Confidence: 0.05}, nil
	}}

	g := newGate(true, content, notify, &stubScorer{available: true}, &stubTrust{result: entities.TrustScore{Score: 1}})
	verdict := g.Evaluate(context.Background(), session, newTxn(t, 100, ""))

	require.False(t, verdict.Allowed)
	require.Equal(t, entities.LayerNotificationPhishing, verdict.BlockingLayer)
	require.Contains(t, verdict.Reason, "confirmation_request")
	require.InDelta(t, 0.45, verdict.RiskScore, 1e-9)
}

func layerNames(v *entities.SecurityVerdict) []string {
	names := make([]string, 0, len(v.Layers))
	for _, l := range v.Layers {
		names = append(names, l.Layer)
	}
	return names
}
