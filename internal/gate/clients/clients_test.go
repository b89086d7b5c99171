package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/entities"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier()

	c, err := k.Classify(context.Background(), "PayMesh: Payment successful - INR 100 sent to bob.")
	require.NoError(t, err)
	require.False(t, c.IsFlagged)
	require.Zero(t, c.Confidence)

	c, err = k.Classify(context.Background(), "URGENT ACTION required! Click here to verify account")
	require.NoError(t, err)
	require.True(t, c.IsFlagged)
	require.InDelta(t, 0.75, c.Confidence, 1e-9)
}

func TestKeywordClassifierToleratesObfuscation(t *testing.T) {
	k := NewKeywordClassifier()

	require.Equal(t, []string{"click here", "verify account"}, k.Matches("c1ick here to verlfy account"))
	require.Empty(t, k.Matches("dinner tonight?"))
}

func TestModelClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/classify", r.URL.Path)

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := classifyResponse{Confidence: 0.12}
		if req.Text == "claim prize" {
			resp = classifyResponse{IsPhishing: true, Confidence: 1.4}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewModelClassifier(testLogger, srv.URL+"/", time.Second)
	require.True(t, c.Available())

	got, err := c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, entities.Classification{Confidence: 0.12}, got)

	got, err = c.Classify(context.Background(), "claim prize")
	require.NoError(t, err)
	require.True(t, got.IsFlagged)
	require.Equal(t, 1.0, got.Confidence)
}

func TestModelClassifierUnavailable(t *testing.T) {
	c := NewModelClassifier(testLogger, "", time.Second)
	require.False(t, c.Available())

	_, err := c.Classify(context.Background(), "hello")
	require.ErrorIs(t, err, entities.ErrModelUnavailable)
}

func TestAnomalyScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "00:30", req.Time)

		_ = json.NewEncoder(w).Encode(scoreResponse{FraudScore: 0.31, IsFraud: true})
	}))
	defer srv.Close()

	s := NewAnomalyScorer(testLogger, srv.URL, time.Second)

	got, err := s.Score(context.Background(), 17000, "00:30")
	require.NoError(t, err)
	require.Equal(t, entities.AnomalyScore{Score: 0.31, IsAnomalous: true}, got)
}

func TestAnomalyScorerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewAnomalyScorer(testLogger, srv.URL, time.Second).Score(context.Background(), 1, "12:00")
	require.ErrorContains(t, err, "503")
}
