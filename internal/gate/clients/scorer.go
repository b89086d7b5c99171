package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sand/paymesh/backend/internal/entities"
)

// AnomalyScorer calls the autoencoder fraud model served over HTTP.
type AnomalyScorer struct {
	logger    *slog.Logger
	apiURL    string
	client    *http.Client
	isEnabled bool
}

func NewAnomalyScorer(logger *slog.Logger, apiURL string, timeout time.Duration) *AnomalyScorer {
	isEnabled := apiURL != ""

	if !isEnabled {
		logger.Warn("Anomaly scorer is unavailable: no model URL configured")
	} else {
		logger.Info("Anomaly scorer initialized", "api_url", apiURL)
	}

	return &AnomalyScorer{
		logger:    logger,
		apiURL:    strings.TrimRight(apiURL, "/"),
		client:    &http.Client{Timeout: timeout},
		isEnabled: isEnabled,
	}
}

func (s *AnomalyScorer) Available() bool {
	return s.isEnabled
}

type scoreRequest struct {
	Amount float64 `json:"amount"`
	Time   string  `json:"time"`
}

type scoreResponse struct {
	FraudScore float64 `json:"fraud_score"`
	IsFraud    bool    `json:"is_fraud"`
	Error      string  `json:"error,omitempty"`
}

// Score returns the reconstruction error for (amount, HH:MM).
func (s *AnomalyScorer) Score(ctx context.Context, amount float64, timeOfDay string) (entities.AnomalyScore, error) {
	if !s.isEnabled {
		return entities.AnomalyScore{}, entities.ErrModelUnavailable
	}

	var resp scoreResponse
	if err := postJSON(ctx, s.client, s.apiURL+"/score", scoreRequest{Amount: amount, Time: timeOfDay}, &resp); err != nil {
		return entities.AnomalyScore{}, fmt.Errorf("scorer request failed: %w", err)
	}
	if resp.Error != "" {
		return entities.AnomalyScore{}, fmt.Errorf("scorer error: %s", resp.Error)
	}

	return entities.AnomalyScore{Score: resp.FraudScore, IsAnomalous: resp.IsFraud}, nil
}
