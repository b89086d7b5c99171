package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sand/paymesh/backend/internal/entities"
)

// ModelClassifier calls the phishing text classifier served over HTTP.
type ModelClassifier struct {
	logger    *slog.Logger
	apiURL    string
	client    *http.Client
	isEnabled bool
}

// NewModelClassifier creates a classifier client. An empty URL leaves it unavailable.
func NewModelClassifier(logger *slog.Logger, apiURL string, timeout time.Duration) *ModelClassifier {
	isEnabled := apiURL != ""

	if !isEnabled {
		logger.Warn("Phishing classifier is unavailable: no model URL configured")
	} else {
		logger.Info("Phishing classifier initialized", "api_url", apiURL)
	}

	return &ModelClassifier{
		logger:    logger,
		apiURL:    strings.TrimRight(apiURL, "/"),
		client:    &http.Client{Timeout: timeout},
		isEnabled: isEnabled,
	}
}

// Available reports whether the model is configured.
func (c *ModelClassifier) Available() bool {
	return c.isEnabled
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	IsPhishing bool    `json:"is_phishing"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Classify returns the model's phishing decision for the text.
func (c *ModelClassifier) Classify(ctx context.Context, text string) (entities.Classification, error) {
	if !c.isEnabled {
		return entities.Classification{}, entities.ErrModelUnavailable
	}

	var resp classifyResponse
	if err := postJSON(ctx, c.client, c.apiURL+"/classify", classifyRequest{Text: text}, &resp); err != nil {
		return entities.Classification{}, fmt.Errorf("classifier request failed: %w", err)
	}
	if resp.Error != "" {
		return entities.Classification{}, fmt.Errorf("classifier error: %s", resp.Error)
	}

	return entities.Classification{
		IsFlagged:  resp.IsPhishing,
		Confidence: clamp01(resp.Confidence),
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("non-200 status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
