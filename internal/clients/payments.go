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

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// PaymentsClient submits transactions to the online payments backend.
type PaymentsClient struct {
	logger    *slog.Logger
	apiURL    string
	apiKey    string
	client    *http.Client
	isEnabled bool
}

func NewPaymentsClient(logger *slog.Logger, apiURL, apiKey string, timeout time.Duration) *PaymentsClient {
	isEnabled := apiURL != ""

	if !isEnabled {
		logger.Warn("Payments backend is disabled: no URL configured")
	} else {
		logger.Info("Payments backend initialized", "api_url", apiURL)
	}

	return &PaymentsClient{
		logger:    logger,
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
		isEnabled: isEnabled,
	}
}

func (c *PaymentsClient) IsEnabled() bool {
	return c.isEnabled
}

type paymentRequest struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Process sends the transaction. The transaction id doubles as the idempotency key
// so a retried attempt cannot move money twice.
func (c *PaymentsClient) Process(ctx context.Context, txn *entities.Transaction) (ports.PaymentReport, error) {
	if !c.isEnabled {
		return ports.PaymentReport{}, fmt.Errorf("payments backend not configured")
	}

	body, err := json.Marshal(paymentRequest{
		ID:        txn.ID,
		Sender:    txn.Sender,
		Recipient: txn.Recipient,
		Amount:    txn.Amount,
		CreatedAt: txn.CreatedAt,
	})
	if err != nil {
		return ports.PaymentReport{}, fmt.Errorf("failed to encode payment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return ports.PaymentReport{}, fmt.Errorf("failed to create payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", txn.ID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ports.PaymentReport{}, fmt.Errorf("failed to send payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ports.PaymentReport{}, fmt.Errorf("payments backend returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var report ports.PaymentReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return ports.PaymentReport{}, fmt.Errorf("failed to decode payment report: %w", err)
	}
	if !report.Success {
		return report, fmt.Errorf("payment declined: %s", report.Message)
	}

	c.logger.InfoContext(ctx, "Payment processed",
		"tx_id", txn.ID,
		"reference", report.Reference)

	return report, nil
}

// SimulatedPayments accepts every payment. Used when running without a backend.
type SimulatedPayments struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewSimulatedPayments(logger *slog.Logger) *SimulatedPayments {
	return &SimulatedPayments{logger: logger, now: time.Now}
}

func (s *SimulatedPayments) Process(ctx context.Context, txn *entities.Transaction) (ports.PaymentReport, error) {
	if err := ctx.Err(); err != nil {
		return ports.PaymentReport{}, err
	}

	report := ports.PaymentReport{
		Success:   true,
		Reference: fmt.Sprintf("SIM_%d", s.now().UnixMilli()),
		Message:   "payment simulated",
		Gateway:   "simulation",
	}
	s.logger.InfoContext(ctx, "Payment simulated", "tx_id", txn.ID, "reference", report.Reference)

	return report, nil
}
