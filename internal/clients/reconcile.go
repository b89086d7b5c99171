package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/probe"
)

// ReconcileClient reports queued transactions to the remote ledger.
type ReconcileClient struct {
	logger   *slog.Logger
	endpoint string
	tokens   probe.TokenSource
	client   *http.Client
}

func NewReconcileClient(logger *slog.Logger, endpoint string, tokens probe.TokenSource, timeout time.Duration) *ReconcileClient {
	return &ReconcileClient{
		logger:   logger,
		endpoint: endpoint,
		tokens:   tokens,
		client:   &http.Client{Timeout: timeout},
	}
}

type reconcileResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// Reconcile succeeds only on a 200 with status "success". Anything else, including an
// unreadable body, counts as a failure so the record stays queued.
func (c *ReconcileClient) Reconcile(ctx context.Context, req ports.SyncRequest) error {
	if c.endpoint == "" {
		return fmt.Errorf("%w: no endpoint configured", entities.ErrSyncFailed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		switch {
		case errors.Is(err, ErrNoTokenSecret):
		case err != nil:
			return fmt.Errorf("%w: %v", entities.ErrSyncFailed, err)
		default:
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrSyncFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", entities.ErrSyncFailed, resp.StatusCode, string(raw))
	}

	var result reconcileResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%w: unreadable acknowledgement: %v", entities.ErrSyncFailed, err)
	}
	if result.Status != "success" {
		return fmt.Errorf("%w: %s", entities.ErrSyncFailed, result.Msg)
	}

	return nil
}

var _ ports.ReconciliationEndpoint = (*ReconcileClient)(nil)
