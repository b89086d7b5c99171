package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sand/paymesh/backend/internal/clients"
	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/usecases/repository"
)

var (
	_ ReconciliationStore = (*repository.PostgresReconciliations)(nil)
	_ ReconciliationStore = (*repository.SQLiteReconciliations)(nil)
)

type ReconciliationStore interface {
	Record(ctx context.Context, req ports.SyncRequest, at time.Time) (bool, error)
	Get(ctx context.Context, id string) (*entities.Reconciliation, error)
}

// SyncHandler is the remote ledger side of reconciliation. Acknowledgements are idempotent:
// reporting an id twice yields the same success response.
type SyncHandler struct {
	logger *slog.Logger
	store  ReconciliationStore
	secret string
	issuer string
	now    func() time.Time
}

// NewSyncHandler builds the handler. An empty secret disables token verification.
func NewSyncHandler(logger *slog.Logger, store ReconciliationStore, secret, issuer string) *SyncHandler {
	return &SyncHandler{
		logger: logger,
		store:  store,
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}
}

func (h *SyncHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sync", h.Sync).Methods("POST")
	router.HandleFunc("/reconciled/{id}", h.GetReconciled).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")
}

type syncBody struct {
	ports.SyncRequest
	TxnID string `json:"txn_id"`
}

type syncAck struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func (h *SyncHandler) authorize(r *http.Request) error {
	if h.secret == "" {
		return nil
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return errors.New("missing bearer token")
	}

	if _, err := clients.VerifyToken(raw, h.secret, h.issuer); err != nil {
		return err
	}

	return nil
}

func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r); err != nil {
		h.logger.Warn("Rejected sync request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body syncBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	req := body.SyncRequest
	if req.ID == "" {
		req.ID = body.TxnID
	}
	if req.ID == "" {
		if err := writeJSON(w, http.StatusBadRequest, syncAck{Status: "error", Msg: "Missing txn_id"}); err != nil {
			h.logger.Error("Error encoding response", "error", err)
		}
		return
	}

	created, err := h.store.Record(r.Context(), req, h.now())
	if err != nil {
		h.logger.Error("Failed to record reconciliation", "tx_id", req.ID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to record reconciliation: %v", err), http.StatusInternalServerError)
		return
	}

	msg := fmt.Sprintf("Transaction %s synced", req.ID)
	if !created {
		msg = fmt.Sprintf("Transaction %s already synced", req.ID)
	}

	h.logger.Info("Transaction reconciled", "tx_id", req.ID, "first_seen", created)

	if err = writeJSON(w, http.StatusOK, syncAck{Status: "success", Msg: msg}); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *SyncHandler) GetReconciled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, entities.ErrTransactionNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve reconciliation: %v", err), http.StatusInternalServerError)
		return
	}

	if err = writeJSON(w, http.StatusOK, rec); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *SyncHandler) Health(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}
