package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/usecases"
)

const defaultUnsyncedLimit = 100

var (
	_ PaymentService = (*usecases.PaymentService)(nil)
	_ Reconciler     = (*usecases.Reconciler)(nil)
)

type PaymentService interface {
	Submit(ctx context.Context, session entities.Session, req usecases.PaymentRequest) (*usecases.PaymentResult, error)
	Get(ctx context.Context, id string) (*entities.Transaction, error)
	Unsynced(ctx context.Context, limit int) ([]*entities.Transaction, error)
	TransactionCount(ctx context.Context, user string) (int, error)
}

type CapabilityProbe interface {
	Snapshot(ctx context.Context, force bool) *entities.CapabilitySnapshot
}

type Reconciler interface {
	Sync(ctx context.Context) (usecases.SyncReport, error)
}

type HTTPHandler struct {
	logger         *slog.Logger
	paymentService PaymentService
	probe          CapabilityProbe
	reconciler     Reconciler
}

func NewHTTPHandler(logger *slog.Logger, paymentService PaymentService, probe CapabilityProbe, reconciler Reconciler) *HTTPHandler {
	return &HTTPHandler{
		logger:         logger,
		paymentService: paymentService,
		probe:          probe,
		reconciler:     reconciler,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Transactions. The unsynced listing must be registered before the id route.
	router.HandleFunc("/transactions", h.SubmitTransaction).Methods("POST")
	router.HandleFunc("/transactions/unsynced", h.GetUnsynced).Methods("GET")
	router.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")
	router.HandleFunc("/users/{user}/count", h.GetTransactionCount).Methods("GET")

	// Channels and reconciliation
	router.HandleFunc("/channels", h.GetChannels).Methods("GET")
	router.HandleFunc("/sync", h.RunSync).Methods("POST")

	router.HandleFunc("/health", h.Health).Methods("GET")
}

func sessionFromRequest(r *http.Request) entities.Session {
	return entities.Session{
		UserID:   r.Header.Get("X-User-ID"),
		Username: r.Header.Get("X-Username"),
		Phone:    r.Header.Get("X-User-Phone"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	session := sessionFromRequest(r)
	if !session.Valid() {
		http.Error(w, "Missing required header: X-User-ID or X-Username", http.StatusBadRequest)
		return
	}

	var req usecases.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.paymentService.Submit(r.Context(), session, req)
	switch {
	case errors.Is(err, entities.ErrInvalidAmount),
		errors.Is(err, entities.ErrMissingRecipient),
		errors.Is(err, entities.ErrMissingSession):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, entities.ErrAllChannelsFailed):
		h.logger.Error("Payment could not be delivered", "error", err)
		if encErr := writeJSON(w, http.StatusBadGateway, result); encErr != nil {
			h.logger.Error("Error encoding response", "error", encErr)
		}
		return
	case err != nil:
		h.logger.Error("Failed to submit payment", "error", err)
		http.Error(w, fmt.Sprintf("Failed to submit payment: %v", err), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	switch result.Status {
	case entities.StatusQueued:
		status = http.StatusAccepted
	case entities.StatusBlocked:
		status = http.StatusForbidden
	}

	if err = writeJSON(w, status, result); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	txn, err := h.paymentService.Get(r.Context(), id)
	if errors.Is(err, entities.ErrTransactionNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve transaction: %v", err), http.StatusInternalServerError)
		return
	}

	if err = writeJSON(w, http.StatusOK, txn); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *HTTPHandler) GetUnsynced(w http.ResponseWriter, r *http.Request) {
	limit := defaultUnsyncedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	txns, err := h.paymentService.Unsynced(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve queued transactions: %v", err), http.StatusInternalServerError)
		return
	}

	if txns == nil {
		txns = []*entities.Transaction{}
	}

	if err = writeJSON(w, http.StatusOK, txns); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *HTTPHandler) GetTransactionCount(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	count, err := h.paymentService.TransactionCount(r.Context(), user)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to count transactions: %v", err), http.StatusInternalServerError)
		return
	}

	if err = writeJSON(w, http.StatusOK, map[string]any{"user": user, "count": count}); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

type channelsResponse struct {
	Priority []entities.Channel           `json:"priority"`
	Snapshot *entities.CapabilitySnapshot `json:"snapshot"`
}

func (h *HTTPHandler) GetChannels(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	snapshot := h.probe.Snapshot(r.Context(), force)

	if err := writeJSON(w, http.StatusOK, channelsResponse{
		Priority: entities.ChannelPriority,
		Snapshot: snapshot,
	}); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *HTTPHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Sync(r.Context())
	if err != nil {
		h.logger.Error("Reconciliation cycle failed", "error", err)
		http.Error(w, fmt.Sprintf("Reconciliation failed: %v", err), http.StatusInternalServerError)
		return
	}

	if err = writeJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}); err != nil {
		h.logger.Error("Error encoding response", "error", err)
	}
}
