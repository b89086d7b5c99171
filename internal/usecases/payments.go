package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

type SecurityGate interface {
	Evaluate(ctx context.Context, session entities.Session, txn *entities.Transaction) *entities.SecurityVerdict
}

type CapabilityProbe interface {
	Snapshot(ctx context.Context, force bool) *entities.CapabilitySnapshot
}

type ChannelRouter interface {
	Route(ctx context.Context, session entities.Session, txn *entities.Transaction, snapshot *entities.CapabilitySnapshot) (*entities.RouteResult, error)
}

// PaymentRequest is what the user submits.
type PaymentRequest struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Content   string  `json:"content,omitempty"`
}

// PaymentResult is the user visible outcome of a submission.
type PaymentResult struct {
	Transaction *entities.Transaction     `json:"transaction"`
	Status      entities.TransactionStatus `json:"status"`
	Message     string                    `json:"message"`
	Verdict     *entities.SecurityVerdict `json:"verdict"`
	Route       *entities.RouteResult     `json:"route,omitempty"`
}

// PaymentService runs a submission through the gate and the router.
type PaymentService struct {
	logger    *slog.Logger
	gate      SecurityGate
	probe     CapabilityProbe
	router    ChannelRouter
	ledger    ports.Ledger
	publisher ports.EventPublisher
	now       func() time.Time
}

func NewPaymentService(
	logger *slog.Logger,
	gate SecurityGate,
	probe CapabilityProbe,
	router ChannelRouter,
	ledger ports.Ledger,
	publisher ports.EventPublisher,
) *PaymentService {
	if publisher == nil {
		publisher = noopPublisher{}
	}

	return &PaymentService{
		logger:    logger,
		gate:      gate,
		probe:     probe,
		router:    router,
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
	}
}

// Submit validates the request, screens it and dispatches it over the best channel.
// A blocked transaction is a normal outcome, not an error. The error is reserved for
// invalid input and for the case where no channel could carry the payment.
func (s *PaymentService) Submit(ctx context.Context, session entities.Session, req PaymentRequest) (*PaymentResult, error) {
	if !session.Valid() {
		return nil, entities.ErrMissingSession
	}

	txn, err := entities.NewTransaction(session, req.Recipient, req.Amount, req.Content, s.now())
	if err != nil {
		return nil, err
	}

	verdict := s.gate.Evaluate(ctx, session, txn)
	txn.Annotate(verdict, s.now())

	if !verdict.Allowed {
		return s.block(ctx, txn, verdict), nil
	}

	snapshot := s.probe.Snapshot(ctx, false)

	route, err := s.router.Route(ctx, session, txn, snapshot)
	if err != nil {
		s.publish(txn, "", err.Error())
		return &PaymentResult{
			Transaction: txn,
			Status:      txn.Status,
			Message:     "payment could not be delivered over any channel",
			Verdict:     verdict,
			Route:       route,
		}, fmt.Errorf("failed to route transaction %s: %w", txn.ID, err)
	}

	status := entities.StatusSent
	if route.Channel == entities.ChannelLocal {
		// the local channel has already persisted the queued record
		status = entities.StatusQueued
	}
	if err := txn.Dispatch(route.Channel, status); err != nil {
		return nil, err
	}

	if status == entities.StatusSent {
		if _, err := s.ledger.Append(ctx, txn); err != nil {
			// a sent payment stays sent even when the history write fails
			s.logger.ErrorContext(ctx, "Failed to record sent transaction", "tx_id", txn.ID, "error", err)
		}
	}

	s.publish(txn, route.Channel, "")

	s.logger.InfoContext(ctx, "Payment dispatched",
		"tx_id", txn.ID,
		"sender", txn.Sender,
		"channel", route.Channel,
		"status", status,
		"risk_score", verdict.RiskScore)

	return &PaymentResult{
		Transaction: txn,
		Status:      status,
		Message:     resultMessage(status, route.Channel),
		Verdict:     verdict,
		Route:       route,
	}, nil
}

func (s *PaymentService) block(ctx context.Context, txn *entities.Transaction, verdict *entities.SecurityVerdict) *PaymentResult {
	if err := txn.Transition(entities.StatusBlocked); err != nil {
		s.logger.ErrorContext(ctx, "Failed to mark transaction blocked", "tx_id", txn.ID, "error", err)
	}
	if _, err := s.ledger.Append(ctx, txn); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record blocked transaction", "tx_id", txn.ID, "error", err)
	}

	s.publish(txn, "", verdict.Reason)

	s.logger.WarnContext(ctx, "Payment blocked",
		"tx_id", txn.ID,
		"sender", txn.Sender,
		"layer", verdict.BlockingLayer,
		"reason", verdict.Reason,
		"risk_score", verdict.RiskScore)

	return &PaymentResult{
		Transaction: txn,
		Status:      entities.StatusBlocked,
		Message:     verdict.Reason,
		Verdict:     verdict,
	}
}

// Get returns a recorded transaction.
func (s *PaymentService) Get(ctx context.Context, id string) (*entities.Transaction, error) {
	return s.ledger.Get(ctx, id)
}

// Unsynced lists the queued transactions still waiting for reconciliation.
func (s *PaymentService) Unsynced(ctx context.Context, limit int) ([]*entities.Transaction, error) {
	return s.ledger.FetchUnsynced(ctx, entities.SyncCursor{}, limit)
}

// TransactionCount counts the transactions the user sent or received.
func (s *PaymentService) TransactionCount(ctx context.Context, user string) (int, error) {
	return s.ledger.TransactionCount(ctx, user)
}

func (s *PaymentService) publish(txn *entities.Transaction, channel entities.Channel, reason string) {
	s.publisher.Publish(entities.TransactionEvent{
		TxID:      txn.ID,
		Status:    txn.Status,
		Channel:   string(channel),
		Reason:    reason,
		Timestamp: s.now(),
	})
}

func resultMessage(status entities.TransactionStatus, channel entities.Channel) string {
	if status == entities.StatusQueued {
		return "payment queued on this device and will sync when the network returns"
	}
	return fmt.Sprintf("payment sent via %s", channel)
}

type noopPublisher struct{}

func (noopPublisher) Publish(entities.TransactionEvent) {}
