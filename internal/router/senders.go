package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/notifications"
	"github.com/sand/paymesh/backend/internal/probe"
)

// NetworkSender pays through the online payment processor.
type NetworkSender struct {
	processor ports.PaymentProcessor
}

func NewNetworkSender(processor ports.PaymentProcessor) *NetworkSender {
	return &NetworkSender{processor: processor}
}

func (s *NetworkSender) Channel() entities.Channel { return entities.ChannelNetwork }

func (s *NetworkSender) Send(ctx context.Context, _ entities.Session, txn *entities.Transaction) (map[string]any, error) {
	report, err := s.processor.Process(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !report.Success {
		return nil, fmt.Errorf("payment not accepted: %s", report.Message)
	}

	return map[string]any{"reference": report.Reference, "gateway": report.Gateway}, nil
}

// VoucherIssuer signs offline payment vouchers.
type VoucherIssuer interface {
	Issue(txn *entities.Transaction, device entities.Device) ([]byte, []byte, error)
}

// ProximitySender hands a signed voucher to the best nearby payment device.
type ProximitySender struct {
	scanner     ports.DeviceScanner
	classifier  *probe.DeviceClassifier
	scanTimeout time.Duration
	issuer      VoucherIssuer
	exchanger   ports.VoucherExchanger
}

func NewProximitySender(scanner ports.DeviceScanner, classifier *probe.DeviceClassifier, scanTimeout time.Duration, issuer VoucherIssuer, exchanger ports.VoucherExchanger) *ProximitySender {
	return &ProximitySender{
		scanner:     scanner,
		classifier:  classifier,
		scanTimeout: scanTimeout,
		issuer:      issuer,
		exchanger:   exchanger,
	}
}

func (s *ProximitySender) Channel() entities.Channel { return entities.ChannelProximity }

func (s *ProximitySender) Send(ctx context.Context, _ entities.Session, txn *entities.Transaction) (map[string]any, error) {
	// the device seen by the probe may be gone by now
	devices, _, err := probe.ScanQualifying(ctx, s.scanner, s.classifier, s.scanTimeout)
	if err != nil {
		return nil, fmt.Errorf("proximity scan failed: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no qualifying payment device in range")
	}
	device := devices[0]

	payload, signature, err := s.issuer.Issue(txn, device)
	if err != nil {
		return nil, err
	}
	if err := s.exchanger.Exchange(ctx, device, payload, signature); err != nil {
		return nil, fmt.Errorf("voucher exchange failed: %w", err)
	}

	return map[string]any{
		"device_name":    device.Name,
		"device_address": device.Address,
		"confidence":     device.Confidence,
	}, nil
}

// GuardThresholds decide when an outbound message looks like phishing.
type GuardThresholds struct {
	Confidence        float64
	FlaggedConfidence float64
}

// DefaultGuardThresholds trip above 0.4 confidence, or when flagged above 0.7.
var DefaultGuardThresholds = GuardThresholds{Confidence: 0.4, FlaggedConfidence: 0.7}

// GatewaySender texts the recipient a confirmation after a last phishing check on the message.
type GatewaySender struct {
	logger     *slog.Logger
	gateway    ports.MessageGateway
	primary    ports.Classifier
	fallback   ports.Classifier
	thresholds GuardThresholds
}

func NewGatewaySender(logger *slog.Logger, gateway ports.MessageGateway, primary, fallback ports.Classifier, thresholds GuardThresholds) *GatewaySender {
	return &GatewaySender{
		logger:     logger,
		gateway:    gateway,
		primary:    primary,
		fallback:   fallback,
		thresholds: thresholds,
	}
}

func (s *GatewaySender) Channel() entities.Channel { return entities.ChannelGateway }

func (s *GatewaySender) Send(ctx context.Context, _ entities.Session, txn *entities.Transaction) (map[string]any, error) {
	body := notifications.Render(notifications.SuccessNotification, txn)

	classification, guard, err := s.guard(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("message guard failed: %w", err)
	}
	if classification.Confidence > s.thresholds.Confidence ||
		(classification.IsFlagged && classification.Confidence > s.thresholds.FlaggedConfidence) {
		s.logger.WarnContext(ctx, "Outbound message tripped the phishing guard",
			"tx_id", txn.ID,
			"confidence", classification.Confidence,
			"risk_level", notifications.RiskLevel(classification.Confidence))
		return nil, fmt.Errorf("message guard tripped (confidence %.2f)", classification.Confidence)
	}

	receipt, err := s.gateway.Send(ctx, txn.Recipient, body)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"provider":    receipt.Provider,
		"provider_id": receipt.ProviderID,
		"status":      receipt.Status,
		"guard":       guard,
		"risk_level":  notifications.RiskLevel(classification.Confidence),
	}, nil
}

func (s *GatewaySender) guard(ctx context.Context, body string) (entities.Classification, string, error) {
	if s.primary != nil && s.primary.Available() {
		classification, err := s.primary.Classify(ctx, body)
		if err == nil {
			return classification, "model", nil
		}
		s.logger.WarnContext(ctx, "Primary classifier failed, using keyword guard", "error", err)
	}
	if s.fallback == nil {
		return entities.Classification{}, "", entities.ErrModelUnavailable
	}

	classification, err := s.fallback.Classify(ctx, body)
	return classification, "keywords", err
}

// LocalSender queues the transaction in the durable ledger for later reconciliation.
type LocalSender struct {
	ledger ports.Ledger
}

func NewLocalSender(ledger ports.Ledger) *LocalSender {
	return &LocalSender{ledger: ledger}
}

func (s *LocalSender) Channel() entities.Channel { return entities.ChannelLocal }

func (s *LocalSender) Send(ctx context.Context, _ entities.Session, txn *entities.Transaction) (map[string]any, error) {
	queued := txn.Clone()
	if err := queued.Dispatch(entities.ChannelLocal, entities.StatusQueued); err != nil {
		return nil, err
	}

	id, err := s.ledger.Append(ctx, queued)
	if err != nil {
		return nil, fmt.Errorf("failed to queue transaction: %w", err)
	}

	return map[string]any{"queued_id": id, "synced": false}, nil
}
