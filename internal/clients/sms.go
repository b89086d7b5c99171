package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
)

// SMSGateway sends text messages through a Twilio compatible REST API.
type SMSGateway struct {
	logger     *slog.Logger
	apiURL     string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewSMSGateway(logger *slog.Logger, apiURL, accountSID, authToken, from string, timeout time.Duration) *SMSGateway {
	g := &SMSGateway{
		logger:     logger,
		apiURL:     strings.TrimRight(apiURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: timeout},
	}

	if !g.Configured() {
		logger.Warn("SMS gateway credentials not configured")
	} else {
		logger.Info("SMS gateway initialized", "api_url", g.apiURL, "from", from)
	}

	return g
}

// Configured reports whether the gateway has everything it needs to authenticate.
func (g *SMSGateway) Configured() bool {
	return g.apiURL != "" && g.accountSID != "" && g.authToken != "" && g.from != ""
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (g *SMSGateway) Send(ctx context.Context, to, body string) (ports.GatewayReceipt, error) {
	if !g.Configured() {
		return ports.GatewayReceipt{}, fmt.Errorf("sms gateway not configured")
	}
	if to == "" {
		return ports.GatewayReceipt{}, fmt.Errorf("sms destination is empty")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.apiURL, g.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.GatewayReceipt{}, fmt.Errorf("failed to create sms request: %w", err)
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ports.GatewayReceipt{}, fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ports.GatewayReceipt{}, fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ports.GatewayReceipt{}, fmt.Errorf("failed to decode sms response: %w", err)
	}

	g.logger.InfoContext(ctx, "SMS sent", "sid", result.SID, "status", result.Status)

	return ports.GatewayReceipt{ProviderID: result.SID, Status: result.Status, Provider: "twilio"}, nil
}

// SimulatedGateway pretends to deliver messages and keeps an outbox for inspection.
type SimulatedGateway struct {
	logger *slog.Logger
	now    func() time.Time
	outbox chan SimulatedMessage
}

// SimulatedMessage is an entry of the simulated outbox.
type SimulatedMessage struct {
	ID   string
	To   string
	Body string
}

func NewSimulatedGateway(logger *slog.Logger, outboxSize int) *SimulatedGateway {
	return &SimulatedGateway{logger: logger, now: time.Now, outbox: make(chan SimulatedMessage, outboxSize)}
}

func (g *SimulatedGateway) Configured() bool { return true }

func (g *SimulatedGateway) Send(ctx context.Context, to, body string) (ports.GatewayReceipt, error) {
	if err := ctx.Err(); err != nil {
		return ports.GatewayReceipt{}, err
	}

	msg := SimulatedMessage{ID: fmt.Sprintf("SIM_%d", g.now().UnixMilli()), To: to, Body: body}

	// a full outbox drops the oldest entry
	select {
	case g.outbox <- msg:
	default:
		select {
		case <-g.outbox:
		default:
		}
		select {
		case g.outbox <- msg:
		default:
		}
	}

	g.logger.InfoContext(ctx, "SMS simulated", "id", msg.ID, "to", to)

	return ports.GatewayReceipt{ProviderID: msg.ID, Status: "simulated", Provider: "simulation"}, nil
}

// Outbox drains the messages sent so far.
func (g *SimulatedGateway) Outbox() []SimulatedMessage {
	var out []SimulatedMessage
	for {
		select {
		case msg := <-g.outbox:
			out = append(out, msg)
		default:
			return out
		}
	}
}
