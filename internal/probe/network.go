package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// Signal is one independent reachability check.
type Signal interface {
	Name() string
	Check(ctx context.Context) error
}

// DNSSignal resolves a well known host name.
type DNSSignal struct {
	Resolver *net.Resolver
	Host     string
}

func (s DNSSignal) Name() string { return "dns" }

func (s DNSSignal) Check(ctx context.Context) error {
	resolver := s.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupHost(ctx, s.Host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.Host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses for %s", s.Host)
	}

	return nil
}

// TCPSignal opens a transport level connection.
type TCPSignal struct {
	Address string
}

func (s TCPSignal) Name() string { return "tcp" }

func (s TCPSignal) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.Address, err)
	}

	return conn.Close()
}

// TokenSource produces bearer tokens for authenticated requests.
type TokenSource interface {
	Token() (string, error)
}

// AuthSignal performs an authenticated request against the backend health endpoint.
type AuthSignal struct {
	Client *http.Client
	URL    string
	Tokens TokenSource
}

func (s AuthSignal) Name() string { return "auth" }

func (s AuthSignal) Check(ctx context.Context) error {
	if s.URL == "" {
		return errors.New("no health url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if s.Tokens != nil {
		token, err := s.Tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// NetworkChecker votes across independent reachability signals.
type NetworkChecker struct {
	logger  *slog.Logger
	signals []Signal
	timeout time.Duration
	quorum  int
}

// NewNetworkChecker requires a majority of the signals to succeed.
func NewNetworkChecker(logger *slog.Logger, timeout time.Duration, signals ...Signal) *NetworkChecker {
	if timeout <= 0 {
		timeout = ports.DefaultSignalTimeout
	}

	return &NetworkChecker{
		logger:  logger,
		signals: signals,
		timeout: timeout,
		quorum:  len(signals)/2 + 1,
	}
}

// Check runs all signals concurrently, each bounded by its own timeout.
func (n *NetworkChecker) Check(ctx context.Context) entities.ChannelCapability {
	results := make(map[string]any, len(n.signals))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for _, signal := range n.signals {
		wg.Add(1)
		go func(signal Signal) {
			defer wg.Done()

			err := n.runSignal(ctx, signal)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[signal.Name()] = err.Error()
				return
			}
			results[signal.Name()] = "ok"
			succeeded++
		}(signal)
	}
	wg.Wait()

	available := succeeded >= n.quorum && len(n.signals) > 0

	n.logger.DebugContext(ctx, "Network reachability vote",
		"succeeded", succeeded,
		"total", len(n.signals),
		"online", available)

	return entities.ChannelCapability{
		Available: available,
		Diagnostics: map[string]any{
			"signals":            results,
			"connectivity_score": fmt.Sprintf("%d/%d", succeeded, len(n.signals)),
		},
	}
}

func (n *NetworkChecker) runSignal(ctx context.Context, signal Signal) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("signal panicked: %v", r)
			}
		}()
		done <- signal.Check(ctx)
	}()

	// a signal ignoring its context still cannot hold up the vote
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("signal timed out: %w", ctx.Err())
	}
}
