package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
)

// Checker reports the readiness of one channel. It must not fail as a whole:
// problems are expressed as an unavailable capability with diagnostics.
type Checker interface {
	Check(ctx context.Context) entities.ChannelCapability
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) entities.ChannelCapability

func (f CheckerFunc) Check(ctx context.Context) entities.ChannelCapability {
	return f(ctx)
}

// Static is a checker with a fixed answer.
func Static(available bool, reason string) Checker {
	return CheckerFunc(func(context.Context) entities.ChannelCapability {
		return entities.ChannelCapability{Available: available, Diagnostics: map[string]any{"reason": reason}}
	})
}

// CapabilityProbe determines, with caching, which channels are usable.
type CapabilityProbe struct {
	logger   *slog.Logger
	checkers map[entities.Channel]Checker
	ttl      time.Duration
	now      func() time.Time

	current atomic.Pointer[entities.CapabilitySnapshot]
	mu      sync.Mutex // serialises refreshes

	listenersMu sync.RWMutex
	listeners   []func()
}

// Option configures a CapabilityProbe.
type Option func(*CapabilityProbe)

// WithClock overrides the probe's time source.
func WithClock(now func() time.Time) Option {
	return func(p *CapabilityProbe) { p.now = now }
}

// NewCapabilityProbe creates a probe. Channels without a checker are reported unavailable.
func NewCapabilityProbe(logger *slog.Logger, ttl time.Duration, checkers map[entities.Channel]Checker, opts ...Option) *CapabilityProbe {
	if ttl <= 0 {
		ttl = ports.DefaultSnapshotTTL
	}

	p := &CapabilityProbe{
		logger:   logger,
		checkers: checkers,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OnNetworkAvailable registers a callback fired when the network channel turns available.
func (p *CapabilityProbe) OnNetworkAvailable(fn func()) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Snapshot returns the cached snapshot while it is valid, probing again otherwise or when forced.
// The returned snapshot is shared and must not be modified.
func (p *CapabilityProbe) Snapshot(ctx context.Context, force bool) *entities.CapabilitySnapshot {
	if cached := p.current.Load(); !force && !cached.Expired(p.now()) {
		return cached
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// another caller may have refreshed while we waited
	previous := p.current.Load()
	if !force && !previous.Expired(p.now()) {
		return previous
	}

	snapshot := p.probe(ctx)
	p.current.Store(snapshot)

	if snapshot.Available(entities.ChannelNetwork) && (previous == nil || !previous.Available(entities.ChannelNetwork)) {
		p.notifyNetworkAvailable()
	}

	return snapshot
}

func (p *CapabilityProbe) probe(ctx context.Context) *entities.CapabilitySnapshot {
	started := p.now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		channels = make(map[entities.Channel]entities.ChannelCapability, len(entities.ChannelPriority))
	)

	// unconfigured channels are filled in before any checker goroutine writes the map
	for _, ch := range entities.ChannelPriority {
		if _, ok := p.checkers[ch]; !ok {
			channels[ch] = entities.ChannelCapability{Diagnostics: map[string]any{"reason": "not configured"}}
		}
	}

	for _, ch := range entities.ChannelPriority {
		checker, ok := p.checkers[ch]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(ch entities.Channel, checker Checker) {
			defer wg.Done()
			capability := safeCheck(ctx, checker)

			mu.Lock()
			channels[ch] = capability
			mu.Unlock()
		}(ch, checker)
	}
	wg.Wait()

	snapshot := &entities.CapabilitySnapshot{Timestamp: p.now(), ValidFor: p.ttl, Channels: channels}

	p.logger.InfoContext(ctx, "Channel capabilities probed",
		"network", snapshot.Available(entities.ChannelNetwork),
		"proximity_device", snapshot.Available(entities.ChannelProximity),
		"messaging_gateway", snapshot.Available(entities.ChannelGateway),
		"local_store", snapshot.Available(entities.ChannelLocal),
		"duration", p.now().Sub(started).String())

	return snapshot
}

func (p *CapabilityProbe) notifyNetworkAvailable() {
	p.listenersMu.RLock()
	defer p.listenersMu.RUnlock()

	for _, fn := range p.listeners {
		fn()
	}
}

// safeCheck turns a panicking checker into an unavailable channel.
func safeCheck(ctx context.Context, checker Checker) (capability entities.ChannelCapability) {
	defer func() {
		if r := recover(); r != nil {
			capability = entities.ChannelCapability{Diagnostics: map[string]any{"error": fmt.Sprintf("checker panicked: %v", r)}}
		}
	}()

	return checker.Check(ctx)
}
