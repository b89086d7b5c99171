package probe_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/probe"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSignal struct {
	name string
	err  error
	hang bool
}

func (s fakeSignal) Name() string { return s.name }

func (s fakeSignal) Check(ctx context.Context) error {
	if s.hang {
		// ignores ctx on purpose
		time.Sleep(2 * time.Second)
	}
	return s.err
}

func TestNetworkChecker_Quorum(t *testing.T) {
	down := errors.New("unreachable")

	tests := []struct {
		name      string
		signals   []probe.Signal
		available bool
		score     string
	}{
		{
			name:      "all succeed",
			signals:   []probe.Signal{fakeSignal{name: "dns"}, fakeSignal{name: "tcp"}, fakeSignal{name: "auth"}},
			available: true,
			score:     "3/3",
		},
		{
			name:      "two of three",
			signals:   []probe.Signal{fakeSignal{name: "dns"}, fakeSignal{name: "tcp", err: down}, fakeSignal{name: "auth"}},
			available: true,
			score:     "2/3",
		},
		{
			name:      "one of three",
			signals:   []probe.Signal{fakeSignal{name: "dns", err: down}, fakeSignal{name: "tcp", err: down}, fakeSignal{name: "auth"}},
			available: false,
			score:     "1/3",
		},
		{
			name:      "no signals",
			available: false,
			score:     "0/0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := probe.NewNetworkChecker(testLogger, time.Second, tt.signals...)
			capability := checker.Check(context.Background())

			require.Equal(t, tt.available, capability.Available)
			require.Equal(t, tt.score, capability.Diagnostics["connectivity_score"])
		})
	}
}

func TestNetworkChecker_SlowSignalTimesOut(t *testing.T) {
	checker := probe.NewNetworkChecker(testLogger, 50*time.Millisecond,
		fakeSignal{name: "dns"},
		fakeSignal{name: "tcp"},
		fakeSignal{name: "auth", hang: true},
	)

	started := time.Now()
	capability := checker.Check(context.Background())

	require.True(t, capability.Available)
	require.Less(t, time.Since(started), time.Second)

	signals := capability.Diagnostics["signals"].(map[string]any)
	require.Contains(t, signals["auth"], "timed out")
}

func TestCapabilityProbe_CachesUntilExpiry(t *testing.T) {
	var calls atomic.Int32
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	p := probe.NewCapabilityProbe(testLogger, 30*time.Second, map[entities.Channel]probe.Checker{
		entities.ChannelNetwork: probe.CheckerFunc(func(context.Context) entities.ChannelCapability {
			calls.Add(1)
			return entities.ChannelCapability{Available: true}
		}),
		entities.ChannelLocal: probe.LocalStoreChecker(true),
	}, probe.WithClock(func() time.Time { return now }))

	first := p.Snapshot(context.Background(), false)
	require.True(t, first.Available(entities.ChannelNetwork))
	require.True(t, first.Available(entities.ChannelLocal))
	require.False(t, first.Available(entities.ChannelProximity))
	require.EqualValues(t, 1, calls.Load())

	now = now.Add(29 * time.Second)
	require.Same(t, first, p.Snapshot(context.Background(), false))
	require.EqualValues(t, 1, calls.Load())

	p.Snapshot(context.Background(), true)
	require.EqualValues(t, 2, calls.Load())

	now = now.Add(31 * time.Second)
	p.Snapshot(context.Background(), false)
	require.EqualValues(t, 3, calls.Load())
}

func TestCapabilityProbe_PartialCheckersUnderConcurrentRefresh(t *testing.T) {
	p := probe.NewCapabilityProbe(testLogger, time.Minute, map[entities.Channel]probe.Checker{
		entities.ChannelNetwork: probe.Static(true, "up"),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Snapshot(context.Background(), true)
			}
		}()
	}
	wg.Wait()

	snapshot := p.Snapshot(context.Background(), true)
	require.True(t, snapshot.Available(entities.ChannelNetwork))
	for _, ch := range []entities.Channel{entities.ChannelProximity, entities.ChannelGateway, entities.ChannelLocal} {
		require.False(t, snapshot.Available(ch))
		require.Equal(t, "not configured", snapshot.Channels[ch].Diagnostics["reason"])
	}
}

func TestCapabilityProbe_PanickingCheckerIsolated(t *testing.T) {
	p := probe.NewCapabilityProbe(testLogger, time.Minute, map[entities.Channel]probe.Checker{
		entities.ChannelNetwork: probe.CheckerFunc(func(context.Context) entities.ChannelCapability {
			panic("radio exploded")
		}),
		entities.ChannelLocal: probe.LocalStoreChecker(true),
	})

	snapshot := p.Snapshot(context.Background(), false)

	require.False(t, snapshot.Available(entities.ChannelNetwork))
	require.Contains(t, snapshot.Channels[entities.ChannelNetwork].Diagnostics["error"], "radio exploded")
	require.True(t, snapshot.Available(entities.ChannelLocal))
}

func TestCapabilityProbe_NotifiesOnNetworkTransition(t *testing.T) {
	var online atomic.Bool
	var fired atomic.Int32

	p := probe.NewCapabilityProbe(testLogger, time.Minute, map[entities.Channel]probe.Checker{
		entities.ChannelNetwork: probe.CheckerFunc(func(context.Context) entities.ChannelCapability {
			return entities.ChannelCapability{Available: online.Load()}
		}),
	})
	p.OnNetworkAvailable(func() { fired.Add(1) })

	p.Snapshot(context.Background(), true)
	require.EqualValues(t, 0, fired.Load())

	online.Store(true)
	p.Snapshot(context.Background(), true)
	require.EqualValues(t, 1, fired.Load())

	// staying online is not a transition
	p.Snapshot(context.Background(), true)
	require.EqualValues(t, 1, fired.Load())

	online.Store(false)
	p.Snapshot(context.Background(), true)
	online.Store(true)
	p.Snapshot(context.Background(), true)
	require.EqualValues(t, 2, fired.Load())
}

func TestDeviceClassifier_Score(t *testing.T) {
	classifier := probe.NewDeviceClassifier([]string{"0000FFF0-0000-1000-8000-00805F9B34FB"}, 0.5)

	tests := []struct {
		name       string
		device     entities.Device
		confidence float64
		deviceType string
	}{
		{
			name:       "keyword and strong signal",
			device:     entities.Device{Name: "Merchant Terminal", RSSI: -45},
			confidence: 0.8,
			deviceType: "payment_terminal",
		},
		{
			name:       "verified service",
			device:     entities.Device{Name: "Shop POS", RSSI: -70, Services: []string{"0000fff0-0000-1000-8000-00805f9b34fb"}},
			confidence: 0.7,
			deviceType: "verified_payment_device",
		},
		{
			name:       "capped at one",
			device:     entities.Device{Name: "NFC Pay Wallet Card", RSSI: -40, Services: []string{"0000FFF0-0000-1000-8000-00805F9B34FB"}},
			confidence: 1,
			deviceType: "verified_payment_device",
		},
		{
			name:       "headphones",
			device:     entities.Device{Name: "Headphones", RSSI: -50},
			confidence: 0.2,
			deviceType: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scored := classifier.Score(tt.device)
			require.InDelta(t, tt.confidence, scored.Confidence, 1e-9)
			require.Equal(t, tt.deviceType, scored.DeviceType)
		})
	}
}

func TestDeviceClassifier_QualifyingSortedBestFirst(t *testing.T) {
	classifier := probe.NewDeviceClassifier(nil, 0.5)

	qualified := classifier.Qualifying([]entities.Device{
		{Name: "Headphones", RSSI: -40},
		{Name: "POS", RSSI: -80},
		{Name: "Merchant POS", RSSI: -45},
	})

	require.Len(t, qualified, 1)
	require.Equal(t, "Merchant POS", qualified[0].Name)
}

type scannerFunc func(ctx context.Context) ([]entities.Device, error)

func (f scannerFunc) Scan(ctx context.Context) ([]entities.Device, error) { return f(ctx) }

func TestProximityChecker(t *testing.T) {
	classifier := probe.NewDeviceClassifier(nil, 0.5)

	t.Run("device nearby", func(t *testing.T) {
		checker := probe.NewProximityChecker(testLogger, scannerFunc(func(context.Context) ([]entities.Device, error) {
			return []entities.Device{{Name: "PayMesh_Mock_POS", RSSI: -45}}, nil
		}), classifier, time.Second)

		capability := checker.Check(context.Background())
		require.True(t, capability.Available)
		require.Equal(t, 1, capability.Diagnostics["payment_devices"])
	})

	t.Run("scan fails", func(t *testing.T) {
		checker := probe.NewProximityChecker(testLogger, scannerFunc(func(context.Context) ([]entities.Device, error) {
			return nil, errors.New("adapter off")
		}), classifier, time.Second)

		capability := checker.Check(context.Background())
		require.False(t, capability.Available)
		require.Equal(t, "adapter off", capability.Diagnostics["error"])
	})

	t.Run("scan is time boxed", func(t *testing.T) {
		checker := probe.NewProximityChecker(testLogger, scannerFunc(func(ctx context.Context) ([]entities.Device, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), classifier, 20*time.Millisecond)

		require.False(t, checker.Check(context.Background()).Available)
	})
}

type gatewayStub struct{ configured bool }

func (g gatewayStub) Configured() bool { return g.configured }

func (g gatewayStub) Send(context.Context, string, string) (ports.GatewayReceipt, error) {
	return ports.GatewayReceipt{}, nil
}

func TestGatewayChecker(t *testing.T) {
	require.True(t, probe.GatewayChecker(gatewayStub{configured: true}, false).Check(context.Background()).Available)
	require.False(t, probe.GatewayChecker(gatewayStub{}, false).Check(context.Background()).Available)
	require.False(t, probe.GatewayChecker(nil, false).Check(context.Background()).Available)
	require.True(t, probe.GatewayChecker(gatewayStub{}, true).Check(context.Background()).Available)
}
