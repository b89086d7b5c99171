package router_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/clients"
	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	gateclients "github.com/sand/paymesh/backend/internal/gate/clients"
	"github.com/sand/paymesh/backend/internal/probe"
	"github.com/sand/paymesh/backend/internal/router"
	"github.com/sand/paymesh/backend/internal/voucher"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var session = entities.Session{UserID: "u1", Username: "alice"}

func newTxn(t *testing.T) *entities.Transaction {
	t.Helper()
	txn, err := entities.NewTransaction(session, "+15550001111", 50, "", time.Now())
	require.NoError(t, err)
	return txn
}

func snapshot(available ...entities.Channel) *entities.CapabilitySnapshot {
	m := make(map[entities.Channel]bool)
	for _, ch := range available {
		m[ch] = true
	}
	return entities.NewSnapshot(time.Now(), time.Minute, m)
}

type fakeSender struct {
	channel entities.Channel
	err     error
	calls   int
	block   bool
}

func (f *fakeSender) Channel() entities.Channel { return f.channel }

func (f *fakeSender) Send(ctx context.Context, _ entities.Session, _ *entities.Transaction) (map[string]any, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"via": string(f.channel)}, nil
}

type memLedger struct {
	mu      sync.Mutex
	records []*entities.Transaction
	err     error
}

func (l *memLedger) Append(_ context.Context, txn *entities.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	l.records = append(l.records, txn.Clone())
	return txn.ID, nil
}

func (l *memLedger) MarkSynced(context.Context, string, time.Time) (bool, error) { return false, nil }
func (l *memLedger) FetchUnsynced(context.Context, entities.SyncCursor, int) ([]*entities.Transaction, error) {
	return nil, nil
}
func (l *memLedger) TransactionCount(context.Context, string) (int, error) { return 0, nil }
func (l *memLedger) RecentSuccessful(context.Context, string, int) ([]entities.HistoryPoint, error) {
	return nil, nil
}
func (l *memLedger) Get(context.Context, string) (*entities.Transaction, error) { return nil, nil }

func TestRoute_LocalOnlyQueues(t *testing.T) {
	ledger := &memLedger{}
	network := &fakeSender{channel: entities.ChannelNetwork}
	r := router.NewMultiChannelRouter(testLogger, time.Second, network, router.NewLocalSender(ledger))

	txn := newTxn(t)
	result, err := r.Route(context.Background(), session, txn, snapshot(entities.ChannelLocal))

	require.NoError(t, err)
	require.Equal(t, entities.ChannelLocal, result.Channel)
	require.Zero(t, network.calls)
	require.Len(t, ledger.records, 1)
	require.Equal(t, entities.StatusQueued, ledger.records[0].Status)
	require.False(t, ledger.records[0].Synced)
	require.Equal(t, entities.StatusPending, txn.Status)
}

func TestRoute_NetworkWinsWithoutTouchingLowerChannels(t *testing.T) {
	network := &fakeSender{channel: entities.ChannelNetwork}
	proximity := &fakeSender{channel: entities.ChannelProximity}
	local := &fakeSender{channel: entities.ChannelLocal}
	r := router.NewMultiChannelRouter(testLogger, time.Second, network, proximity, local)

	result, err := r.Route(context.Background(), session, newTxn(t),
		snapshot(entities.ChannelNetwork, entities.ChannelProximity, entities.ChannelLocal))

	require.NoError(t, err)
	require.Equal(t, entities.ChannelNetwork, result.Channel)
	require.Len(t, result.Attempts, 1)
	require.Zero(t, proximity.calls)
	require.Zero(t, local.calls)
}

func TestRoute_FallsBackInPriorityOrder(t *testing.T) {
	network := &fakeSender{channel: entities.ChannelNetwork, err: errors.New("503")}
	proximity := &fakeSender{channel: entities.ChannelProximity, block: true}
	gateway := &fakeSender{channel: entities.ChannelGateway}
	r := router.NewMultiChannelRouter(testLogger, 20*time.Millisecond, network, proximity, gateway)

	result, err := r.Route(context.Background(), session, newTxn(t),
		snapshot(entities.ChannelNetwork, entities.ChannelProximity, entities.ChannelGateway))

	require.NoError(t, err)
	require.Equal(t, entities.ChannelGateway, result.Channel)
	require.Len(t, result.Attempts, 3)
	require.Equal(t, entities.ChannelNetwork, result.Attempts[0].Channel)
	require.False(t, result.Attempts[0].Success)
	require.Equal(t, entities.ChannelProximity, result.Attempts[1].Channel)
	require.Contains(t, result.Attempts[1].Error, "deadline")
	require.True(t, result.Attempts[2].Success)
}

func TestRoute_AllFailed(t *testing.T) {
	network := &fakeSender{channel: entities.ChannelNetwork, err: errors.New("down")}
	ledger := &memLedger{err: errors.New("disk full")}
	r := router.NewMultiChannelRouter(testLogger, time.Second, network, router.NewLocalSender(ledger))

	result, err := r.Route(context.Background(), session, newTxn(t),
		snapshot(entities.ChannelNetwork, entities.ChannelLocal))

	require.ErrorIs(t, err, entities.ErrAllChannelsFailed)
	require.ErrorIs(t, err, entities.ErrChannelAttemptFailed)
	require.Len(t, result.Attempts, 2)
}

func TestRoute_NothingAvailable(t *testing.T) {
	r := router.NewMultiChannelRouter(testLogger, time.Second, &fakeSender{channel: entities.ChannelNetwork})

	result, err := r.Route(context.Background(), session, newTxn(t), snapshot())

	require.ErrorIs(t, err, entities.ErrAllChannelsFailed)
	require.Empty(t, result.Attempts)
}

type panicSender struct{}

func (panicSender) Channel() entities.Channel { return entities.ChannelNetwork }
func (panicSender) Send(context.Context, entities.Session, *entities.Transaction) (map[string]any, error) {
	panic("nil pointer in driver")
}

func TestRoute_PanickingSenderFallsBack(t *testing.T) {
	local := &fakeSender{channel: entities.ChannelLocal}
	r := router.NewMultiChannelRouter(testLogger, time.Second, panicSender{}, local)

	result, err := r.Route(context.Background(), session, newTxn(t),
		snapshot(entities.ChannelNetwork, entities.ChannelLocal))

	require.NoError(t, err)
	require.Equal(t, entities.ChannelLocal, result.Channel)
	require.Contains(t, result.Attempts[0].Error, "panicked")
}

type recordingGateway struct {
	sent []string
}

func (g *recordingGateway) Configured() bool { return true }

func (g *recordingGateway) Send(_ context.Context, to, body string) (ports.GatewayReceipt, error) {
	g.sent = append(g.sent, to+"|"+body)
	return ports.GatewayReceipt{ProviderID: "SIM_1", Status: "simulated", Provider: "simulation"}, nil
}

type fixedClassifier struct {
	available bool
	result    entities.Classification
}

func (c fixedClassifier) Available() bool { return c.available }
func (c fixedClassifier) Classify(context.Context, string) (entities.Classification, error) {
	return c.result, nil
}

func TestGatewaySender_Guard(t *testing.T) {
	tests := []struct {
		name    string
		primary fixedClassifier
		wantErr bool
	}{
		{name: "clean message", primary: fixedClassifier{available: true, result: entities.Classification{Confidence: 0.1}}},
		{name: "confidence above guard", primary: fixedClassifier{available: true, result: entities.Classification{Confidence: 0.45}}, wantErr: true},
		{name: "at guard threshold", primary: fixedClassifier{available: true, result: entities.Classification{Confidence: 0.4}}},
		{name: "primary unavailable uses keywords", primary: fixedClassifier{available: false, result: entities.Classification{Confidence: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &recordingGateway{}
			sender := router.NewGatewaySender(testLogger, gateway, tt.primary, gateclients.NewKeywordClassifier(), router.DefaultGuardThresholds)

			diagnostics, err := sender.Send(context.Background(), session, newTxn(t))
			if tt.wantErr {
				require.Error(t, err)
				require.Empty(t, gateway.sent)
				return
			}
			require.NoError(t, err)
			require.Len(t, gateway.sent, 1)
			require.Contains(t, gateway.sent[0], "+15550001111|PayMesh: Payment successful")
			require.Equal(t, "SIM_1", diagnostics["provider_id"])
		})
	}
}

type fixedScanner []entities.Device

func (s fixedScanner) Scan(context.Context) ([]entities.Device, error) { return s, nil }

func TestProximitySender(t *testing.T) {
	signer, err := voucher.NewSigner(testLogger, "", 0)
	require.NoError(t, err)
	classifier := probe.NewDeviceClassifier(nil, 0.5)

	t.Run("best device receives voucher", func(t *testing.T) {
		exchanger := clients.NewLoopbackExchanger(testLogger)
		sender := router.NewProximitySender(fixedScanner{
			{Name: "POS", Address: "weak", RSSI: -80},
			{Name: "Merchant POS", Address: "strong", RSSI: -40},
		}, classifier, time.Second, signer, exchanger)

		txn := newTxn(t)
		diagnostics, err := sender.Send(context.Background(), session, txn)
		require.NoError(t, err)
		require.Equal(t, "strong", diagnostics["device_address"])

		_, ok := exchanger.Received(txn.ID)
		require.True(t, ok)
	})

	t.Run("device left range", func(t *testing.T) {
		sender := router.NewProximitySender(fixedScanner{{Name: "Headphones", RSSI: -40}},
			classifier, time.Second, signer, clients.NewLoopbackExchanger(testLogger))

		_, err := sender.Send(context.Background(), session, newTxn(t))
		require.ErrorContains(t, err, "no qualifying")
	})
}
