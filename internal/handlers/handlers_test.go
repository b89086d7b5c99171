package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sand/paymesh/backend/internal/clients"
	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/handlers"
	"github.com/sand/paymesh/backend/internal/usecases"
	"github.com/sand/paymesh/backend/internal/usecases/repository"
	"github.com/sand/paymesh/backend/migrations"
	"github.com/sand/paymesh/backend/pkg/database"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type paymentStub struct {
	result   *usecases.PaymentResult
	err      error
	session  entities.Session
	txns     map[string]*entities.Transaction
	unsynced []*entities.Transaction
}

func (p *paymentStub) Submit(_ context.Context, session entities.Session, req usecases.PaymentRequest) (*usecases.PaymentResult, error) {
	p.session = session
	if p.err != nil {
		return p.result, p.err
	}
	if !(req.Amount > 0) {
		return nil, fmt.Errorf("%w: %v", entities.ErrInvalidAmount, req.Amount)
	}
	return p.result, nil
}

func (p *paymentStub) Get(_ context.Context, id string) (*entities.Transaction, error) {
	txn, ok := p.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	return txn, nil
}

func (p *paymentStub) Unsynced(_ context.Context, limit int) ([]*entities.Transaction, error) {
	if len(p.unsynced) > limit {
		return p.unsynced[:limit], nil
	}
	return p.unsynced, nil
}

func (p *paymentStub) TransactionCount(_ context.Context, user string) (int, error) {
	if user == "alice" {
		return 3, nil
	}
	return 0, nil
}

type probeStub struct {
	forced bool
}

func (p *probeStub) Snapshot(_ context.Context, force bool) *entities.CapabilitySnapshot {
	p.forced = force
	return entities.NewSnapshot(time.Now(), ports.DefaultSnapshotTTL, map[entities.Channel]bool{
		entities.ChannelLocal: true,
	})
}

type reconcilerStub struct {
	calls int
}

func (r *reconcilerStub) Sync(context.Context) (usecases.SyncReport, error) {
	r.calls++
	return usecases.SyncReport{Pending: 2, Synced: 2}, nil
}

func newAPI(t *testing.T, payments *paymentStub) (*httptest.Server, *probeStub, *reconcilerStub) {
	t.Helper()

	probe := &probeStub{}
	reconciler := &reconcilerStub{}

	router := mux.NewRouter()
	handlers.NewHTTPHandler(testLogger, payments, probe, reconciler).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, probe, reconciler
}

func submit(t *testing.T, srv *httptest.Server, body string, user string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/transactions", strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Username", user)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestSubmitTransaction_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status entities.TransactionStatus
		want   int
	}{
		{"sent", entities.StatusSent, http.StatusCreated},
		{"queued", entities.StatusQueued, http.StatusAccepted},
		{"blocked", entities.StatusBlocked, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &paymentStub{result: &usecases.PaymentResult{
				Transaction: &entities.Transaction{ID: "tx-1", Status: tt.status},
				Status:      tt.status,
			}}
			srv, _, _ := newAPI(t, payments)

			resp := submit(t, srv, `{"recipient":"bob","amount":25}`, "alice")
			require.Equal(t, tt.want, resp.StatusCode)
			require.Equal(t, "alice", payments.session.Username)

			var got usecases.PaymentResult
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			require.Equal(t, tt.status, got.Status)
			require.Equal(t, "tx-1", got.Transaction.ID)
		})
	}
}

func TestSubmitTransaction_Rejections(t *testing.T) {
	t.Run("missing session", func(t *testing.T) {
		srv, _, _ := newAPI(t, &paymentStub{})
		resp := submit(t, srv, `{"recipient":"bob","amount":25}`, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _, _ := newAPI(t, &paymentStub{})
		resp := submit(t, srv, `{"recipient":`, "alice")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid amount", func(t *testing.T) {
		srv, _, _ := newAPI(t, &paymentStub{})
		resp := submit(t, srv, `{"recipient":"bob","amount":0}`, "alice")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("all channels failed", func(t *testing.T) {
		payments := &paymentStub{
			result: &usecases.PaymentResult{
				Transaction: &entities.Transaction{ID: "tx-2", Status: entities.StatusPending},
				Status:      entities.StatusPending,
			},
			err: fmt.Errorf("failed to route transaction tx-2: %w", entities.ErrAllChannelsFailed),
		}
		srv, _, _ := newAPI(t, payments)

		resp := submit(t, srv, `{"recipient":"bob","amount":25}`, "alice")
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)

		var got usecases.PaymentResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Equal(t, entities.StatusPending, got.Status)
	})
}

func TestTransactionQueries(t *testing.T) {
	queued := &entities.Transaction{ID: "tx-q", Status: entities.StatusQueued}
	payments := &paymentStub{
		txns:     map[string]*entities.Transaction{"tx-q": queued},
		unsynced: []*entities.Transaction{queued},
	}
	srv, _, _ := newAPI(t, payments)

	resp, err := http.Get(srv.URL + "/transactions/tx-q")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	missing, err := http.Get(srv.URL + "/transactions/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(srv.URL + "/transactions/unsynced")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)

	var txns []entities.Transaction
	require.NoError(t, json.NewDecoder(list.Body).Decode(&txns))
	require.Len(t, txns, 1)
	require.Equal(t, "tx-q", txns[0].ID)

	badLimit, err := http.Get(srv.URL + "/transactions/unsynced?limit=-1")
	require.NoError(t, err)
	defer badLimit.Body.Close()
	require.Equal(t, http.StatusBadRequest, badLimit.StatusCode)

	count, err := http.Get(srv.URL + "/users/alice/count")
	require.NoError(t, err)
	defer count.Body.Close()

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(count.Body).Decode(&body))
	require.Equal(t, 3, body.Count)
}

func TestChannelsAndSync(t *testing.T) {
	srv, probe, reconciler := newAPI(t, &paymentStub{})

	resp, err := http.Get(srv.URL + "/channels?force=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.True(t, probe.forced)

	var channels struct {
		Priority []entities.Channel           `json:"priority"`
		Snapshot *entities.CapabilitySnapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&channels))
	require.Equal(t, entities.ChannelPriority, channels.Priority)
	require.True(t, channels.Snapshot.Available(entities.ChannelLocal))
	require.False(t, channels.Snapshot.Available(entities.ChannelNetwork))

	syncResp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	defer syncResp.Body.Close()
	require.Equal(t, http.StatusOK, syncResp.StatusCode)
	require.Equal(t, 1, reconciler.calls)

	var report usecases.SyncReport
	require.NoError(t, json.NewDecoder(syncResp.Body).Decode(&report))
	require.Equal(t, 2, report.Synced)
}

func TestWebSocketStream(t *testing.T) {
	manager := handlers.NewWebSocketManager(testLogger)
	router := mux.NewRouter()
	handlers.NewWebSocketHandler(testLogger, manager).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/transactions", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return manager.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	manager.Publish(entities.TransactionEvent{TxID: "tx-9", Status: entities.StatusQueued, Channel: string(entities.ChannelLocal)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event entities.TransactionEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "tx-9", event.TxID)
	require.Equal(t, entities.StatusQueued, event.Status)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return manager.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func newSyncServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunSQLiteMigrations(testLogger, db, migrations.FS, "sqlite"))

	router := mux.NewRouter()
	handlers.NewSyncHandler(testLogger, repository.NewSQLiteReconciliations(testLogger, db), secret, "paymesh-device").
		RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv
}

func TestSyncServer_AcknowledgesOnce(t *testing.T) {
	srv := newSyncServer(t, "s3cret")
	tokens := clients.NewTokenSigner("s3cret", "paymesh-device", "device-1", time.Minute)
	client := clients.NewReconcileClient(testLogger, srv.URL+"/sync", tokens, time.Second)

	req := ports.SyncRequest{ID: "tx-1", Sender: "alice", Recipient: "bob", Amount: 10, CreatedAt: time.Now()}
	require.NoError(t, client.Reconcile(context.Background(), req))
	require.NoError(t, client.Reconcile(context.Background(), req))

	resp, err := http.Get(srv.URL + "/reconciled/tx-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec entities.Reconciliation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, "alice", rec.Sender)

	missing, err := http.Get(srv.URL + "/reconciled/tx-404")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSyncServer_Rejections(t *testing.T) {
	srv := newSyncServer(t, "s3cret")

	t.Run("wrong secret", func(t *testing.T) {
		tokens := clients.NewTokenSigner("other", "paymesh-device", "device-1", time.Minute)
		client := clients.NewReconcileClient(testLogger, srv.URL+"/sync", tokens, time.Second)

		err := client.Reconcile(context.Background(), ports.SyncRequest{ID: "tx-1"})
		require.ErrorIs(t, err, entities.ErrSyncFailed)
	})

	t.Run("missing id", func(t *testing.T) {
		token, err := clients.NewTokenSigner("s3cret", "paymesh-device", "device-1", time.Minute).Token()
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/sync", strings.NewReader(`{}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var ack struct {
			Status string `json:"status"`
			Msg    string `json:"msg"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		require.Equal(t, "Missing txn_id", ack.Msg)
	})

	t.Run("legacy txn_id field", func(t *testing.T) {
		token, err := clients.NewTokenSigner("s3cret", "paymesh-device", "device-1", time.Minute).Token()
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/sync", strings.NewReader(`{"txn_id":"tx-legacy"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
