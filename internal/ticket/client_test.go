package ticket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ledgerindexer/internal/models"
	"ledgerindexer/internal/resilience"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(Options{
		BaseURL: srv.URL,
		Token:   "secret",
		Retry: &resilience.RetryPolicy{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			Multiplier:   2,
			MaxDelay:     2 * time.Millisecond,
		},
		Breaker: &resilience.BreakerConfig{Name: "test", FailureThreshold: 2, ResetTimeout: time.Hour, HalfOpenRequests: 1},
	}, log)
}

func TestCheckTokenExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/internal/tickets/tokens/MintX/exists", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"exists": true}`))
	})

	exists, err := client.CheckTokenExists(context.Background(), "MintX")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetTicketByToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/internal/tickets/tokens/Unknown" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"t1","token_id":"MintX","wallet_address":"W1","status":"SOLD","is_minted":true}`))
	})

	ticket, err := client.GetTicketByToken(context.Background(), "MintX")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "t1", ticket.ID)
	assert.Equal(t, "W1", ticket.WalletAddress)
	assert.True(t, ticket.IsMinted)

	missing, err := client.GetTicketByToken(context.Background(), "Unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateBlockchainSyncByToken_SendsPatch(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/internal/tickets/tokens/MintX/blockchain-sync", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.UpdateBlockchainSyncByToken(context.Background(), "MintX", models.SyncPatch{
		IsMinted:      models.BoolPtr(true),
		WalletAddress: models.StringPtr("W1"),
		SyncStatus:    models.SyncStatusPtr(models.SyncSynced),
	})
	require.NoError(t, err)
	assert.Equal(t, true, got["is_minted"])
	assert.Equal(t, "W1", got["wallet_address"])
	assert.Equal(t, "SYNCED", got["sync_status"])
	assert.NotContains(t, got, "status")
}

func TestGetTicketsForReconciliation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var filter models.ReconciliationFilter
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&filter))
		assert.True(t, filter.MintedOnly)
		assert.Equal(t, 50, filter.Limit)
		_, _ = w.Write([]byte(`{"tickets":[{"id":"t1","token_id":"A"},{"id":"t2","token_id":"B"}]}`))
	})

	tickets, err := client.GetTicketsForReconciliation(context.Background(), models.ReconciliationFilter{MintedOnly: true, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.RecordBlockchainTransfer(context.Background(), models.TransferRecord{TicketID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`invalid wallet`))
	})

	for i := 0; i < 3; i++ {
		err := client.UpdateMarketplaceStatus(context.Background(), models.MarketplaceStatusUpdate{TokenID: "A"})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.Code)
		assert.Equal(t, "invalid wallet", statusErr.Body)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, resilience.StateClosed, client.breaker.State())
}

func TestBreakerOpensAfterOutage(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		require.Error(t, client.UpdateBlockchainSync(context.Background(), "t1", models.SyncPatch{}))
	}
	before := atomic.LoadInt32(&calls)

	err := client.UpdateBlockchainSync(context.Background(), "t1", models.SyncPatch{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}
