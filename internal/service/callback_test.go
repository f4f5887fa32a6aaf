package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callbackHit struct {
	path      string
	body      []byte
	signature string
	txID      string
}

// callbackServer answers with the next status of the path's script and
// repeats the last one when the script runs out.
type callbackServer struct {
	mu      sync.Mutex
	scripts map[string][]int
	hits    []callbackHit
}

func newCallbackServer(t *testing.T, scripts map[string][]int) (*callbackServer, *httptest.Server) {
	cs := &callbackServer{scripts: scripts}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.hits = append(cs.hits, callbackHit{
			path:      r.URL.Path,
			body:      body,
			signature: r.Header.Get("X-Signature"),
			txID:      r.Header.Get("X-Transaction-Id"),
		})
		script := cs.scripts[r.URL.Path]
		status := http.StatusOK
		if len(script) > 0 {
			status = script[0]
			if len(script) > 1 {
				cs.scripts[r.URL.Path] = script[1:]
			}
		}
		cs.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *callbackServer) Hits() []callbackHit {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]callbackHit(nil), cs.hits...)
}

func fastCallbacks(env *testEnv) *CallbackService {
	s := config.DefaultSettlement()
	s.CallbackBackoff = time.Millisecond
	s.CallbackTimeout = 2 * time.Second
	env.settings.Store(s)
	return NewCallbackService(env.store, env.settings)
}

func TestCallbackRetriesUntilDelivered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cs, srv := newCallbackServer(t, map[string][]int{"/cb": {http.StatusInternalServerError, http.StatusOK}})

	req := env.request("3001")
	req.CallbackURL = srv.URL + "/cb"
	req.SuccessURL = srv.URL + "/ok"
	req.FailURL = srv.URL + "/fail"
	alloc, err := env.allocator.Allocate(ctx, req)
	require.NoError(t, err)

	ev := Event{TransactionID: alloc.Transaction.ID, Prev: domain.StatusInProgress, Status: domain.StatusReady, At: testStart}
	require.NoError(t, fastCallbacks(env).Deliver(ctx, ev))

	hits := cs.Hits()
	require.Len(t, hits, 3)
	assert.Equal(t, "/cb", hits[0].path)
	assert.Equal(t, "/cb", hits[1].path)
	assert.Equal(t, "/ok", hits[2].path)

	for _, h := range hits {
		assert.Equal(t, Sign("s3cret", h.body), h.signature)
		assert.Equal(t, alloc.Transaction.ID.String(), h.txID)
	}

	var payload CallbackPayload
	require.NoError(t, json.Unmarshal(hits[0].body, &payload))
	assert.Equal(t, alloc.Transaction.ID.String(), payload.TransactionID)
	assert.Equal(t, req.OrderID, payload.OrderID)
	assert.Equal(t, "READY", payload.Status)
	assert.Equal(t, json.Number("3001.00"), payload.Amount)
	assert.Equal(t, alloc.Transaction.Number, payload.Number)

	history, err := env.transactions.CallbackHistory(ctx, env.merchant.ID, alloc.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int32(1), history[0].Attempt)
	assert.Equal(t, int32(500), *history[0].StatusCode)
	assert.Equal(t, int32(2), history[1].Attempt)
	assert.Equal(t, int32(200), *history[1].StatusCode)
	assert.Equal(t, "ack", history[1].Response)
}

func TestCallbackExhaustion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cs, srv := newCallbackServer(t, map[string][]int{"/cb": {http.StatusServiceUnavailable}})

	req := env.request("1000")
	req.CallbackURL = srv.URL + "/cb"
	alloc, err := env.allocator.Allocate(ctx, req)
	require.NoError(t, err)
	_, err = env.transactions.Cancel(ctx, alloc.Transaction.ID, nil, "")
	require.NoError(t, err)

	ev := Event{TransactionID: alloc.Transaction.ID, Prev: domain.StatusInProgress, Status: domain.StatusCanceled, At: testStart}
	err = fastCallbacks(env).Deliver(ctx, ev)
	require.ErrorIs(t, err, domain.ErrCallbackFailed)

	assert.Len(t, cs.Hits(), 3)
	history, err := env.store.Queries().ListCallbackHistory(ctx, alloc.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int32(3), history[2].Attempt)

	assert.Equal(t, domain.StatusCanceled, env.txState(t, alloc.Transaction.ID).Status)
}

func TestCallbackConnectionErrorIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, srv := newCallbackServer(t, nil)
	url := srv.URL + "/cb"
	srv.Close()

	req := env.request("1000")
	req.CallbackURL = url
	alloc, err := env.allocator.Allocate(ctx, req)
	require.NoError(t, err)

	err = fastCallbacks(env).Deliver(ctx, Event{TransactionID: alloc.Transaction.ID, Status: domain.StatusReady})
	require.ErrorIs(t, err, domain.ErrCallbackFailed)

	history, err := env.store.Queries().ListCallbackHistory(ctx, alloc.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Nil(t, history[0].StatusCode)
	assert.NotEmpty(t, history[0].Error)
}

func TestCallbackTargets(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("1000")
	req.SuccessURL = "http://merchant.test/callback"
	req.FailURL = "http://merchant.test/fail"
	alloc, err := env.allocator.Allocate(context.Background(), req)
	require.NoError(t, err)
	tx := alloc.Transaction

	assert.Equal(t, []string{"http://merchant.test/callback"}, callbackTargets(tx, domain.StatusReady))
	assert.Equal(t, []string{"http://merchant.test/callback", "http://merchant.test/fail"}, callbackTargets(tx, domain.StatusExpired))
	assert.Equal(t, []string{"http://merchant.test/callback"}, callbackTargets(tx, domain.StatusDispute))
}

func TestSign(t *testing.T) {
	assert.Equal(t, "sha256=88a67f24bbcdaed0e6c997404bb79a743baf44c6bab2f4c27328e3009d22e342", Sign("key", []byte(`{"a":1}`)))
	assert.NotEqual(t, Sign("key", []byte("a")), Sign("other", []byte("a")))
}
