package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"daobackend/chain"
	"daobackend/chainhook"
	"daobackend/chainhook/handlers"
	"daobackend/store"
)

func newTestGateway(t *testing.T) store.Gateway {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return store.NewGormGateway(db)
}

// fakeChainServer serves /info at tipHeight and empty-transaction blocks for
// every height, letting the BlockState handler alone drive ChainState.
func fakeChainServer(tipHeight uint64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/info":
			fmt.Fprintf(w, `{"chain_tip":{"block_height":%d,"block_hash":"0xtip"}}`, tipHeight)
		case strings.Contains(r.URL.Path, "/transactions"):
			w.Write([]byte(`{"results":[],"total":0,"offset":0,"limit":100}`))
		default:
			w.Write([]byte(`{"hash":"0xblock","parent_block_hash":"0xparent","burn_block_height":1,"block_time":1700000000}`))
		}
	}))
}

// TestChainStateMonitorCatchUpMatchesP2AndS4 matches P2 (stored=tip-k yields
// k dispatcher invocations) and S4 (catch-up fully advances ChainState).
func TestChainStateMonitorCatchUpMatchesP2AndS4(t *testing.T) {
	gateway := newTestGateway(t)
	require.NoError(t, gateway.UpsertChainState(context.Background(), "testnet", 100, "0xstored"))

	server := fakeChainServer(115)
	defer server.Close()
	client := chain.NewClient(server.URL)

	var dispatchCount int32
	blockState := &countingBlockState{inner: handlers.NewBlockState(gateway, "testnet", nil), count: &dispatchCount}
	dispatcher := chainhook.NewDispatcher([]chainhook.Handler{blockState})

	def := NewChainStateMonitor(ChainStateMonitorConfig{Network: "testnet", StaleBlocks: 10}, gateway, client, dispatcher, nil)
	results, err := def.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(15), results[0].Payload["blocks_behind"])
	require.Equal(t, int64(15), results[0].Payload["blocks_processed"])
	require.EqualValues(t, 15, atomic.LoadInt32(&dispatchCount))

	state, err := gateway.GetChainState(context.Background(), "testnet")
	require.NoError(t, err)
	require.Equal(t, uint64(115), state.Height)
}

// TestChainStateMonitorFreshWithinThreshold matches the boundary behavior:
// blocks_behind <= stale_threshold yields "fresh" with no dispatch.
func TestChainStateMonitorFreshWithinThreshold(t *testing.T) {
	gateway := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gateway.UpsertChainState(ctx, "testnet", 100, "0xstored"))

	server := fakeChainServer(105)
	defer server.Close()
	client := chain.NewClient(server.URL)

	var dispatchCount int32
	blockState := &countingBlockState{inner: handlers.NewBlockState(gateway, "testnet", nil), count: &dispatchCount}
	dispatcher := chainhook.NewDispatcher([]chainhook.Handler{blockState})

	def := NewChainStateMonitor(ChainStateMonitorConfig{Network: "testnet", StaleBlocks: 10}, gateway, client, dispatcher, nil)
	results, err := def.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, "fresh", results[0].Message)
	require.EqualValues(t, 0, atomic.LoadInt32(&dispatchCount))
}

type countingBlockState struct {
	inner chainhook.Handler
	count *int32
}

func (c *countingBlockState) Name() string                   { return c.inner.Name() }
func (c *countingBlockState) CanHandle(tx chainhook.Transaction) bool { return c.inner.CanHandle(tx) }
func (c *countingBlockState) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	atomic.AddInt32(c.count, 1)
	return c.inner.Handle(ctx, tx, block)
}
