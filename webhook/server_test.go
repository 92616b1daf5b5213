package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

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

const samplePayload = `{
	"apply": [{
		"block_identifier": {"hash": "0xblock1", "index": 200},
		"parent_block_identifier": {"hash": "0xblock0", "index": 199},
		"metadata": {"block_time": 1700000000},
		"transactions": [{
			"transaction_identifier": {"hash": "0xtx1"},
			"metadata": {"kind": {"type": "ContractCall"}, "sender": "SPX", "success": true, "result": {"repr": "(ok true)"}, "receipt": {"events": []}},
			"operations": []
		}]
	}],
	"chainhook": {},
	"events": [],
	"rollback": []
}`

func TestHandleChainhookAcceptsValidPayload(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher([]chainhook.Handler{handlers.NewBlockState(gateway, "mainnet", nil)})
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chainhook", bytes.NewBufferString(samplePayload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body chainhookAckBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Blocks)
	require.Equal(t, 1, body.Transactions)

	state, err := gateway.GetChainState(context.Background(), "mainnet")
	require.NoError(t, err)
	require.Equal(t, uint64(200), state.Height)
}

func TestHandleChainhookRejectsMalformedPayload(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chainhook", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "malformed_payload", body.Code)
	require.NotEmpty(t, body.CorrelationID)
}

func TestHandleChainhookRejectsMissingBlockHash(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chainhook", bytes.NewBufferString(`{"apply":[{"block_identifier":{"hash":""},"transactions":[]}]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDAOCreate(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	body := `{
		"name": "Example DAO",
		"mission": "govern things",
		"description": "a test dao",
		"contracts": [
			{"type": "TOKEN", "subtype": "DAO", "contract_principal": "SP000.example-token", "tx_id": "0x1"},
			{"type": "governance", "subtype": "core", "contract_principal": "SP000.core-proposals", "tx_id": "0x2"},
			{"type": "governance", "subtype": "action", "contract_principal": "SP000.action-proposals", "tx_id": "0x3"}
		],
		"token_info": {"symbol": "EXD", "decimals": 6, "max_supply": "1000000000000", "uri": "ipfs://meta", "image_url": "https://example.com/logo.png"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/dao", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp daoCreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.DAOID)
	require.NotZero(t, resp.TokenID)
	require.Len(t, resp.ExtensionIDs, 2)

	dao, err := gateway.GetDAOByID(context.Background(), resp.DAOID)
	require.NoError(t, err)
	require.Equal(t, "Example DAO", dao.Name)

	token, err := gateway.GetTokenByPrincipal(context.Background(), "SP000.example-token")
	require.NoError(t, err)
	require.Equal(t, "EXD", token.Symbol)

	exts, err := gateway.ListExtensionsByDAO(context.Background(), resp.DAOID)
	require.NoError(t, err)
	require.Len(t, exts, 2)
}

func TestHandleDAOCreateRejectsMissingTokenContract(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	body := `{"name": "No Token DAO", "contracts": [{"type": "governance", "subtype": "core", "contract_principal": "SP000.core-proposals"}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dao", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDAOCreateRequiresAuthWhenConfigured(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher, Auth: NewHMACAuthenticator("topsecret")})

	body := `{"name": "Gated DAO", "contracts": [{"type": "TOKEN", "contract_principal": "SP000.gated-token"}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dao", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	gateway := newTestGateway(t)
	dispatcher := chainhook.NewDispatcher(nil)
	srv := New(Config{Store: gateway, Dispatcher: dispatcher})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
