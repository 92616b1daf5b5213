package handlers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"daobackend/chainhook"
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

func seedActionDAO(t *testing.T, gateway store.Gateway) *store.Extension {
	t.Helper()
	ctx := context.Background()
	dao := &store.DAO{Name: "test-dao"}
	require.NoError(t, gateway.CreateDAO(ctx, dao))
	ext := &store.Extension{DAOID: dao.ID, Type: "governance", Subtype: "action", ContractPrincipal: "SP000.action-proposals"}
	require.NoError(t, gateway.CreateExtension(ctx, ext))
	return ext
}

func proposeActionTx(proposalID int64, creator string) chainhook.Transaction {
	return chainhook.Transaction{
		TxID:              "0xcreate",
		ContractPrincipal: "SP000.action-proposals",
		Kind:              chainhook.KindContractCall,
		Method:            "propose-action",
		Success:           true,
		Events: []chainhook.Event{{
			Kind:         chainhook.EventSmartContract,
			Topic:        "print",
			Notification: "propose-action",
			Payload:      []byte(fmt.Sprintf(`{"proposalId":%d,"creator":"%s"}`, proposalID, creator)),
		}},
	}
}

// TestProposalCreateMatchesScenarioS1 matches S1.
func TestProposalCreateMatchesScenarioS1(t *testing.T) {
	gateway := newTestGateway(t)
	ext := seedActionDAO(t, gateway)
	handler := NewProposalCreate(gateway, nil)

	tx := proposeActionTx(42, "SPA")
	require.True(t, handler.CanHandle(tx))
	require.NoError(t, handler.Handle(context.Background(), tx, chainhook.Block{}))

	proposal, err := gateway.GetProposalByKey(context.Background(), ext.DAOID, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, "SPA", proposal.Creator)
	require.Equal(t, store.ProposalStatusActive, proposal.Status)

	// Replaying yields no change (P1/idempotency).
	require.NoError(t, handler.Handle(context.Background(), tx, chainhook.Block{}))
	replayed, err := gateway.GetProposalByKey(context.Background(), ext.DAOID, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, proposal.ID, replayed.ID)
	require.Equal(t, "SPA", replayed.Creator)
}

// TestProposalCreateStampsBlockTime covers §4.6.1/S1: created-at must be the
// block time, not wall-clock insert time.
func TestProposalCreateStampsBlockTime(t *testing.T) {
	gateway := newTestGateway(t)
	ext := seedActionDAO(t, gateway)
	handler := NewProposalCreate(gateway, nil)

	block := chainhook.Block{BlockTime: 1700000000}
	tx := proposeActionTx(43, "SPA")
	require.NoError(t, handler.Handle(context.Background(), tx, block))

	proposal, err := gateway.GetProposalByKey(context.Background(), ext.DAOID, store.ProposalKindAction, int64Ptr(43), "")
	require.NoError(t, err)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), proposal.CreatedAt)
}

func voteTx(voter string, amount string, inFavor bool) chainhook.Transaction {
	return chainhook.Transaction{
		TxID:              "0xvote-" + voter,
		ContractPrincipal: "SP000.action-proposals",
		Kind:              chainhook.KindContractCall,
		Method:            "vote-on-proposal",
		Success:           true,
		Events: []chainhook.Event{{
			Kind:         chainhook.EventSmartContract,
			Topic:        "print",
			Notification: "vote-on-proposal",
			Payload:      []byte(fmt.Sprintf(`{"proposalId":42,"voter":"%s","amount":"%s","vote":%t}`, voter, amount, inFavor)),
		}},
	}
}

// TestProposalVoteMatchesScenarioS2AndI2I3 matches S2 and invariants I2/I3.
func TestProposalVoteMatchesScenarioS2AndI2I3(t *testing.T) {
	gateway := newTestGateway(t)
	seedActionDAO(t, gateway)
	createHandler := NewProposalCreate(gateway, nil)
	require.NoError(t, createHandler.Handle(context.Background(), proposeActionTx(42, "SPA"), chainhook.Block{}))

	voteHandler := NewProposalVote(gateway, nil)
	ctx := context.Background()
	require.NoError(t, voteHandler.Handle(ctx, voteTx("SPB", "1000", true), chainhook.Block{}))
	require.NoError(t, voteHandler.Handle(ctx, voteTx("SPC", "500", false), chainhook.Block{}))

	proposal, err := gateway.GetProposalByKey(ctx, 1, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, "1000", proposal.VotesFor)
	require.Equal(t, "500", proposal.VotesAgainst)

	votes, err := gateway.ListVotesByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, votes, 2)

	// Replaying both votes must not double-count (I3) and tallies stay put (I2).
	require.NoError(t, voteHandler.Handle(ctx, voteTx("SPB", "1000", true), chainhook.Block{}))
	require.NoError(t, voteHandler.Handle(ctx, voteTx("SPC", "500", false), chainhook.Block{}))

	votesAfterReplay, err := gateway.ListVotesByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, votesAfterReplay, 2, "replaying votes must not insert duplicate rows (I3)")

	unchanged, err := gateway.GetProposalByKey(ctx, 1, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, "1000", unchanged.VotesFor, "tallies must not grow on replay (I2)")
	require.Equal(t, "500", unchanged.VotesAgainst)
}

// TestProposalVoteAcceptsLegacyValueKey covers payloads still emitting the
// old "value" key instead of "vote".
func TestProposalVoteAcceptsLegacyValueKey(t *testing.T) {
	gateway := newTestGateway(t)
	seedActionDAO(t, gateway)
	createHandler := NewProposalCreate(gateway, nil)
	require.NoError(t, createHandler.Handle(context.Background(), proposeActionTx(42, "SPA"), chainhook.Block{}))

	ctx := context.Background()
	legacyTx := chainhook.Transaction{
		TxID:              "0xvote-legacy",
		ContractPrincipal: "SP000.action-proposals",
		Kind:              chainhook.KindContractCall,
		Method:            "vote-on-proposal",
		Success:           true,
		Events: []chainhook.Event{{
			Kind:         chainhook.EventSmartContract,
			Topic:        "print",
			Notification: "vote-on-proposal",
			Payload:      []byte(`{"proposalId":42,"voter":"SPD","amount":"250","value":true}`),
		}},
	}
	require.NoError(t, NewProposalVote(gateway, nil).Handle(ctx, legacyTx, chainhook.Block{}))

	proposal, err := gateway.GetProposalByKey(ctx, 1, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, "250", proposal.VotesFor)
}

// TestProposalConcludeMatchesScenarioS3 matches S3.
func TestProposalConcludeMatchesScenarioS3(t *testing.T) {
	gateway := newTestGateway(t)
	seedActionDAO(t, gateway)
	ctx := context.Background()
	require.NoError(t, NewProposalCreate(gateway, nil).Handle(ctx, proposeActionTx(42, "SPA"), chainhook.Block{}))
	require.NoError(t, NewProposalVote(gateway, nil).Handle(ctx, voteTx("SPB", "1000", true), chainhook.Block{}))
	require.NoError(t, NewProposalVote(gateway, nil).Handle(ctx, voteTx("SPC", "500", false), chainhook.Block{}))

	concludeTx := chainhook.Transaction{
		TxID:              "0xconclude",
		ContractPrincipal: "SP000.action-proposals",
		Kind:              chainhook.KindContractCall,
		Method:            "conclude-proposal",
		Success:           true,
		Events: []chainhook.Event{{
			Kind:         chainhook.EventSmartContract,
			Topic:        "print",
			Notification: "conclude-proposal",
			Payload: []byte(`{"proposalId":42,"concludedBy":"SPD","executed":true,"metQuorum":true,
				"metThreshold":true,"passed":true,"votesFor":"1000","votesAgainst":"500","liquidTokens":"100000"}`),
		}},
	}
	require.NoError(t, NewProposalConclude(gateway, nil).Handle(ctx, concludeTx, chainhook.Block{}))

	proposal, err := gateway.GetProposalByKey(ctx, 1, store.ProposalKindAction, int64Ptr(42), "")
	require.NoError(t, err)
	require.Equal(t, "1000", proposal.VotesFor)
	require.Equal(t, "500", proposal.VotesAgainst)
	require.NotNil(t, proposal.LiquidTokens)
	require.Equal(t, "100000", *proposal.LiquidTokens)
	require.True(t, *proposal.Passed)
	require.True(t, *proposal.Executed)
	require.Equal(t, store.ProposalStatusConclude, proposal.Status)
}

// TestDispatchOrderingMatchesI5 confirms the dispatcher delivers transactions
// in array order to a handler that claims all of them.
func TestDispatchOrderingMatchesI5(t *testing.T) {
	gateway := newTestGateway(t)
	seedActionDAO(t, gateway)
	blockStateHandler := NewBlockState(gateway, "mainnet", nil)

	block := chainhook.Block{Hash: "0xb1", Index: 200, Transactions: []chainhook.Transaction{
		{TxID: "0xa"}, {TxID: "0xb"}, {TxID: "0xc"},
	}}
	recorder := &orderRecorder{}
	dispatcher := chainhook.NewDispatcher([]chainhook.Handler{recorder, blockStateHandler})
	dispatcher.Dispatch(context.Background(), chainhook.Payload{Apply: []chainhook.Block{block}})

	require.Equal(t, []string{"0xa", "0xb", "0xc"}, recorder.txIDs)

	state, err := gateway.GetChainState(context.Background(), "mainnet")
	require.NoError(t, err)
	require.Equal(t, uint64(200), state.Height)
}

// orderRecorder claims every transaction and records the order it sees them in.
type orderRecorder struct{ txIDs []string }

func (r *orderRecorder) Name() string                         { return "order-recorder" }
func (r *orderRecorder) CanHandle(chainhook.Transaction) bool { return true }
func (r *orderRecorder) Handle(_ context.Context, tx chainhook.Transaction, _ chainhook.Block) error {
	r.txIDs = append(r.txIDs, tx.TxID)
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
