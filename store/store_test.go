package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestGateway(t *testing.T) Gateway {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return NewGormGateway(db)
}

func TestCreateDAOAndLookup(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	dao := &DAO{Name: "acme-dao", Mission: "ship value"}
	require.NoError(t, gw.CreateDAO(ctx, dao))
	require.NotZero(t, dao.ID)

	found, err := gw.GetDAOByName(ctx, "acme-dao")
	require.NoError(t, err)
	require.Equal(t, dao.ID, found.ID)

	_, err = gw.GetDAOByName(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVoteIdempotency(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	dao := &DAO{Name: "vote-dao"}
	require.NoError(t, gw.CreateDAO(ctx, dao))
	onChainID := int64(42)
	proposal := &Proposal{DAOID: dao.ID, Kind: ProposalKindAction, OnChainID: &onChainID, Status: ProposalStatusActive}
	require.NoError(t, gw.CreateProposal(ctx, proposal))

	vote := &Vote{ProposalID: proposal.ID, Voter: "SP...B", TxID: "0xabc", Amount: "1000", Value: true}
	inserted, err := gw.CreateVote(ctx, vote)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := &Vote{ProposalID: proposal.ID, Voter: "SP...B", TxID: "0xabc", Amount: "1000", Value: true}
	inserted, err = gw.CreateVote(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted, "replaying the same (proposal, voter, tx_id) must not insert a second row")

	votes, err := gw.ListVotesByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
}

func TestApplyVoteTally(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	dao := &DAO{Name: "tally-dao"}
	require.NoError(t, gw.CreateDAO(ctx, dao))
	onChainID := int64(7)
	proposal := &Proposal{DAOID: dao.ID, Kind: ProposalKindAction, OnChainID: &onChainID, Status: ProposalStatusActive}
	require.NoError(t, gw.CreateProposal(ctx, proposal))

	require.NoError(t, gw.ApplyVoteTally(ctx, proposal.ID, "1000", true))
	require.NoError(t, gw.ApplyVoteTally(ctx, proposal.ID, "500", false))

	found, err := gw.GetProposalByKey(ctx, dao.ID, ProposalKindAction, &onChainID, "")
	require.NoError(t, err)
	require.Equal(t, "1000", found.VotesFor)
	require.Equal(t, "500", found.VotesAgainst)
}

func TestChainStateMonotonic(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.UpsertChainState(ctx, "mainnet", 100, "0xhash100"))
	state, err := gw.GetChainState(ctx, "mainnet")
	require.NoError(t, err)
	require.Equal(t, uint64(100), state.Height)

	require.NoError(t, gw.UpsertChainState(ctx, "mainnet", 105, "0xhash105"))

	err = gw.UpsertChainState(ctx, "mainnet", 99, "0xregress")
	require.ErrorIs(t, err, ErrChainStateRegression)

	state, err = gw.GetChainState(ctx, "mainnet")
	require.NoError(t, err)
	require.Equal(t, uint64(105), state.Height, "a regressing update must not mutate stored height (I1)")
}
