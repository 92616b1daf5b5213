package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// ProposalConclude handles successful conclude-proposal contract calls,
// writing the contract's authoritative conclusion fields (§4.6.3).
type ProposalConclude struct {
	store  store.Gateway
	logger *slog.Logger
}

// NewProposalConclude constructs the ProposalConclude handler.
func NewProposalConclude(gateway store.Gateway, logger *slog.Logger) *ProposalConclude {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalConclude{store: gateway, logger: logger}
}

func (h *ProposalConclude) Name() string { return "proposal-conclude" }

func (h *ProposalConclude) CanHandle(tx chainhook.Transaction) bool {
	return tx.Kind == chainhook.KindContractCall && tx.Method == "conclude-proposal" && tx.Success
}

type concludePayload struct {
	ProposalID   *int64  `json:"proposalId"`
	Proposal     *string `json:"proposal"`
	ConcludedBy  string  `json:"concludedBy"`
	Executed     bool    `json:"executed"`
	MetQuorum    bool    `json:"metQuorum"`
	MetThreshold bool    `json:"metThreshold"`
	Passed       bool    `json:"passed"`
	VotesFor     string  `json:"votesFor"`
	VotesAgainst string  `json:"votesAgainst"`
	LiquidTokens *string `json:"liquidTokens"`
}

func (h *ProposalConclude) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	ext, ok := resolveDAO(ctx, h.store, tx.ContractPrincipal, h.logger)
	if !ok {
		return nil
	}

	event, found := printEvent(tx, "conclude-proposal")
	if !found {
		return nil
	}
	var payload concludePayload
	if !decodePayload(event.Payload, &payload) {
		h.logger.Warn("chainhook: malformed conclude-proposal payload", "tx", tx.TxID)
		return nil
	}

	kind := proposalKind(tx.ContractPrincipal)
	contractPrincipal := ""
	if payload.Proposal != nil {
		contractPrincipal = *payload.Proposal
	}

	proposal, err := h.store.GetProposalByKey(ctx, ext.DAOID, kind, payload.ProposalID, contractPrincipal)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("chainhook: conclude for unknown proposal, skipping", "tx", tx.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	// Tallies are set from the event, superseding any incremental values
	// accumulated by the vote handler — the contract is authoritative here.
	proposal.VotesFor = payload.VotesFor
	proposal.VotesAgainst = payload.VotesAgainst
	proposal.ConcludedBy = payload.ConcludedBy
	proposal.Executed = boolPtr(payload.Executed)
	proposal.MetQuorum = boolPtr(payload.MetQuorum)
	proposal.MetThreshold = boolPtr(payload.MetThreshold)
	proposal.Passed = boolPtr(payload.Passed)
	proposal.Status = store.ProposalStatusConclude
	// liquid_tokens is monotone: set only if previously unset.
	if proposal.LiquidTokens == nil && payload.LiquidTokens != nil {
		proposal.LiquidTokens = stringPtr(*payload.LiquidTokens)
	}

	return h.store.UpdateProposal(ctx, proposal)
}
