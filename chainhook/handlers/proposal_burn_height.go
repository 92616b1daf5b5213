package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// ProposalBurnHeight updates a proposal's voting-window fields when a
// scheduling contract call reports its burn-block bounds (§4.6.4).
type ProposalBurnHeight struct {
	store  store.Gateway
	logger *slog.Logger
}

// NewProposalBurnHeight constructs the ProposalBurnHeight handler.
func NewProposalBurnHeight(gateway store.Gateway, logger *slog.Logger) *ProposalBurnHeight {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalBurnHeight{store: gateway, logger: logger}
}

func (h *ProposalBurnHeight) Name() string { return "proposal-burn-height" }

func (h *ProposalBurnHeight) CanHandle(tx chainhook.Transaction) bool {
	if tx.Kind != chainhook.KindContractCall {
		return false
	}
	_, ok := printEvent(tx, "schedule-proposal", "set-proposal-burn-height")
	return ok
}

type burnHeightPayload struct {
	ProposalID *int64  `json:"proposalId"`
	Proposal   *string `json:"proposal"`
	BurnStart  int64   `json:"burnStart"`
	BurnEnd    int64   `json:"burnEnd"`
}

func (h *ProposalBurnHeight) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	ext, ok := resolveDAO(ctx, h.store, tx.ContractPrincipal, h.logger)
	if !ok {
		return nil
	}

	event, _ := printEvent(tx, "schedule-proposal", "set-proposal-burn-height")
	var payload burnHeightPayload
	if !decodePayload(event.Payload, &payload) {
		h.logger.Warn("chainhook: malformed burn-height payload", "tx", tx.TxID)
		return nil
	}

	kind := proposalKind(tx.ContractPrincipal)
	contractPrincipal := ""
	if payload.Proposal != nil {
		contractPrincipal = *payload.Proposal
	}
	proposal, err := h.store.GetProposalByKey(ctx, ext.DAOID, kind, payload.ProposalID, contractPrincipal)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("chainhook: burn-height for unknown proposal, skipping", "tx", tx.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	if proposal.BurnStart != nil && *proposal.BurnStart == payload.BurnStart &&
		proposal.BurnEnd != nil && *proposal.BurnEnd == payload.BurnEnd {
		return nil // idempotent by value equality
	}
	proposal.BurnStart = &payload.BurnStart
	proposal.BurnEnd = &payload.BurnEnd
	return h.store.UpdateProposal(ctx, proposal)
}
