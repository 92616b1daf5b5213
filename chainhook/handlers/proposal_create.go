package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"daobackend/chainhook"
	"daobackend/store"
)

// ProposalCreate handles ContractCall transactions on governance extensions
// that emit a print event announcing a new proposal (§4.6.1).
type ProposalCreate struct {
	store  store.Gateway
	logger *slog.Logger
}

// NewProposalCreate constructs the ProposalCreate handler.
func NewProposalCreate(gateway store.Gateway, logger *slog.Logger) *ProposalCreate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalCreate{store: gateway, logger: logger}
}

func (h *ProposalCreate) Name() string { return "proposal-create" }

func (h *ProposalCreate) CanHandle(tx chainhook.Transaction) bool {
	if tx.Kind != chainhook.KindContractCall {
		return false
	}
	_, ok := printEvent(tx, "propose-action", "create-proposal")
	return ok
}

type proposalCreatePayload struct {
	ProposalID *int64  `json:"proposalId"`
	Proposal   *string `json:"proposal"`
	Creator    string  `json:"creator"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
}

func (h *ProposalCreate) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	ext, ok := resolveDAO(ctx, h.store, tx.ContractPrincipal, h.logger)
	if !ok {
		return nil
	}

	event, _ := printEvent(tx, "propose-action", "create-proposal")
	var payload proposalCreatePayload
	if !decodePayload(event.Payload, &payload) {
		h.logger.Warn("chainhook: malformed proposal-create payload", "tx", tx.TxID)
		return nil
	}
	if payload.ProposalID == nil && payload.Proposal == nil {
		h.logger.Warn("chainhook: proposal-create missing both proposalId and proposal, skipping", "tx", tx.TxID)
		return nil
	}

	kind := proposalKind(tx.ContractPrincipal)
	contractPrincipal := ""
	if payload.Proposal != nil {
		contractPrincipal = *payload.Proposal
	}

	existing, err := h.store.GetProposalByKey(ctx, ext.DAOID, kind, payload.ProposalID, contractPrincipal)
	switch {
	case err == nil:
		return h.updateUnsetFields(ctx, existing, payload)
	case errors.Is(err, store.ErrNotFound):
		proposal := &store.Proposal{
			DAOID:             ext.DAOID,
			Kind:              kind,
			OnChainID:         payload.ProposalID,
			ContractPrincipal: contractPrincipal,
			Title:             payload.Title,
			Content:           payload.Content,
			Creator:           payload.Creator,
			TxID:              tx.TxID,
			Status:            store.ProposalStatusActive,
		}
		if block.BlockTime > 0 {
			proposal.CreatedAt = time.Unix(block.BlockTime, 0).UTC()
		}
		return h.store.CreateProposal(ctx, proposal)
	default:
		return err
	}
}

// updateUnsetFields implements "if a row exists, update only fields that
// are unset" — this handler never overwrites already-populated content.
func (h *ProposalCreate) updateUnsetFields(ctx context.Context, existing *store.Proposal, payload proposalCreatePayload) error {
	dirty := false
	if existing.Title == "" && payload.Title != "" {
		existing.Title = payload.Title
		dirty = true
	}
	if existing.Content == "" && payload.Content != "" {
		existing.Content = payload.Content
		dirty = true
	}
	if existing.Creator == "" && payload.Creator != "" {
		existing.Creator = payload.Creator
		dirty = true
	}
	if !dirty {
		return nil
	}
	return h.store.UpdateProposal(ctx, existing)
}
