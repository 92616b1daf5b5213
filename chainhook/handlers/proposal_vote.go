package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// ProposalVote handles vote-on-proposal contract calls on core or action
// governance extensions (§4.6.2). Both kinds share this logic; kind
// routing is by contract-name substring.
type ProposalVote struct {
	store  store.Gateway
	logger *slog.Logger
}

// NewProposalVote constructs the ProposalVote handler.
func NewProposalVote(gateway store.Gateway, logger *slog.Logger) *ProposalVote {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalVote{store: gateway, logger: logger}
}

func (h *ProposalVote) Name() string { return "proposal-vote" }

func (h *ProposalVote) CanHandle(tx chainhook.Transaction) bool {
	return tx.Kind == chainhook.KindContractCall && tx.Method == "vote-on-proposal"
}

type voteEventPayload struct {
	ProposalID     *int64  `json:"proposalId"`
	Proposal       *string `json:"proposal"`
	Voter          string  `json:"voter"`
	Value          *bool   `json:"vote"`
	ValueFallback  *bool   `json:"value"`
	Amount         string  `json:"amount"`
	ContractCaller string  `json:"contractCaller"`
	TxSender       string  `json:"txSender"`
}

// vote resolves the for/against flag from the print event's "vote" field
// (the wire key the chain actually emits), falling back to the legacy
// "value" key for payloads that still use it.
func (p voteEventPayload) vote() bool {
	if p.Value != nil {
		return *p.Value
	}
	if p.ValueFallback != nil {
		return *p.ValueFallback
	}
	return false
}

func (h *ProposalVote) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	ext, ok := resolveDAO(ctx, h.store, tx.ContractPrincipal, h.logger)
	if !ok {
		return nil
	}

	event, found := printEvent(tx, "vote-on-proposal")
	if !found {
		return nil
	}
	var payload voteEventPayload
	if !decodePayload(event.Payload, &payload) {
		h.logger.Warn("chainhook: malformed vote-on-proposal payload", "tx", tx.TxID)
		return nil
	}

	kind := proposalKind(tx.ContractPrincipal)
	contractPrincipal := ""
	if payload.Proposal != nil {
		contractPrincipal = *payload.Proposal
	}

	proposal, err := h.store.GetProposalByKey(ctx, ext.DAOID, kind, payload.ProposalID, contractPrincipal)
	if errors.Is(err, store.ErrNotFound) {
		// A vote event can legitimately precede our indexing of its proposal
		// while catching up; the chain-state monitor replay will redeliver
		// this block once the proposal exists.
		h.logger.Warn("chainhook: vote for unknown proposal, skipping", "tx", tx.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	inFavor := payload.vote()
	inserted, err := h.store.CreateVote(ctx, &store.Vote{
		ProposalID:     proposal.ID,
		Voter:          payload.Voter,
		TxID:           tx.TxID,
		ContractCaller: payload.ContractCaller,
		TxSender:       payload.TxSender,
		Amount:         payload.Amount,
		Value:          inFavor,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// The vote row's existence is the idempotency token for the tally
		// update: a duplicate delivery must not double-count (§4.6.2).
		return nil
	}

	return h.store.ApplyVoteTally(ctx, proposal.ID, payload.Amount, inFavor)
}
