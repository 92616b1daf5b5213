package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// ActionConcluder is a cross-event finisher: if a transaction contains both
// a conclude-proposal print event and a downstream execute-action print
// event, it marks the proposal executed=true (§4.6.7). It is the only
// handler that inspects multiple events of the same transaction jointly.
type ActionConcluder struct {
	store  store.Gateway
	logger *slog.Logger
}

// NewActionConcluder constructs the ActionConcluder handler.
func NewActionConcluder(gateway store.Gateway, logger *slog.Logger) *ActionConcluder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionConcluder{store: gateway, logger: logger}
}

func (h *ActionConcluder) Name() string { return "action-concluder" }

func (h *ActionConcluder) JoinsEvents() {}

func (h *ActionConcluder) CanHandle(tx chainhook.Transaction) bool {
	_, hasConclude := printEvent(tx, "conclude-proposal")
	_, hasExecute := printEvent(tx, "execute-action")
	return hasConclude && hasExecute
}

func (h *ActionConcluder) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	ext, ok := resolveDAO(ctx, h.store, tx.ContractPrincipal, h.logger)
	if !ok {
		return nil
	}

	concludeEvent, _ := printEvent(tx, "conclude-proposal")
	var payload concludePayload
	if !decodePayload(concludeEvent.Payload, &payload) {
		return nil
	}

	kind := proposalKind(tx.ContractPrincipal)
	contractPrincipal := ""
	if payload.Proposal != nil {
		contractPrincipal = *payload.Proposal
	}
	proposal, err := h.store.GetProposalByKey(ctx, ext.DAOID, kind, payload.ProposalID, contractPrincipal)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if proposal.Executed != nil && *proposal.Executed {
		return nil
	}
	proposal.Executed = boolPtr(true)
	return h.store.UpdateProposal(ctx, proposal)
}

var _ chainhook.MultiEventHandler = (*ActionConcluder)(nil)
