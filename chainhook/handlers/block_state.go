package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// BlockState receives every transaction and keeps the per-network ChainState
// singleton current (§4.6.6). It fires on every transaction in a block
// (harmless, since every transaction in a block carries the same block
// identity) so that a synthesized block with no real transactions — which
// the chain-state monitor represents with a single placeholder entry — still
// advances ChainState.
type BlockState struct {
	store   store.Gateway
	network string
	logger  *slog.Logger
}

// NewBlockState constructs the BlockState handler for the given network.
func NewBlockState(gateway store.Gateway, network string, logger *slog.Logger) *BlockState {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockState{store: gateway, network: network, logger: logger}
}

func (h *BlockState) Name() string { return "block-state" }

func (h *BlockState) CanHandle(tx chainhook.Transaction) bool { return true }

func (h *BlockState) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	if block.Index < 0 {
		return nil
	}
	err := h.store.UpsertChainState(ctx, h.network, uint64(block.Index), block.Hash)
	if errors.Is(err, store.ErrChainStateRegression) {
		// DomainViolation: a monotone invariant would be violated; skip and
		// warn rather than fail (§7).
		h.logger.Warn("chainhook: chain state regression ignored", "network", h.network, "height", block.Index)
		return nil
	}
	return err
}
