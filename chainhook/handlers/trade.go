package handlers

import (
	"context"
	"errors"
	"log/slog"

	"daobackend/chainhook"
	"daobackend/store"
)

// tradeHandler backs both BuyEvent and SellEvent (§4.6.5): it reacts to an
// FT transfer event combined with a contract-call method matching a
// configured bonding-curve contract, and records a trade audit row.
type tradeHandler struct {
	side    string
	method  string
	store   store.Gateway
	logger  *slog.Logger
}

// NewBuyEventHandler reacts to method on a bonding-curve contract performing
// a token purchase.
func NewBuyEventHandler(gateway store.Gateway, method string, logger *slog.Logger) chainhook.Handler {
	return newTradeHandler("buy", method, gateway, logger)
}

// NewSellEventHandler reacts to method on a bonding-curve contract
// performing a token sale.
func NewSellEventHandler(gateway store.Gateway, method string, logger *slog.Logger) chainhook.Handler {
	return newTradeHandler("sell", method, gateway, logger)
}

func newTradeHandler(side, method string, gateway store.Gateway, logger *slog.Logger) *tradeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &tradeHandler{side: side, method: method, store: gateway, logger: logger}
}

func (h *tradeHandler) Name() string { return h.side + "-event" }

func (h *tradeHandler) CanHandle(tx chainhook.Transaction) bool {
	if tx.Kind != chainhook.KindContractCall || tx.Method != h.method {
		return false
	}
	_, ok := tx.FindEvent(chainhook.EventFTTransfer, "")
	return ok
}

type tradeEventPayload struct {
	Amount string `json:"amount"`
}

func (h *tradeHandler) Handle(ctx context.Context, tx chainhook.Transaction, block chainhook.Block) error {
	token, err := h.store.GetTokenByPrincipal(ctx, tx.ContractPrincipal)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("chainhook: trade on unknown token, skipping", "tx", tx.TxID, "contract", tx.ContractPrincipal)
		return nil
	}
	if err != nil {
		return err
	}

	event, ok := tx.FindEvent(chainhook.EventFTTransfer, "")
	if !ok {
		return nil
	}
	var payload tradeEventPayload
	decodePayload(event.Payload, &payload)

	_, err = h.store.RecordTrade(ctx, token.ID, tx.TxID, event.Index, h.side, payload.Amount)
	return err
}
