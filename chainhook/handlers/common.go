// Package handlers implements the specialized, idempotent chainhook event
// handlers that mutate DAO, proposal, and vote state (§4.6).
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"daobackend/chainhook"
	"daobackend/store"
)

// printEvent returns the first SmartContractEvent "print" event on tx whose
// notification matches one of the given names, or ok=false if none match.
func printEvent(tx chainhook.Transaction, notifications ...string) (chainhook.Event, bool) {
	for _, ev := range tx.Events {
		if ev.Kind != chainhook.EventSmartContract || ev.Topic != "print" {
			continue
		}
		for _, name := range notifications {
			if ev.Notification == name {
				return ev, true
			}
		}
	}
	return chainhook.Event{}, false
}

func decodePayload(raw json.RawMessage, out interface{}) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// proposalKind derives Core vs Action from the contract-name substring,
// per §4.6.2's routing rule.
func proposalKind(contractPrincipal string) store.ProposalKind {
	if strings.Contains(contractPrincipal, "action-proposal") {
		return store.ProposalKindAction
	}
	return store.ProposalKindCore
}

// resolveDAO looks up the owning DAO of tx's contract principal via its
// Extension row. Returns ok=false (caller should warn and skip) if the
// extension is unknown.
func resolveDAO(ctx context.Context, gateway store.Gateway, contractPrincipal string, logger *slog.Logger) (*store.Extension, bool) {
	ext, err := gateway.GetExtensionByPrincipal(ctx, contractPrincipal)
	if err != nil {
		logger.Warn("chainhook: unknown extension, skipping", "contract_principal", contractPrincipal, "error", err)
		return nil, false
	}
	return ext, true
}

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }
