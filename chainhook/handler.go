package chainhook

import "context"

// Handler is a specialized, idempotent mutator selected by transaction
// content. CanHandle must be side-effect-free; Handle performs the mutation
// and is expected to tolerate being replayed with the same transaction.
type Handler interface {
	Name() string
	CanHandle(tx Transaction) bool
	Handle(ctx context.Context, tx Transaction, block Block) error
}

// RollbackHandler is implemented by handlers that need to react to a
// rollback delivery; most handlers in this system are no-ops on rollback
// and need not implement it (§4.5).
type RollbackHandler interface {
	HandleRollback(ctx context.Context, tx Transaction, block Block) error
}

// MultiEventHandler is implemented by handlers that must inspect more than
// one event of the same transaction jointly (e.g. ActionConcluder, §4.6.7).
// The dispatcher still calls CanHandle/Handle per the standard protocol;
// this marker exists purely for documentation at the call site.
type MultiEventHandler interface {
	Handler
	JoinsEvents()
}
