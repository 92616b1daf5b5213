// Package chainhook parses chainhook-shaped webhook payloads into a
// strongly-typed internal representation and dispatches each transaction to
// a chain of registered handlers.
package chainhook

import "encoding/json"

// TransactionKind classifies a transaction by its on-chain operation shape.
type TransactionKind string

const (
	KindNativeTokenTransfer TransactionKind = "NativeTokenTransfer"
	KindContractCall        TransactionKind = "ContractCall"
	KindContractDeployment  TransactionKind = "ContractDeployment"
	KindCoinbase            TransactionKind = "Coinbase"
	KindUnknown             TransactionKind = "Unknown"
)

// EventKind classifies a receipt event by its chainhook event tag.
type EventKind string

const (
	EventSmartContract EventKind = "SmartContractEvent"
	EventSTXTransfer   EventKind = "STXTransferEvent"
	EventFTMint        EventKind = "FTMintEvent"
	EventFTTransfer    EventKind = "FTTransferEvent"
	EventNFTMint       EventKind = "NFTMintEvent"
	EventNFTTransfer   EventKind = "NFTTransferEvent"
	EventUnknown       EventKind = "Unknown"
)

// Event is one typed receipt event attached to a Transaction.
type Event struct {
	Index   int
	Kind    EventKind
	Topic   string
	Notification string
	Payload json.RawMessage
}

// Transaction is the internal representation the parser produces for one
// chainhook transaction entry (TransactionEnvelope in the data model).
type Transaction struct {
	TxID              string
	BlockHash         string
	BlockHeight        int64
	TxIndex           int
	Sender            string
	Method            string
	ContractPrincipal string
	Kind              TransactionKind
	Success           bool
	ResultRepr        string
	Events            []Event
}

// Block is one parsed `apply` (or `rollback`) entry: a block and its
// transactions in tx_index order.
type Block struct {
	Hash            string
	Index           int64
	ParentHash      string
	ParentIndex     int64
	BlockTime       int64
	BurnBlockHeight int64
	Transactions    []Transaction
}

// Payload is the fully parsed webhook body: blocks to apply, in array order,
// and blocks to roll back, delivered after apply per §4.5.
type Payload struct {
	Apply    []Block
	Rollback []Block
}

// FindEvent returns the first event on tx of the given kind whose
// notification equals notification; an empty notification matches any event
// of that kind. ok is false when no event matches.
func (tx Transaction) FindEvent(kind EventKind, notification string) (Event, bool) {
	for _, ev := range tx.Events {
		if ev.Kind == kind && (notification == "" || ev.Notification == notification) {
			return ev, true
		}
	}
	return Event{}, false
}
