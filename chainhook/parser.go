package chainhook

import (
	"encoding/json"
	"fmt"
)

// MalformedPayloadError reports a webhook body missing a field the parser
// requires to proceed (§4.4). It is always non-retriable.
type MalformedPayloadError struct {
	Field string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("chainhook: malformed payload, missing %s", e.Field)
}

type rawEnvelope struct {
	Apply    []rawBlock      `json:"apply"`
	Rollback []rawBlock      `json:"rollback"`
	Chainhook json.RawMessage `json:"chainhook"`
	Events    json.RawMessage `json:"events"`
}

type rawBlock struct {
	BlockIdentifier struct {
		Hash  string `json:"hash"`
		Index int64  `json:"index"`
	} `json:"block_identifier"`
	ParentBlockIdentifier struct {
		Hash  string `json:"hash"`
		Index int64  `json:"index"`
	} `json:"parent_block_identifier"`
	Metadata struct {
		BlockTime                  int64 `json:"block_time"`
		BitcoinAnchorBlockIdentifier struct {
			Index int64 `json:"index"`
		} `json:"bitcoin_anchor_block_identifier"`
	} `json:"metadata"`
	Transactions []rawTransaction `json:"transactions"`
}

type rawTransaction struct {
	TransactionIdentifier struct {
		Hash string `json:"hash"`
	} `json:"transaction_identifier"`
	Metadata struct {
		Kind struct {
			Type string `json:"type"`
			Data struct {
				ContractIdentifier string `json:"contract_identifier"`
				Method             string `json:"method"`
			} `json:"data"`
		} `json:"kind"`
		Sender  string `json:"sender"`
		Success bool   `json:"success"`
		Result  struct {
			Repr string `json:"repr"`
		} `json:"result"`
		Receipt struct {
			Events []rawEvent `json:"events"`
		} `json:"receipt"`
	} `json:"metadata"`
	Operations json.RawMessage `json:"operations"`
}

type rawEvent struct {
	Type     string `json:"type"`
	Position struct {
		Index int `json:"index"`
	} `json:"position"`
	Data struct {
		Topic string `json:"topic"`
		Value struct {
			Notification string          `json:"notification"`
			Payload      json.RawMessage `json:"payload"`
		} `json:"value"`
	} `json:"data"`
}

// Parse converts a raw chainhook webhook body into a Payload. It returns a
// *MalformedPayloadError when a field the rest of the system depends on
// (block identifier, transaction identifier) is absent; an unrecognized
// kind or event type is tagged Unknown and logged by the caller, not
// rejected, per §4.4.
func Parse(body []byte) (Payload, error) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Payload{}, fmt.Errorf("chainhook: %w", &MalformedPayloadError{Field: "body: " + err.Error()})
	}

	apply, err := parseBlocks(env.Apply)
	if err != nil {
		return Payload{}, err
	}
	rollback, err := parseBlocks(env.Rollback)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Apply: apply, Rollback: rollback}, nil
}

func parseBlocks(raw []rawBlock) ([]Block, error) {
	blocks := make([]Block, 0, len(raw))
	for _, rb := range raw {
		if rb.BlockIdentifier.Hash == "" {
			return nil, &MalformedPayloadError{Field: "block_identifier.hash"}
		}
		block := Block{
			Hash:            rb.BlockIdentifier.Hash,
			Index:           rb.BlockIdentifier.Index,
			ParentHash:      rb.ParentBlockIdentifier.Hash,
			ParentIndex:     rb.ParentBlockIdentifier.Index,
			BlockTime:       rb.Metadata.BlockTime,
			BurnBlockHeight: rb.Metadata.BitcoinAnchorBlockIdentifier.Index,
		}
		for i, rt := range rb.Transactions {
			tx, err := parseTransaction(rt, block, i)
			if err != nil {
				return nil, err
			}
			block.Transactions = append(block.Transactions, tx)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func parseTransaction(rt rawTransaction, block Block, txIndex int) (Transaction, error) {
	if rt.TransactionIdentifier.Hash == "" {
		return Transaction{}, &MalformedPayloadError{Field: "transaction_identifier.hash"}
	}
	tx := Transaction{
		TxID:              rt.TransactionIdentifier.Hash,
		BlockHash:         block.Hash,
		BlockHeight:       block.Index,
		TxIndex:           txIndex,
		Sender:            rt.Metadata.Sender,
		Method:            rt.Metadata.Kind.Data.Method,
		ContractPrincipal: rt.Metadata.Kind.Data.ContractIdentifier,
		Kind:              classifyKind(rt.Metadata.Kind.Type),
		Success:           rt.Metadata.Success,
		ResultRepr:        rt.Metadata.Result.Repr,
	}
	for _, re := range rt.Metadata.Receipt.Events {
		tx.Events = append(tx.Events, Event{
			Index:        re.Position.Index,
			Kind:         classifyEvent(re.Type),
			Topic:        re.Data.Topic,
			Notification: re.Data.Value.Notification,
			Payload:      re.Data.Value.Payload,
		})
	}
	return tx, nil
}

func classifyKind(raw string) TransactionKind {
	switch TransactionKind(raw) {
	case KindNativeTokenTransfer, KindContractCall, KindContractDeployment, KindCoinbase:
		return TransactionKind(raw)
	default:
		return KindUnknown
	}
}

func classifyEvent(raw string) EventKind {
	switch EventKind(raw) {
	case EventSmartContract, EventSTXTransfer, EventFTMint, EventFTTransfer, EventNFTMint, EventNFTTransfer:
		return EventKind(raw)
	default:
		return EventUnknown
	}
}
