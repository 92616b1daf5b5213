package chainhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleVotePayload = `{
  "apply": [{
    "block_identifier": {"hash": "0xblock1", "index": 100},
    "parent_block_identifier": {"hash": "0xblock0", "index": 99},
    "metadata": {"block_time": 1700000000, "bitcoin_anchor_block_identifier": {"index": 800000}},
    "transactions": [{
      "transaction_identifier": {"hash": "0xtx1"},
      "metadata": {
        "kind": {"type": "ContractCall", "data": {"contract_identifier": "SP000.core-proposal", "method": "vote-on-proposal"}},
        "sender": "SP123",
        "success": true,
        "result": {"repr": "(ok true)"},
        "receipt": {"events": [{
          "type": "SmartContractEvent",
          "position": {"index": 0},
          "data": {"topic": "print", "value": {"notification": "vote-on-proposal", "payload": {"proposalId": 1, "voter": "SP123", "amount": 1000, "value": true}}}
        }]}
      },
      "operations": []
    }]
  }],
  "chainhook": {},
  "events": [],
  "rollback": []
}`

func TestParseRoundTrip(t *testing.T) {
	payload, err := Parse([]byte(sampleVotePayload))
	require.NoError(t, err)
	require.Len(t, payload.Apply, 1)

	block := payload.Apply[0]
	require.Equal(t, "0xblock1", block.Hash)
	require.Equal(t, int64(100), block.Index)
	require.Len(t, block.Transactions, 1)

	tx := block.Transactions[0]
	require.Equal(t, "0xtx1", tx.TxID)
	require.Equal(t, KindContractCall, tx.Kind)
	require.Equal(t, "vote-on-proposal", tx.Method)
	require.True(t, tx.Success)
	require.Len(t, tx.Events, 1)

	event, ok := tx.FindEvent(EventSmartContract, "vote-on-proposal")
	require.True(t, ok)
	require.Equal(t, "print", event.Topic)
}

func TestParseMissingBlockHashIsMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"apply":[{"block_identifier":{"index":1}}]}`))
	require.Error(t, err)
	var malformed *MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
}

func TestParseUnknownKindIsTaggedNotRejected(t *testing.T) {
	body := `{"apply":[{"block_identifier":{"hash":"0xb","index":1},"transactions":[{"transaction_identifier":{"hash":"0xt"},"metadata":{"kind":{"type":"SomeNewKind"}}}]}]}`
	payload, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, KindUnknown, payload.Apply[0].Transactions[0].Kind)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
	var malformed *MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
}
