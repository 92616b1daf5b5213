package webhook

import (
	"io"
	"net/http"

	"daobackend/chainhook"
)

// handleChainhook parses the inbound payload and replays it through the
// dispatcher. Per §7, every delivery yields a 2xx once the payload parses —
// handler failures are caught and logged inside the dispatcher, never
// surfaced as a non-2xx response, since chainhook delivery has no retry path
// a 4xx could usefully trigger. Only a payload that fails to parse at all
// yields a 4xx, with a machine-readable code and a correlation id.
func (s *Server) handleChainhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		s.writeError(r, w, http.StatusBadRequest, "body_too_large", err)
		return
	}
	defer r.Body.Close()

	payload, err := chainhook.Parse(body)
	if err != nil {
		s.logger.Error("webhook: malformed chainhook payload",
			"correlation_id", correlationIDFrom(r.Context()),
			"body", string(body),
			"error", err,
		)
		s.writeError(r, w, http.StatusBadRequest, "malformed_payload", err)
		return
	}

	for _, blocks := range [][]chainhook.Block{payload.Apply, payload.Rollback} {
		for _, b := range blocks {
			for _, tx := range b.Transactions {
				if tx.Kind == chainhook.KindUnknown {
					s.logger.Warn("webhook: transaction of unknown kind", "correlation_id", correlationIDFrom(r.Context()), "tx", tx.TxID)
				}
				for _, ev := range tx.Events {
					if ev.Kind == chainhook.EventUnknown {
						s.logger.Warn("webhook: event of unknown type", "correlation_id", correlationIDFrom(r.Context()), "tx", tx.TxID, "event_index", ev.Index)
					}
				}
			}
		}
	}

	s.dispatcher.Dispatch(r.Context(), payload)

	blocks := len(payload.Apply) + len(payload.Rollback)
	txs := 0
	for _, b := range payload.Apply {
		txs += len(b.Transactions)
	}
	for _, b := range payload.Rollback {
		txs += len(b.Transactions)
	}

	s.writeJSON(w, http.StatusOK, chainhookAckBody{
		Blocks:       blocks,
		Transactions: txs,
	})
}

type chainhookAckBody struct {
	Blocks       int `json:"blocks_processed"`
	Transactions int `json:"transactions_processed"`
}
