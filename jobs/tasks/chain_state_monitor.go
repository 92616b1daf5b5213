// Package tasks holds concrete jobs.Definition implementations: the
// background work the scheduler drives.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daobackend/chain"
	"daobackend/chainhook"
	"daobackend/jobs"
	"daobackend/observability"
	"daobackend/store"
)

// ChainStateMonitorConfig parameterises the catch-up algorithm (§4.7).
type ChainStateMonitorConfig struct {
	Network     string
	StaleBlocks int
	StaleMaxAge time.Duration
}

// ChainStateMonitorResult reports one tick's outcome, per §4.7 step 5.
type ChainStateMonitorResult struct {
	BlocksBehind    int64
	BlocksProcessed int64
	Fresh           bool
}

// chainStateMonitor implements the Chain-State Monitor Task (C9): compares
// database chain height to the chain's tip, fetches missing blocks,
// synthesizes chainhook-compatible payloads, and replays them through the
// dispatcher so the system self-heals when webhook delivery is missed. It
// never mutates ChainState itself — only the BlockState handler may (§4.7).
type chainStateMonitor struct {
	cfg        ChainStateMonitorConfig
	store      store.Gateway
	client     *chain.Client
	dispatcher *chainhook.Dispatcher
	metrics    *observability.ChainStateMetrics
	logger     *slog.Logger
}

// NewChainStateMonitor constructs the jobs.Definition for the chain-state
// monitor task, ready to register with a jobs.Registry.
func NewChainStateMonitor(cfg ChainStateMonitorConfig, gateway store.Gateway, client *chain.Client, dispatcher *chainhook.Dispatcher, logger *slog.Logger) jobs.Definition {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleBlocks <= 0 {
		cfg.StaleBlocks = 10
	}
	if cfg.StaleMaxAge <= 0 {
		cfg.StaleMaxAge = 5 * time.Minute
	}
	m := &chainStateMonitor{
		cfg:        cfg,
		store:      gateway,
		client:     client,
		dispatcher: dispatcher,
		metrics:    observability.ChainState(),
		logger:     logger,
	}
	return jobs.Definition{
		Metadata: jobs.Metadata{
			TaskType:          "chain-state-monitor",
			Name:              "Chain-State Monitor",
			Interval:          90 * time.Second,
			Priority:          jobs.PriorityMedium,
			MaxConcurrent:     1,
			MaxRetries:        2,
			RetryDelay:        5 * time.Second,
			Timeout:           60 * time.Second,
			DeadLetterEnabled: false,
			RequiredResources: []jobs.Resource{jobs.ResourceBlockchain, jobs.ResourceStore},
		},
		ValidateResources: m.validateResources,
		Execute:           m.run,
	}
}

func (m *chainStateMonitor) validateResources(ctx context.Context, checker jobs.ResourceChecker) error {
	for _, resource := range []jobs.Resource{jobs.ResourceBlockchain, jobs.ResourceStore} {
		if !checker.Available(resource) {
			return fmt.Errorf("required resource %s unavailable", resource)
		}
	}
	return nil
}

func (m *chainStateMonitor) run(ctx context.Context) ([]jobs.JobResult, error) {
	state, err := m.store.GetChainState(ctx, m.cfg.Network)
	storedHeight := uint64(0)
	var updatedAt time.Time
	switch {
	case errors.Is(err, store.ErrNotFound):
		// No chain state recorded yet; treat as height 0 and let catch-up run.
	case err != nil:
		return nil, jobs.ResourceUnavailable(fmt.Errorf("read chain state: %w", err))
	default:
		storedHeight = state.Height
		updatedAt = state.UpdatedAt
	}

	info, err := m.client.GetInfo(ctx)
	if err != nil {
		return m.handleTipFetchFailure(err, updatedAt)
	}
	tipHeight := info.ChainTip.BlockHeight
	m.metrics.SetHeights(m.cfg.Network, storedHeight, tipHeight)

	blocksBehind := int64(tipHeight) - int64(storedHeight)
	if blocksBehind <= int64(m.cfg.StaleBlocks) {
		return []jobs.JobResult{{
			Success: true,
			Message: "fresh",
			Payload: map[string]any{"blocks_behind": blocksBehind, "blocks_processed": int64(0)},
		}}, nil
	}

	processed := int64(0)
	for h := storedHeight + 1; h <= tipHeight; h++ {
		if err := m.catchUpBlock(ctx, h); err != nil {
			m.logger.Error("chain state monitor: block catch-up failed, continuing", "height", h, "error", err)
			continue
		}
		processed++
	}
	m.metrics.AddBlocksCaughtUp(m.cfg.Network, int(processed))

	return []jobs.JobResult{{
		Success: true,
		Message: "caught up",
		Payload: map[string]any{"blocks_behind": blocksBehind, "blocks_processed": processed},
	}}, nil
}

func (m *chainStateMonitor) handleTipFetchFailure(tipErr error, updatedAt time.Time) ([]jobs.JobResult, error) {
	if !updatedAt.IsZero() && time.Since(updatedAt) < m.cfg.StaleMaxAge {
		// Recently updated; the tip fetch failure is likely transient, and
		// ChainState isn't stale enough to declare a hard failure yet.
		return nil, jobs.ResourceUnavailable(fmt.Errorf("fetch chain tip: %w", tipErr))
	}
	return nil, jobs.ResourceUnavailable(fmt.Errorf("fetch chain tip: %w (chain state stale, last updated %s)", tipErr, updatedAt))
}

// catchUpBlock fetches block h's transactions (falling back to block
// metadata alone when the block has none), synthesizes a chainhook payload,
// and replays it through the dispatcher (§4.7 step 4).
func (m *chainStateMonitor) catchUpBlock(ctx context.Context, height uint64) error {
	txs, err := m.client.AllBlockTransactions(ctx, height)
	if err != nil {
		return fmt.Errorf("fetch transactions for block %d: %w", height, err)
	}

	block, err := m.client.GetBlockByHeight(ctx, height)
	if err != nil {
		return fmt.Errorf("fetch block %d metadata: %w", height, err)
	}

	payload := chainhook.Payload{Apply: []chainhook.Block{synthesizeBlock(height, block, txs)}}
	m.dispatcher.Dispatch(ctx, payload)
	return nil
}

// synthesizeBlock builds a chainhook-shaped block from raw chain-API data.
// When the block carries no transactions, a single placeholder transaction
// is still emitted so the BlockState handler (the only component permitted
// to advance ChainState) is invoked for this height.
func synthesizeBlock(height uint64, block *chain.Block, txs []chain.Transaction) chainhook.Block {
	out := chainhook.Block{
		Hash:            block.Hash,
		Index:           int64(height),
		ParentHash:      block.ParentBlockHash,
		BlockTime:       block.BlockTime,
		BurnBlockHeight: int64(block.BurnBlockHeight),
	}
	if len(txs) == 0 {
		out.Transactions = []chainhook.Transaction{{
			TxID:        fmt.Sprintf("synthetic-%d", height),
			BlockHash:   block.Hash,
			BlockHeight: int64(height),
			Kind:        chainhook.KindUnknown,
			Success:     true,
		}}
		return out
	}
	for _, tx := range txs {
		out.Transactions = append(out.Transactions, synthesizeTransaction(height, block.Hash, tx))
	}
	return out
}

func synthesizeTransaction(height uint64, blockHash string, tx chain.Transaction) chainhook.Transaction {
	out := chainhook.Transaction{
		TxID:        tx.TxID,
		BlockHash:   blockHash,
		BlockHeight: int64(height),
		TxIndex:     tx.TxIndex,
		Sender:      tx.Sender,
		Kind:        synthesizeKind(tx.Kind),
		Success:     tx.Success,
	}
	if tx.ContractCall != nil {
		out.ContractPrincipal = tx.ContractCall.ContractID
		out.Method = tx.ContractCall.FunctionName
	}
	for _, ev := range tx.Events {
		out.Events = append(out.Events, chainhook.Event{
			Index:        ev.EventIndex,
			Kind:         synthesizeEventKind(ev.EventType),
			Topic:        ev.Topic,
			Notification: ev.Notification,
			Payload:      ev.Payload,
		})
	}
	return out
}

func synthesizeKind(raw chain.TransactionKind) chainhook.TransactionKind {
	switch raw {
	case "token_transfer":
		return chainhook.KindNativeTokenTransfer
	case "contract_call":
		return chainhook.KindContractCall
	case "smart_contract":
		return chainhook.KindContractDeployment
	case "coinbase":
		return chainhook.KindCoinbase
	default:
		return chainhook.KindUnknown
	}
}

func synthesizeEventKind(raw string) chainhook.EventKind {
	switch raw {
	case "smart_contract_log":
		return chainhook.EventSmartContract
	case "stx_transfer":
		return chainhook.EventSTXTransfer
	case "ft_mint":
		return chainhook.EventFTMint
	case "ft_transfer":
		return chainhook.EventFTTransfer
	case "nft_mint":
		return chainhook.EventNFTMint
	case "nft_transfer":
		return chainhook.EventNFTTransfer
	default:
		return chainhook.EventUnknown
	}
}
