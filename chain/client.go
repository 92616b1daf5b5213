// Package chain provides a minimal HTTP client for the upstream Stacks-like
// blockchain API: current chain info, block-by-height lookups, and
// transaction listing for a block. It exposes both a blocking Get* surface
// and an async variant that resolves onto a channel, matching C2's
// "sync and async variants" requirement.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Info mirrors the subset of GET /info this system reads.
type Info struct {
	ChainTip struct {
		BlockHeight uint64 `json:"block_height"`
		BlockHash   string `json:"block_hash"`
	} `json:"chain_tip"`
}

// Block mirrors the subset of GET /block/by_height/{h} this system reads.
type Block struct {
	Hash             string `json:"hash"`
	ParentBlockHash  string `json:"parent_block_hash"`
	BurnBlockHeight  uint64 `json:"burn_block_height"`
	BlockTime        int64  `json:"block_time"`
	PoxCycleIndex    uint64 `json:"pox_cycle_index"`
	PoxCyclePosition uint64 `json:"pox_cycle_position"`
	SignerBitvec     string `json:"signer_bitvec"`
	SignerPublicKeys []string `json:"signer_public_keys"`
	TenureHeight     uint64 `json:"tenure_height"`
}

// Transaction mirrors the fields §4.4 requires from GET /block/{h}/transactions.
type Transaction struct {
	TxID        string          `json:"tx_id"`
	TxIndex     int             `json:"tx_index"`
	Sender      string          `json:"sender_address"`
	Success     bool            `json:"tx_status_success"`
	Result      json.RawMessage `json:"tx_result"`
	Kind        TransactionKind `json:"tx_type"`
	Fee         string          `json:"fee_rate"`
	ContractCall *ContractCall  `json:"contract_call,omitempty"`
	Events      []RawEvent      `json:"events"`
}

// ContractCall carries the target contract and method of a contract-call
// transaction, present only when Kind == "contract_call".
type ContractCall struct {
	ContractID   string `json:"contract_id"`
	FunctionName string `json:"function_name"`
}

// TransactionKind is the raw tx_type string as reported by the chain API.
type TransactionKind string

// RawEvent is a single receipt event as reported by the chain API, prior to
// the chainhook-shape normalization the parser performs.
type RawEvent struct {
	EventIndex   int             `json:"event_index"`
	EventType    string          `json:"event_type"`
	Topic        string          `json:"topic"`
	Notification string          `json:"notification"`
	Payload      json.RawMessage `json:"payload"`
}

// TransactionPage is one page of GET /block/{h}/transactions.
type TransactionPage struct {
	Results []Transaction `json:"results"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
}

// Client talks to a single network's chain API node.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (timeout, transport).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound requests to ratePerSec with the given burst,
// used by the chain-state monitor to avoid hammering the API during catch-up.
func WithRateLimit(ratePerSec float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst) }
}

// NewClient constructs a Client for baseURL, e.g. "https://api.mainnet.example".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetInfo fetches GET /info synchronously.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.getJSON(ctx, "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockByHeight fetches GET /block/by_height/{h} synchronously.
func (c *Client) GetBlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	var block Block
	if err := c.getJSON(ctx, fmt.Sprintf("/block/by_height/%d", height), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlockTransactions fetches one page of GET /block/{h}/transactions.
// Callers needing every transaction should use AllBlockTransactions.
func (c *Client) GetBlockTransactions(ctx context.Context, height uint64, offset, limit int) (*TransactionPage, error) {
	path := fmt.Sprintf("/block/%d/transactions?offset=%d&limit=%d", height, offset, limit)
	var page TransactionPage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AllBlockTransactions pages through every transaction in block height, in
// tx_index order, per §4.4's requirement that blocks be replayed in order.
func (c *Client) AllBlockTransactions(ctx context.Context, height uint64) ([]Transaction, error) {
	const pageSize = 100
	var all []Transaction
	offset := 0
	for {
		page, err := c.GetBlockTransactions(ctx, height, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Total {
			break
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TxIndex < all[j].TxIndex })
	return all, nil
}

// InfoResult is the resolved value of an async GetInfoAsync call.
type InfoResult struct {
	Info *Info
	Err  error
}

// GetInfoAsync runs GetInfo on a background goroutine and resolves onto the
// returned channel exactly once. The caller retains cancellation via ctx.
func (c *Client) GetInfoAsync(ctx context.Context) <-chan InfoResult {
	out := make(chan InfoResult, 1)
	go func() {
		info, err := c.GetInfo(ctx)
		out <- InfoResult{Info: info, Err: err}
	}()
	return out
}

// BlockResult is the resolved value of an async GetBlockByHeightAsync call.
type BlockResult struct {
	Block *Block
	Err   error
}

// GetBlockByHeightAsync runs GetBlockByHeight on a background goroutine and
// resolves onto the returned channel exactly once.
func (c *Client) GetBlockByHeightAsync(ctx context.Context, height uint64) <-chan BlockResult {
	out := make(chan BlockResult, 1)
	go func() {
		block, err := c.GetBlockByHeight(ctx, height)
		out <- BlockResult{Block: block, Err: err}
	}()
	return out
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chain: rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chain: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chain: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chain: decode %s: %w", path, err)
	}
	return nil
}
