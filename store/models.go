// Package store is the persistence gateway: typed accessors over the DAO,
// extension, token, proposal, vote, and chain-state tables, backed by GORM.
package store

import (
	"time"

	"gorm.io/gorm"
)

// ExtensionStatus tracks a contract's deployment lifecycle.
type ExtensionStatus string

const (
	ExtensionDraft    ExtensionStatus = "draft"
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionDeployed ExtensionStatus = "deployed"
	ExtensionFailed   ExtensionStatus = "failed"
)

// ProposalKind distinguishes core proposals (contracts) from action
// proposals (integer ids inside a governance extension).
type ProposalKind string

const (
	ProposalKindCore   ProposalKind = "core"
	ProposalKindAction ProposalKind = "action"
)

// ProposalStatus tracks a proposal's lifecycle.
type ProposalStatus string

const (
	ProposalStatusActive   ProposalStatus = "active"
	ProposalStatusConclude ProposalStatus = "concluded"
)

// DAO is a decentralized-autonomous-organization record composed of a token
// contract and zero or more extension contracts.
type DAO struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;uniqueIndex;not null"`
	Mission     string `gorm:"type:text"`
	Description string `gorm:"type:text"`
	Deployed    bool   `gorm:"index"`
	Broadcast   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Extensions []Extension
}

// Extension is a smart contract that is part of a DAO, identified by its
// contract principal. Lookup by contract principal is the primary join key
// for chainhook dispatch.
type Extension struct {
	ID                 uint64          `gorm:"primaryKey;autoIncrement"`
	DAOID              uint64          `gorm:"index;not null"`
	Type               string          `gorm:"size:64;index"`
	Subtype            string          `gorm:"size:64;index"`
	ContractPrincipal  string          `gorm:"size:255;uniqueIndex;not null"`
	DeploymentTxID     string          `gorm:"size:128"`
	Status             ExtensionStatus `gorm:"size:32;index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Token is the DAO's fungible-token contract.
type Token struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement"`
	DAOID             uint64          `gorm:"index;not null"`
	ContractPrincipal string          `gorm:"size:255;uniqueIndex;not null"`
	Symbol            string          `gorm:"size:32"`
	Decimals          int             `gorm:"check:decimals >= 0 AND decimals <= 18"`
	MaxSupply         string          `gorm:"size:128"`
	URI               string          `gorm:"size:512"`
	ImageURL          string          `gorm:"size:512"`
	Status            ExtensionStatus `gorm:"size:32;index"`
	LastTradeTxID     string          `gorm:"size:128"`
	LastTradeAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Proposal is a governance proposal, either a core proposal (its own
// contract) or an action proposal (an integer id inside a governance
// extension). Tallies and conclusion fields are monotone: once a conclusion
// event sets them, no later event may revert them.
type Proposal struct {
	ID                uint64       `gorm:"primaryKey;autoIncrement"`
	DAOID             uint64       `gorm:"index;not null"`
	Kind              ProposalKind `gorm:"size:16;index;not null"`
	OnChainID         *int64       `gorm:"index"`
	ContractPrincipal string       `gorm:"size:255;index"`
	Title             string       `gorm:"size:255"`
	Content           string       `gorm:"type:text"`
	Creator           string       `gorm:"size:255"`
	TxID              string       `gorm:"size:128"`
	Status            ProposalStatus `gorm:"size:32;index"`

	EvaluationScore    *float64
	EvaluationDecision string `gorm:"size:64"`
	EvaluationFlags    string `gorm:"type:text"`
	EvaluationSummary  string `gorm:"type:text"`

	VotesFor     string `gorm:"size:128;default:0"`
	VotesAgainst string `gorm:"size:128;default:0"`
	LiquidTokens *string `gorm:"size:128"`

	Passed       *bool
	Executed     *bool
	MetQuorum    *bool
	MetThreshold *bool
	ConcludedBy  string `gorm:"size:255"`

	BurnStart *int64
	BurnEnd   *int64

	CreatedAt time.Time
	UpdatedAt time.Time

	Votes []Vote
}

// Vote is a single on-chain vote cast on a proposal. Unique across
// (proposal id, voter, tx id) so replaying a chainhook payload never
// double-counts a vote.
type Vote struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	ProposalID      uint64 `gorm:"uniqueIndex:idx_vote_dedup;not null"`
	Voter           string `gorm:"size:255;uniqueIndex:idx_vote_dedup;not null"`
	TxID            string `gorm:"size:128;uniqueIndex:idx_vote_dedup;not null"`
	ContractCaller  string `gorm:"size:255"`
	TxSender        string `gorm:"size:255"`
	Amount          string `gorm:"size:128"`
	Value           bool
	CreatedAt       time.Time
}

// ChainState is a singleton row per network recording the last indexed block.
// block_height is monotonically non-decreasing (I1).
type ChainState struct {
	Network   string `gorm:"primaryKey;size:32"`
	Height    uint64 `gorm:"not null"`
	TipHash   string `gorm:"size:128"`
	UpdatedAt time.Time
}

// TradeEvent audits a buy/sell event on a token's bonding curve.
// Idempotent by (tx_id, event_index).
type TradeEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TokenID    uint64 `gorm:"index;not null"`
	TxID       string `gorm:"size:128;uniqueIndex:idx_trade_dedup;not null"`
	EventIndex int    `gorm:"uniqueIndex:idx_trade_dedup;not null"`
	Side       string `gorm:"size:8"`
	Amount     string `gorm:"size:128"`
	CreatedAt  time.Time
}

// DeadLetter records a job invocation that finally failed (retry budget
// exhausted, or a non-retriable error) with dead-letter recording enabled
// (§4.2). Attempts is the number of attempts that ran.
type DeadLetter struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TaskType  string `gorm:"size:128;index"`
	Attempts  int
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs schema migration for every store-owned table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&DAO{},
		&Extension{},
		&Token{},
		&Proposal{},
		&Vote{},
		&ChainState{},
		&TradeEvent{},
		&DeadLetter{},
	)
}
