package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("store: not found")

// ErrChainStateRegression is returned when an upsert would decrease a
// network's recorded block height, violating I1.
var ErrChainStateRegression = errors.New("store: chain state height regression")

// Gateway is the typed accessor surface the job engine and chainhook
// dispatcher depend on. It is the only component permitted to persist
// entity state; every method is a single transactional, atomic operation.
type Gateway interface {
	GetDAOByID(ctx context.Context, id uint64) (*DAO, error)
	GetDAOByName(ctx context.Context, name string) (*DAO, error)
	CreateDAO(ctx context.Context, dao *DAO) error

	GetExtensionByPrincipal(ctx context.Context, contractPrincipal string) (*Extension, error)
	ListExtensionsByDAO(ctx context.Context, daoID uint64) ([]Extension, error)
	CreateExtension(ctx context.Context, ext *Extension) error

	CreateToken(ctx context.Context, token *Token) error
	GetTokenByPrincipal(ctx context.Context, contractPrincipal string) (*Token, error)
	RecordTrade(ctx context.Context, tokenID uint64, txID string, eventIndex int, side, amount string) (bool, error)

	GetProposalByKey(ctx context.Context, daoID uint64, kind ProposalKind, onChainID *int64, contractPrincipal string) (*Proposal, error)
	CreateProposal(ctx context.Context, proposal *Proposal) error
	UpdateProposal(ctx context.Context, proposal *Proposal) error
	CreateVote(ctx context.Context, vote *Vote) (bool, error)
	ListVotesByProposal(ctx context.Context, proposalID uint64) ([]Vote, error)
	ApplyVoteTally(ctx context.Context, proposalID uint64, amount string, inFavor bool) error

	GetChainState(ctx context.Context, network string) (*ChainState, error)
	UpsertChainState(ctx context.Context, network string, height uint64, tipHash string) error

	RecordDeadLetter(ctx context.Context, taskType string, attempts int, cause error) error
}

// gormGateway is the GORM-backed implementation of Gateway.
type gormGateway struct {
	db *gorm.DB
}

// NewGormGateway wraps an already-connected *gorm.DB as a Gateway.
func NewGormGateway(db *gorm.DB) Gateway {
	return &gormGateway{db: db}
}

func (g *gormGateway) GetDAOByID(ctx context.Context, id uint64) (*DAO, error) {
	var dao DAO
	if err := g.db.WithContext(ctx).First(&dao, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &dao, nil
}

func (g *gormGateway) GetDAOByName(ctx context.Context, name string) (*DAO, error) {
	var dao DAO
	if err := g.db.WithContext(ctx).First(&dao, "name = ?", name).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &dao, nil
}

func (g *gormGateway) CreateDAO(ctx context.Context, dao *DAO) error {
	if err := g.db.WithContext(ctx).Create(dao).Error; err != nil {
		return fmt.Errorf("store: create dao: %w", err)
	}
	return nil
}

func (g *gormGateway) GetExtensionByPrincipal(ctx context.Context, contractPrincipal string) (*Extension, error) {
	var ext Extension
	if err := g.db.WithContext(ctx).First(&ext, "contract_principal = ?", contractPrincipal).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &ext, nil
}

func (g *gormGateway) ListExtensionsByDAO(ctx context.Context, daoID uint64) ([]Extension, error) {
	var exts []Extension
	if err := g.db.WithContext(ctx).Where("dao_id = ?", daoID).Find(&exts).Error; err != nil {
		return nil, fmt.Errorf("store: list extensions: %w", err)
	}
	return exts, nil
}

func (g *gormGateway) CreateExtension(ctx context.Context, ext *Extension) error {
	if err := g.db.WithContext(ctx).Create(ext).Error; err != nil {
		return fmt.Errorf("store: create extension: %w", err)
	}
	return nil
}

func (g *gormGateway) CreateToken(ctx context.Context, token *Token) error {
	if err := g.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

func (g *gormGateway) GetTokenByPrincipal(ctx context.Context, contractPrincipal string) (*Token, error) {
	var token Token
	if err := g.db.WithContext(ctx).First(&token, "contract_principal = ?", contractPrincipal).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &token, nil
}

// RecordTrade inserts a trade audit row and refreshes the token's last-trade
// fields. Idempotent by (tx_id, event_index): the second call for the same
// pair is a no-op and returns inserted=false.
func (g *gormGateway) RecordTrade(ctx context.Context, tokenID uint64, txID string, eventIndex int, side, amount string) (bool, error) {
	inserted := false
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trade := TradeEvent{TokenID: tokenID, TxID: txID, EventIndex: eventIndex, Side: side, Amount: amount}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&trade)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true
		now := time.Now()
		return tx.Model(&Token{}).Where("id = ?", tokenID).Updates(map[string]any{
			"last_trade_tx_id": txID,
			"last_trade_at":    now,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("store: record trade: %w", err)
	}
	return inserted, nil
}

func (g *gormGateway) GetProposalByKey(ctx context.Context, daoID uint64, kind ProposalKind, onChainID *int64, contractPrincipal string) (*Proposal, error) {
	query := g.db.WithContext(ctx).Where("dao_id = ? AND kind = ?", daoID, kind)
	if kind == ProposalKindAction {
		query = query.Where("on_chain_id = ?", onChainID)
	} else {
		query = query.Where("contract_principal = ?", contractPrincipal)
	}
	var proposal Proposal
	if err := query.First(&proposal).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &proposal, nil
}

func (g *gormGateway) CreateProposal(ctx context.Context, proposal *Proposal) error {
	if err := g.db.WithContext(ctx).Create(proposal).Error; err != nil {
		return fmt.Errorf("store: create proposal: %w", err)
	}
	return nil
}

func (g *gormGateway) UpdateProposal(ctx context.Context, proposal *Proposal) error {
	if err := g.db.WithContext(ctx).Save(proposal).Error; err != nil {
		return fmt.Errorf("store: update proposal: %w", err)
	}
	return nil
}

// CreateVote inserts a vote row, relying on the idx_vote_dedup unique index
// for I3. Returns inserted=false when the row already existed.
func (g *gormGateway) CreateVote(ctx context.Context, vote *Vote) (bool, error) {
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(vote)
	if result.Error != nil {
		return false, fmt.Errorf("store: create vote: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (g *gormGateway) ListVotesByProposal(ctx context.Context, proposalID uint64) ([]Vote, error) {
	var votes []Vote
	if err := g.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("store: list votes: %w", err)
	}
	return votes, nil
}

// ApplyVoteTally increments votes_for or votes_against using a row lock so
// concurrent vote deliveries serialize on the proposal row (I2).
func (g *gormGateway) ApplyVoteTally(ctx context.Context, proposalID uint64, amount string, inFavor bool) error {
	column := "votes_against"
	if inFavor {
		column = "votes_for"
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposal Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&proposal, "id = ?", proposalID).Error; err != nil {
			return err
		}
		current, _ := parseFixedPoint(stringOr(tallyOf(&proposal, column), "0"))
		delta, _ := parseFixedPoint(amount)
		updated := formatFixedPoint(new(big.Int).Add(current, delta))
		return tx.Model(&Proposal{}).Where("id = ?", proposalID).Update(column, updated).Error
	})
	if err != nil {
		return fmt.Errorf("store: apply vote tally: %w", err)
	}
	return nil
}

func (g *gormGateway) GetChainState(ctx context.Context, network string) (*ChainState, error) {
	var state ChainState
	if err := g.db.WithContext(ctx).First(&state, "network = ?", network).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &state, nil
}

// UpsertChainState sets a network's height and tip hash, refusing any update
// that would decrease the stored height (I1).
func (g *gormGateway) UpsertChainState(ctx context.Context, network string, height uint64, tipHash string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ChainState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "network = ?", network).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&ChainState{Network: network, Height: height, TipHash: tipHash, UpdatedAt: time.Now()}).Error
		case err != nil:
			return err
		}
		if height < existing.Height {
			return ErrChainStateRegression
		}
		return tx.Model(&ChainState{}).Where("network = ?", network).Updates(map[string]any{
			"height":     height,
			"tip_hash":   tipHash,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil && !errors.Is(err, ErrChainStateRegression) {
		return fmt.Errorf("store: upsert chain state: %w", err)
	}
	return err
}

func (g *gormGateway) RecordDeadLetter(ctx context.Context, taskType string, attempts int, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	entry := DeadLetter{TaskType: taskType, Attempts: attempts, Error: message}
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: record dead letter: %w", err)
	}
	return nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("store: %w", err)
}

func tallyOf(proposal *Proposal, column string) string {
	if column == "votes_for" {
		return proposal.VotesFor
	}
	return proposal.VotesAgainst
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
