// Package wallet provides balance and transaction management for
// provider callbacks and player deposits
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionConflict = errors.New("transaction id belongs to another player")
)

// Operation is a balance movement requested by the provider.
// For rollbacks ProviderTxID names the debit being reversed.
type Operation struct {
	Username     string
	Amount       int64
	Currency     string
	ProviderTxID string
	RoundID      string
	GameID       string

	// Check vets a debit or credit the wallet has not seen before. It runs
	// before the balance is locked and its error aborts the operation.
	// Replays never reach it.
	Check func(ctx context.Context, playerID string) error
}

// Result is the outcome of an operation. Replayed is set when the
// provider transaction was already applied and nothing changed.
type Result struct {
	Transaction *domain.Transaction
	Balance     domain.Money
	Replayed    bool
}

// Service provides wallet functionality
type Service struct {
	db    *sql.DB
	audit audit.Logger
}

// New creates a new wallet service
func New(db *sql.DB, auditSvc audit.Logger) *Service {
	return &Service{
		db:    db,
		audit: auditSvc,
	}
}

// GetBalance retrieves the current balance for a player
func (s *Service) GetBalance(ctx context.Context, playerID string) (*domain.Balance, error) {
	var amount int64
	var currency string
	var updatedAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT amount, currency, updated_at FROM balances WHERE player_id = $1
	`, playerID).Scan(&amount, &currency, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &domain.Balance{
		PlayerID:  playerID,
		Amount:    domain.Money{Amount: amount, Currency: currency},
		UpdatedAt: updatedAt,
	}, nil
}

// GetBalanceByUsername retrieves the balance of the player the provider
// knows as username
func (s *Service) GetBalanceByUsername(ctx context.Context, username string) (*domain.Balance, error) {
	var playerID, currency string
	var amount int64
	var updatedAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT b.player_id, b.amount, b.currency, b.updated_at
		FROM balances b JOIN players p ON p.id = b.player_id
		WHERE p.username = $1
	`, username).Scan(&playerID, &amount, &currency, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &domain.Balance{
		PlayerID:  playerID,
		Amount:    domain.Money{Amount: amount, Currency: currency},
		UpdatedAt: updatedAt,
	}, nil
}

// Deposit adds funds to a player's account
func (s *Service) Deposit(ctx context.Context, playerID string, amount domain.Money, reference string) (*domain.Transaction, error) {
	if amount.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reference == "" {
		reference = uuid.New().String()
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	acct, err := lockAccount(ctx, dbTx, "b.player_id = $1", playerID)
	if err != nil {
		return nil, err
	}
	if !sameCurrency(acct.currency, amount.Currency) {
		return nil, ErrCurrencyMismatch
	}

	tx, err := s.apply(ctx, dbTx, acct, domain.TxTypeDeposit, amount.Amount, &Operation{ProviderTxID: reference})
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventDeposit, domain.SeverityInfo,
		fmt.Sprintf("Deposit of %s %s", amount.Decimal(), acct.currency),
		map[string]interface{}{
			"transaction_id": tx.ID,
			"amount":         amount.Amount,
			"currency":       acct.currency,
		},
		audit.WithPlayer(playerID))

	return tx, nil
}

// Debit takes a bet amount from the player
func (s *Service) Debit(ctx context.Context, op *Operation) (*Result, error) {
	if op.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.move(ctx, domain.TxTypeDebit, op, -op.Amount)
}

// Credit pays a win to the player
func (s *Service) Credit(ctx context.Context, op *Operation) (*Result, error) {
	if op.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.move(ctx, domain.TxTypeCredit, op, op.Amount)
}

// move applies delta once per (txType, ProviderTxID). An id already used
// by another player is refused.
func (s *Service) move(ctx context.Context, txType domain.TransactionType, op *Operation, delta int64) (*Result, error) {
	if op.ProviderTxID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrInvalidAmount)
	}
	if op.Check != nil {
		if res, err := s.admit(ctx, txType, op); err != nil {
			return res, err
		}
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	acct, err := lockAccount(ctx, dbTx, "p.username = $1", op.Username)
	if err != nil {
		return nil, err
	}

	current := domain.Money{Amount: acct.amount, Currency: acct.currency}
	if existing, err := findTransaction(ctx, dbTx, txType, op.ProviderTxID); err == nil {
		if existing.PlayerID != acct.playerID {
			return &Result{Balance: current}, ErrTransactionConflict
		}
		return &Result{Transaction: existing, Balance: current, Replayed: true}, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	if !sameCurrency(acct.currency, op.Currency) {
		return nil, ErrCurrencyMismatch
	}
	if acct.amount+delta < 0 {
		return &Result{Balance: current}, ErrInsufficientFunds
	}

	tx, err := s.apply(ctx, dbTx, acct, txType, delta, op)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.logMove(ctx, tx)

	return &Result{Transaction: tx, Balance: tx.BalanceAfter}, nil
}

// admit runs op.Check unless the transaction was already applied. It holds
// no connection while the check queries.
func (s *Service) admit(ctx context.Context, txType domain.TransactionType, op *Operation) (*Result, error) {
	_, err := findTransaction(ctx, s.db, txType, op.ProviderTxID)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	balance, err := s.GetBalanceByUsername(ctx, op.Username)
	if err != nil {
		return nil, err
	}
	if err := op.Check(ctx, balance.PlayerID); err != nil {
		return &Result{Balance: balance.Amount}, err
	}
	return nil, nil
}

// Rollback reverses the debit named by op.ProviderTxID
func (s *Service) Rollback(ctx context.Context, op *Operation) (*Result, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	acct, err := lockAccount(ctx, dbTx, "p.username = $1", op.Username)
	if err != nil {
		return nil, err
	}
	current := domain.Money{Amount: acct.amount, Currency: acct.currency}

	if existing, err := findTransaction(ctx, dbTx, domain.TxTypeRollback, op.ProviderTxID); err == nil {
		if existing.PlayerID != acct.playerID {
			return &Result{Balance: current}, ErrTransactionConflict
		}
		return &Result{Transaction: existing, Balance: current, Replayed: true}, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	debit, err := findTransaction(ctx, dbTx, domain.TxTypeDebit, op.ProviderTxID)
	if err != nil {
		return &Result{Balance: current}, err
	}
	if debit.PlayerID != acct.playerID {
		return &Result{Balance: current}, ErrTransactionNotFound
	}

	refund := *op
	refund.RoundID = debit.RoundID
	refund.GameID = debit.GameID
	tx, err := s.apply(ctx, dbTx, acct, domain.TxTypeRollback, debit.Amount.Amount, &refund)
	if err != nil {
		return nil, err
	}

	_, err = dbTx.ExecContext(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`,
		domain.TxStatusRolledBack, debit.ID)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.logMove(ctx, tx)

	return &Result{Transaction: tx, Balance: tx.BalanceAfter}, nil
}

// GetTransactions retrieves transaction history for a player
func (s *Service) GetTransactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, type, amount, currency, balance_before, balance_after, status, provider_tx_id, round_id, game_id, created_at
		FROM transactions WHERE player_id = $1 ORDER BY created_at DESC LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

type account struct {
	playerID string
	amount   int64
	currency string
}

// lockAccount reads and row-locks a balance for the rest of dbTx
func lockAccount(ctx context.Context, dbTx *sql.Tx, where string, arg string) (*account, error) {
	var acct account
	err := dbTx.QueryRowContext(ctx, `
		SELECT b.player_id, b.amount, b.currency
		FROM balances b JOIN players p ON p.id = b.player_id
		WHERE `+where+` FOR UPDATE OF b
	`, arg).Scan(&acct.playerID, &acct.amount, &acct.currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return &acct, nil
}

// apply writes the new balance and the transaction row and updates acct
func (s *Service) apply(ctx context.Context, dbTx *sql.Tx, acct *account, txType domain.TransactionType, delta int64, op *Operation) (*domain.Transaction, error) {
	now := time.Now().UTC()
	before := domain.Money{Amount: acct.amount, Currency: acct.currency}
	after := before.Add(domain.Money{Amount: delta, Currency: acct.currency})

	tx := &domain.Transaction{
		ID:            uuid.New().String(),
		PlayerID:      acct.playerID,
		Type:          txType,
		Amount:        domain.Money{Amount: delta, Currency: acct.currency},
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        domain.TxStatusCompleted,
		ProviderTxID:  op.ProviderTxID,
		RoundID:       op.RoundID,
		GameID:        op.GameID,
		CreatedAt:     now,
	}

	_, err := dbTx.ExecContext(ctx, `
		UPDATE balances SET amount = $1, updated_at = $2 WHERE player_id = $3
	`, after.Amount, now, acct.playerID)
	if err != nil {
		return nil, err
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions (id, player_id, type, amount, currency, balance_before, balance_after, status, provider_tx_id, round_id, game_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tx.ID, tx.PlayerID, tx.Type, amount, acct.currency,
		before.Amount, after.Amount, tx.Status, tx.ProviderTxID, tx.RoundID, tx.GameID, tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	tx.Amount.Amount = amount
	acct.amount = after.Amount
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findTransaction(ctx context.Context, q querier, txType domain.TransactionType, providerTxID string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, player_id, type, amount, currency, balance_before, balance_after, status, provider_tx_id, round_id, game_id, created_at
		FROM transactions WHERE type = $1 AND provider_tx_id = $2
	`, txType, providerTxID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount, balBefore, balAfter int64
	var currency string

	err := row.Scan(&tx.ID, &tx.PlayerID, &tx.Type, &amount, &currency,
		&balBefore, &balAfter, &tx.Status, &tx.ProviderTxID, &tx.RoundID, &tx.GameID, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	tx.Amount = domain.Money{Amount: amount, Currency: currency}
	tx.BalanceBefore = domain.Money{Amount: balBefore, Currency: currency}
	tx.BalanceAfter = domain.Money{Amount: balAfter, Currency: currency}
	return &tx, nil
}

func (s *Service) logMove(ctx context.Context, tx *domain.Transaction) {
	eventType := audit.EventDebit
	switch tx.Type {
	case domain.TxTypeCredit:
		eventType = audit.EventCredit
	case domain.TxTypeRollback:
		eventType = audit.EventRollback
	}

	s.audit.Log(ctx, eventType, domain.SeverityInfo,
		fmt.Sprintf("%s of %s %s", tx.Type, tx.Amount.Decimal(), tx.Amount.Currency),
		map[string]interface{}{
			"transaction_id": tx.ID,
			"provider_tx_id": tx.ProviderTxID,
			"round_id":       tx.RoundID,
			"amount":         tx.Amount.Amount,
			"balance_after":  tx.BalanceAfter.Amount,
		},
		audit.WithPlayer(tx.PlayerID))
}

// sameCurrency treats an empty requested currency as the account currency
func sameCurrency(accountCurrency, requested string) bool {
	return requested == "" || strings.EqualFold(accountCurrency, requested)
}
