// Package domain contains the core models of the callback host.
//
// Balances are held as int64 minor units. Decimal strings appear only at
// the edges (player-facing API) and are converted through the SDK helpers.
package domain

import (
	"encoding/json"
	"time"

	"github.com/alexbotov/spinclient/pkg/spinclient"
)

// Money represents monetary values in minor units
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in smallest unit (cents)
	Currency string `json:"currency"` // ISO 4217 currency code
}

// ParseMoney converts a decimal string such as "10.50" into Money,
// truncating extra fractional digits
func ParseMoney(value, currency string) (Money, error) {
	amount, err := spinclient.DecimalToMinorUnits(value, spinclient.DefaultPrecision)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// Decimal returns the amount as a display string, "10.5" for 1050
func (m Money) Decimal() string {
	return spinclient.MinorUnitsToDecimal(m.Amount, spinclient.DefaultPrecision)
}

// Add adds two money values
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts money value
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// PlayerStatus represents the status of a player account
type PlayerStatus string

const (
	PlayerStatusActive    PlayerStatus = "active"
	PlayerStatusSuspended PlayerStatus = "suspended"
	PlayerStatusClosed    PlayerStatus = "closed"
)

// Player is an operator-side account mirrored at the provider.
// ProviderPassword is the user_password the provider knows the player by.
type Player struct {
	ID               string       `json:"id" db:"id"`
	Username         string       `json:"username" db:"username"`
	Nickname         string       `json:"nickname" db:"nickname"`
	PasswordHash     string       `json:"-" db:"password_hash"`
	ProviderPassword string       `json:"-" db:"provider_password"`
	Currency         string       `json:"currency" db:"currency"`
	Status           PlayerStatus `json:"status" db:"status"`
	LastLoginAt      *time.Time   `json:"last_login_at" db:"last_login_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// TransactionType represents transaction types
type TransactionType string

const (
	TxTypeDeposit  TransactionType = "deposit"
	TxTypeDebit    TransactionType = "debit"
	TxTypeCredit   TransactionType = "credit"
	TxTypeRollback TransactionType = "rollback"
)

// TransactionStatus represents transaction state
type TransactionStatus string

const (
	TxStatusCompleted  TransactionStatus = "completed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// Transaction is a single balance movement. ProviderTxID is the
// provider's transaction id and is unique per type.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	PlayerID      string            `json:"player_id" db:"player_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        Money             `json:"amount" db:"amount"`
	BalanceBefore Money             `json:"balance_before" db:"balance_before"`
	BalanceAfter  Money             `json:"balance_after" db:"balance_after"`
	Status        TransactionStatus `json:"status" db:"status"`
	ProviderTxID  string            `json:"provider_tx_id" db:"provider_tx_id"`
	RoundID       string            `json:"round_id" db:"round_id"`
	GameID        string            `json:"game_id" db:"game_id"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// Balance represents player balance
type Balance struct {
	PlayerID  string    `json:"player_id"`
	Amount    Money     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LimitKind names a responsible gaming limit
type LimitKind string

const (
	LimitDailyDeposit   LimitKind = "daily_deposit"
	LimitWeeklyDeposit  LimitKind = "weekly_deposit"
	LimitMonthlyDeposit LimitKind = "monthly_deposit"
	LimitDailyWager     LimitKind = "daily_wager"
	LimitWeeklyWager    LimitKind = "weekly_wager"
)

// Window returns the rolling period the limit covers
func (k LimitKind) Window() time.Duration {
	switch k {
	case LimitDailyDeposit, LimitDailyWager:
		return 24 * time.Hour
	case LimitWeeklyDeposit, LimitWeeklyWager:
		return 7 * 24 * time.Hour
	case LimitMonthlyDeposit:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// PlayerLimit is one limit of a player. A nil Amount means no limit.
// A set PendingFrom marks an increase waiting for its cooling-off period;
// a nil Pending with it set is a pending removal.
type PlayerLimit struct {
	Kind        LimitKind  `json:"kind"`
	Amount      *Money     `json:"amount,omitempty"`
	Pending     *Money     `json:"pending,omitempty"`
	PendingFrom *time.Time `json:"pending_from,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GamingSystemStatus is the operator view of the gaming switches
type GamingSystemStatus struct {
	GamingEnabled  bool       `json:"gaming_enabled"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledBy     string     `json:"disabled_by,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	DisabledGames  []string   `json:"disabled_games"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent represents a significant event
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	PlayerID    *string         `json:"player_id,omitempty" db:"player_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	IPAddress   string          `json:"ip_address" db:"ip_address"`
	Component   string          `json:"component" db:"component"`
}
