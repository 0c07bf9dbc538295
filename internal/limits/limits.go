// Package limits provides player deposit and wager limits.
//
// Lowering or adding a limit takes effect immediately. Raising or removing
// one waits for CoolingOffPeriod.
package limits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/domain"
)

var (
	ErrInvalidLimit  = errors.New("invalid limit value")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// CoolingOffPeriod is the waiting period for limit increases
const CoolingOffPeriod = 24 * time.Hour

var (
	depositKinds = []domain.LimitKind{domain.LimitDailyDeposit, domain.LimitWeeklyDeposit, domain.LimitMonthlyDeposit}
	wagerKinds   = []domain.LimitKind{domain.LimitDailyWager, domain.LimitWeeklyWager}
)

// Service provides player limit management
type Service struct {
	db    *sql.DB
	audit audit.Logger
	now   func() time.Time
}

// New creates a new limits service
func New(db *sql.DB, auditSvc audit.Logger) *Service {
	return &Service{
		db:    db,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetLimits returns the player's limits with matured pending changes applied
func (s *Service) GetLimits(ctx context.Context, playerID string) ([]*domain.PlayerLimit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.kind, l.amount, l.pending_amount, l.pending_from, l.updated_at, p.currency
		FROM player_limits l JOIN players p ON p.id = l.player_id
		WHERE l.player_id = $1 ORDER BY l.kind
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var limits []*domain.PlayerLimit
	for rows.Next() {
		var (
			limit       domain.PlayerLimit
			amount      sql.NullInt64
			pending     sql.NullInt64
			pendingFrom sql.NullTime
			currency    string
		)
		if err := rows.Scan(&limit.Kind, &amount, &pending, &pendingFrom, &limit.UpdatedAt, &currency); err != nil {
			return nil, err
		}

		limit.Amount = money(amount, currency)
		if pendingFrom.Valid {
			if pendingFrom.Time.After(now) {
				limit.Pending = money(pending, currency)
				limit.PendingFrom = &pendingFrom.Time
			} else {
				limit.Amount = money(pending, currency)
			}
		}
		if limit.Amount == nil && limit.PendingFrom == nil {
			continue
		}
		limits = append(limits, &limit)
	}

	return limits, rows.Err()
}

func money(v sql.NullInt64, currency string) *domain.Money {
	if !v.Valid {
		return nil
	}
	return &domain.Money{Amount: v.Int64, Currency: currency}
}

func find(limits []*domain.PlayerLimit, kind domain.LimitKind) *domain.PlayerLimit {
	for _, l := range limits {
		if l.Kind == kind {
			return l
		}
	}
	return nil
}

// SetLimitRequest changes one limit. Amount is in minor units; 0 removes
// the limit.
type SetLimitRequest struct {
	Kind   domain.LimitKind
	Amount int64
}

// SetLimit updates a player's limit and returns its new state
func (s *Service) SetLimit(ctx context.Context, playerID string, req *SetLimitRequest) (*domain.PlayerLimit, error) {
	if req.Kind.Window() == 0 {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidLimit, req.Kind)
	}
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidLimit)
	}

	current, err := s.GetLimits(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var currentAmount *int64
	if l := find(current, req.Kind); l != nil && l.Amount != nil {
		currentAmount = &l.Amount.Amount
	}

	var newAmount *int64
	if req.Amount > 0 {
		newAmount = &req.Amount
	}

	now := s.now()
	immediate := true
	switch {
	case currentAmount == nil:
		// adding a limit, or removing none
	case newAmount == nil:
		immediate = false
	case *newAmount > *currentAmount:
		immediate = false
	}

	if immediate {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO player_limits (player_id, kind, amount, pending_amount, pending_from, updated_at)
			VALUES ($1, $2, $3, NULL, NULL, $4)
			ON CONFLICT (player_id, kind) DO UPDATE
			SET amount = $3, pending_amount = NULL, pending_from = NULL, updated_at = $4
		`, playerID, req.Kind, newAmount, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO player_limits (player_id, kind, amount, pending_amount, pending_from, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (player_id, kind) DO UPDATE
			SET amount = $3, pending_amount = $4, pending_from = $5, updated_at = $6
		`, playerID, req.Kind, *currentAmount, newAmount, now.Add(CoolingOffPeriod), now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set limit: %w", err)
	}

	s.audit.Log(ctx, audit.EventLimitChanged, domain.SeverityInfo,
		fmt.Sprintf("Limit %s set to %d", req.Kind, req.Amount),
		map[string]interface{}{
			"kind":      req.Kind,
			"amount":    req.Amount,
			"immediate": immediate,
		},
		audit.WithPlayer(playerID), audit.WithComponent("limits"))

	updated, err := s.GetLimits(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if l := find(updated, req.Kind); l != nil {
		return l, nil
	}
	return &domain.PlayerLimit{Kind: req.Kind, UpdatedAt: now}, nil
}

// CheckDeposit reports ErrLimitExceeded when depositing amount would break
// a deposit limit
func (s *Service) CheckDeposit(ctx context.Context, playerID string, amount int64) error {
	return s.check(ctx, playerID, amount, depositKinds, domain.TxTypeDeposit)
}

// CheckWager reports ErrLimitExceeded when a bet of amount would break a
// wager limit. Rolled back bets do not count.
func (s *Service) CheckWager(ctx context.Context, playerID string, amount int64) error {
	return s.check(ctx, playerID, amount, wagerKinds, domain.TxTypeDebit)
}

func (s *Service) check(ctx context.Context, playerID string, amount int64, kinds []domain.LimitKind, txType domain.TransactionType) error {
	if amount <= 0 {
		return nil
	}

	limits, err := s.GetLimits(ctx, playerID)
	if err != nil {
		return err
	}

	now := s.now()
	for _, kind := range kinds {
		limit := find(limits, kind)
		if limit == nil || limit.Amount == nil {
			continue
		}

		total, err := s.total(ctx, playerID, txType, now.Add(-kind.Window()))
		if err != nil {
			return err
		}
		if total+amount > limit.Amount.Amount {
			s.audit.Log(ctx, audit.EventLimitExceeded, domain.SeverityWarning,
				fmt.Sprintf("%s limit of %d reached", kind, limit.Amount.Amount),
				map[string]interface{}{
					"kind":      kind,
					"limit":     limit.Amount.Amount,
					"used":      total,
					"requested": amount,
				},
				audit.WithPlayer(playerID), audit.WithComponent("limits"))
			return fmt.Errorf("%w: %s", ErrLimitExceeded, kind)
		}
	}

	return nil
}

// total sums completed transactions of txType since from
func (s *Service) total(ctx context.Context, playerID string, txType domain.TransactionType, from time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE player_id = $1 AND type = $2 AND status = $3 AND created_at >= $4
	`, playerID, txType, domain.TxStatusCompleted, from).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}
