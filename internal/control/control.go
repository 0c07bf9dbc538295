// Package control provides the operator switches for gaming.
//
// Gaming as a whole, single games and single players can be disabled.
// Disabled gaming blocks new bets and game launches; wins and rollbacks
// still settle so players are paid what they are owed.
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/domain"
)

var (
	ErrGamingDisabled = errors.New("gaming is currently disabled")
	ErrGameDisabled   = errors.New("game is currently disabled")
	ErrPlayerDisabled = errors.New("player account is disabled")
	ErrPlayerNotFound = errors.New("player not found")
)

const gamingKey = "gaming_enabled"

// switches is an immutable view of the operator state. Writers replace it
// whole.
type switches struct {
	gamingOff *stop
	games     map[string]stop
}

// stop records who switched something off and why
type stop struct {
	at     time.Time
	by     string
	reason string
}

// Service holds the gaming switches. Reads are lock free; writes persist
// first and then publish a new snapshot.
type Service struct {
	db    *sql.DB
	audit audit.Logger
	now   func() time.Time

	writeMu sync.Mutex
	state   atomic.Pointer[switches]
}

// New creates a control service with gaming enabled
func New(db *sql.DB, auditSvc audit.Logger) *Service {
	s := &Service{
		db:    db,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.state.Store(&switches{games: map[string]stop{}})
	return s
}

// update publishes fn applied to a copy of the current switches
func (s *Service) update(fn func(*switches)) {
	cur := s.state.Load()
	next := &switches{gamingOff: cur.gamingOff, games: maps.Clone(cur.games)}
	fn(next)
	s.state.Store(next)
}

// DisableAllGaming stops all new bets and launches
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	off := stop{at: s.now(), by: authorizedBy, reason: reason}
	if err := s.saveGaming(ctx, false, off); err != nil {
		return err
	}
	s.update(func(sw *switches) { sw.gamingOff = &off })

	s.audit.Log(ctx, audit.EventGamingDisabled, domain.SeverityCritical,
		"All gaming disabled: "+reason,
		map[string]string{"authorized_by": authorizedBy, "reason": reason},
		audit.WithComponent("control"))
	return nil
}

// EnableAllGaming resumes gaming
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.saveGaming(ctx, true, stop{at: s.now(), by: authorizedBy}); err != nil {
		return err
	}
	s.update(func(sw *switches) { sw.gamingOff = nil })

	s.audit.Log(ctx, audit.EventGamingEnabled, domain.SeverityInfo,
		"All gaming enabled",
		map[string]string{"authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

func (s *Service) saveGaming(ctx context.Context, enabled bool, change stop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, reason, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET value = $2, reason = $3, updated_at = $4, updated_by = $5
	`, gamingKey, fmt.Sprint(enabled), change.reason, change.at, change.by)
	if err != nil {
		return fmt.Errorf("failed to persist gaming state: %w", err)
	}
	return nil
}

// DisableGame switches off a single provider game
func (s *Service) DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	off := stop{at: s.now(), by: authorizedBy, reason: reason}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disabled_games (game_id, reason, disabled_at, disabled_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id) DO UPDATE SET reason = $2, disabled_at = $3, disabled_by = $4
	`, gameID, off.reason, off.at, off.by)
	if err != nil {
		return fmt.Errorf("failed to persist game state: %w", err)
	}
	s.update(func(sw *switches) { sw.games[gameID] = off })

	s.audit.Log(ctx, audit.EventGameDisabled, domain.SeverityWarning,
		fmt.Sprintf("Game %s disabled: %s", gameID, reason),
		map[string]string{"game_id": gameID, "reason": reason, "authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

// EnableGame switches a game back on
func (s *Service) EnableGame(ctx context.Context, gameID, authorizedBy string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM disabled_games WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to persist game state: %w", err)
	}
	s.update(func(sw *switches) { delete(sw.games, gameID) })

	s.audit.Log(ctx, audit.EventGameEnabled, domain.SeverityInfo,
		fmt.Sprintf("Game %s enabled", gameID),
		map[string]string{"game_id": gameID, "authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

// SetPlayerStatus suspends, closes or reactivates a player account
func (s *Service) SetPlayerStatus(ctx context.Context, playerID string, status domain.PlayerStatus, reason, authorizedBy string) error {
	switch status {
	case domain.PlayerStatusActive, domain.PlayerStatusSuspended, domain.PlayerStatusClosed:
	default:
		return fmt.Errorf("unknown player status %q", status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET status = $1, updated_at = $2 WHERE id = $3
	`, status, s.now(), playerID)
	if err != nil {
		return fmt.Errorf("failed to update player status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlayerNotFound
	}

	severity := domain.SeverityWarning
	if status == domain.PlayerStatusActive {
		severity = domain.SeverityInfo
	}
	s.audit.Log(ctx, audit.EventPlayerStatus, severity,
		fmt.Sprintf("Player status set to %s: %s", status, reason),
		map[string]string{"status": string(status), "reason": reason, "authorized_by": authorizedBy},
		audit.WithPlayer(playerID), audit.WithComponent("control"))
	return nil
}

// IsGamingEnabled reports the global switch
func (s *Service) IsGamingEnabled() bool {
	return s.state.Load().gamingOff == nil
}

// IsGameEnabled reports the switch of one game
func (s *Service) IsGameEnabled(gameID string) bool {
	_, off := s.state.Load().games[gameID]
	return !off
}

// GetSystemStatus returns the current switches
func (s *Service) GetSystemStatus() *domain.GamingSystemStatus {
	sw := s.state.Load()

	status := &domain.GamingSystemStatus{
		GamingEnabled: sw.gamingOff == nil,
		DisabledGames: slices.Sorted(maps.Keys(sw.games)),
	}
	if status.DisabledGames == nil {
		status.DisabledGames = []string{}
	}
	if off := sw.gamingOff; off != nil {
		at := off.at
		status.DisabledAt = &at
		status.DisabledBy = off.by
		status.DisabledReason = off.reason
	}
	return status
}

// CheckAccess reports whether username may place a bet or start a game.
// An empty gameID skips the game switch.
func (s *Service) CheckAccess(ctx context.Context, username, gameID string) error {
	sw := s.state.Load()
	if sw.gamingOff != nil {
		return ErrGamingDisabled
	}
	if _, off := sw.games[gameID]; off && gameID != "" {
		return ErrGameDisabled
	}

	var status domain.PlayerStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM players WHERE username = $1`, username).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrPlayerNotFound
	case err != nil:
		return fmt.Errorf("failed to read player status: %w", err)
	case status != domain.PlayerStatusActive:
		return ErrPlayerDisabled
	}
	return nil
}

// LoadState restores the persisted switches. Call it once on startup.
func (s *Service) LoadState(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := &switches{games: map[string]stop{}}

	var value string
	var off stop
	err := s.db.QueryRowContext(ctx, `
		SELECT value, reason, updated_by, updated_at FROM system_state WHERE key = $1
	`, gamingKey).Scan(&value, &off.reason, &off.by, &off.at)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to load gaming state: %w", err)
	case value == "false":
		next.gamingOff = &off
	}

	rows, err := s.db.QueryContext(ctx, `SELECT game_id, reason, disabled_by, disabled_at FROM disabled_games`)
	if err != nil {
		return fmt.Errorf("failed to load disabled games: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gameID string
		var g stop
		if err := rows.Scan(&gameID, &g.reason, &g.by, &g.at); err != nil {
			return err
		}
		next.games[gameID] = g
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.state.Store(next)
	return nil
}
