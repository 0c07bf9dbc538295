// Package auth provides player registration and token authentication.
// Players are created both locally and on the provider side.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/config"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserExists         = errors.New("username already exists")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrProviderRejected   = errors.New("provider rejected player")
)

// PlayerCreator registers players with the game provider
type PlayerCreator interface {
	CreatePlayer(ctx context.Context, req *spinclient.CreatePlayerRequest) (string, error)
}

// Service provides authentication functionality
type Service struct {
	db              *sql.DB
	config          *config.AuthConfig
	audit           audit.Logger
	provider        PlayerCreator
	defaultCurrency string
}

// New creates a new auth service
func New(db *sql.DB, cfg *config.AuthConfig, auditSvc audit.Logger, provider PlayerCreator, defaultCurrency string) *Service {
	return &Service{
		db:              db,
		config:          cfg,
		audit:           auditSvc,
		provider:        provider,
		defaultCurrency: defaultCurrency,
	}
}

// RegisterRequest contains registration data
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Currency string `json:"currency"`
}

// Register creates a player locally and with the provider. Nothing is
// stored when the provider refuses the player.
func (s *Service) Register(ctx context.Context, req *RegisterRequest, ip string) (*domain.Player, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errors.New("username and password are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q", req.Currency)
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM players WHERE username = $1", req.Username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if exists > 0 {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	player := &domain.Player{
		ID:               uuid.New().String(),
		Username:         req.Username,
		Nickname:         nickname,
		PasswordHash:     string(hash),
		ProviderPassword: uuid.New().String(),
		Currency:         currency,
		Status:           domain.PlayerStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	body, err := s.provider.CreatePlayer(ctx, &spinclient.CreatePlayerRequest{
		Username: player.Username,
		Password: player.ProviderPassword,
		Nickname: player.Nickname,
		Currency: player.Currency,
	})
	if err == nil && spinclient.HasError(body) {
		err = fmt.Errorf("%w: %s", ErrProviderRejected, body)
	}
	if err != nil {
		s.audit.Log(ctx, audit.EventProviderError, domain.SeverityError,
			fmt.Sprintf("createPlayer failed for %s", player.Username),
			map[string]string{"error": err.Error()},
			audit.WithIP(ip), audit.WithComponent("auth"))
		return nil, err
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO players (id, username, nickname, password_hash, provider_password, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, player.ID, player.Username, player.Nickname, player.PasswordHash, player.ProviderPassword,
		player.Currency, player.Status, player.CreatedAt, player.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO balances (player_id, amount, currency, updated_at) VALUES ($1, 0, $2, $3)
	`, player.ID, player.Currency, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventPlayerRegistered, domain.SeverityInfo,
		fmt.Sprintf("Player registered: %s", player.Username),
		map[string]string{"player_id": player.ID, "currency": player.Currency},
		audit.WithPlayer(player.ID), audit.WithIP(ip))

	return player, nil
}

// LoginRequest contains login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse contains login result
type LoginResponse struct {
	Player    *domain.Player `json:"player"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Login checks the password and issues a signed token
func (s *Service) Login(ctx context.Context, req *LoginRequest, ip string) (*LoginResponse, error) {
	player, err := s.findPlayer(ctx, "username", req.Username)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			s.loginFailed(ctx, req.Username, ip, "unknown username")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(player.PasswordHash), []byte(req.Password)); err != nil {
		s.loginFailed(ctx, req.Username, ip, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if player.Status != domain.PlayerStatusActive {
		return nil, ErrAccountNotActive
	}

	now := time.Now().UTC()
	token, expiresAt, err := s.issueToken(player, now)
	if err != nil {
		return nil, err
	}

	s.db.ExecContext(ctx, "UPDATE players SET last_login_at = $1, updated_at = $2 WHERE id = $3",
		now, now, player.ID)
	player.LastLoginAt = &now

	s.audit.Log(ctx, audit.EventPlayerLogin, domain.SeverityInfo,
		fmt.Sprintf("Player logged in: %s", player.Username),
		nil,
		audit.WithPlayer(player.ID), audit.WithIP(ip))

	return &LoginResponse{
		Player:    player,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateToken verifies a token and returns its player
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*domain.Player, error) {
	playerID, err := s.parseToken(tokenString)
	if err != nil {
		return nil, err
	}

	player, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if player.Status != domain.PlayerStatusActive {
		return nil, ErrAccountNotActive
	}
	return player, nil
}

// GetPlayer retrieves a player by ID
func (s *Service) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return s.findPlayer(ctx, "id", playerID)
}

func (s *Service) issueToken(player *domain.Player, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.config.TokenExpiry)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"player_id": player.ID,
		"username":  player.Username,
		"exp":       expiresAt.Unix(),
		"iat":       now.Unix(),
	})

	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *Service) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	playerID, ok := claims["player_id"].(string)
	if !ok || playerID == "" {
		return "", ErrInvalidToken
	}
	return playerID, nil
}

// findPlayer loads a player by id or username
func (s *Service) findPlayer(ctx context.Context, column, value string) (*domain.Player, error) {
	var player domain.Player
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, nickname, password_hash, provider_password, currency, status, last_login_at, created_at, updated_at
		FROM players WHERE `+column+` = $1
	`, value).Scan(
		&player.ID, &player.Username, &player.Nickname, &player.PasswordHash,
		&player.ProviderPassword, &player.Currency, &player.Status,
		&player.LastLoginAt, &player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Service) loginFailed(ctx context.Context, username, ip, reason string) {
	s.audit.Log(ctx, audit.EventLoginFailed, domain.SeverityWarning,
		fmt.Sprintf("Login failed for %s: %s", username, reason),
		map[string]string{"username": username},
		audit.WithIP(ip))
}
