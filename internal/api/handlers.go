// Package api provides the HTTP surface of the callback host: the provider
// callback endpoint and the player-facing REST and websocket API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/auth"
	"github.com/alexbotov/spinclient/internal/callback"
	"github.com/alexbotov/spinclient/internal/control"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/alexbotov/spinclient/internal/limits"
	"github.com/alexbotov/spinclient/internal/wallet"
	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Authenticator registers players and resolves tokens
type Authenticator interface {
	Register(ctx context.Context, req *auth.RegisterRequest, ip string) (*domain.Player, error)
	Login(ctx context.Context, req *auth.LoginRequest, ip string) (*auth.LoginResponse, error)
	ValidateToken(ctx context.Context, token string) (*domain.Player, error)
}

// Wallet is the player-facing part of the wallet
type Wallet interface {
	GetBalance(ctx context.Context, playerID string) (*domain.Balance, error)
	Deposit(ctx context.Context, playerID string, amount domain.Money, reference string) (*domain.Transaction, error)
	GetTransactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error)
}

// Provider is the remote game API, satisfied by *spinclient.Client
type Provider interface {
	GetGameList(ctx context.Context, currency string, listType int) (string, error)
	GetFreeRounds(ctx context.Context, username, password, currency string) (string, error)
	AddFreeRounds(ctx context.Context, req *spinclient.AddFreeRoundsRequest) (string, error)
	DeleteFreeRounds(ctx context.Context, req *spinclient.DeleteFreeRoundsRequest) (string, error)
	GetGame(ctx context.Context, req *spinclient.GameRequest) (string, error)
	GetGameDemo(ctx context.Context, req *spinclient.GameDemoRequest) (string, error)
}

// Limits manages a player's own deposit and wager limits
type Limits interface {
	GetLimits(ctx context.Context, playerID string) ([]*domain.PlayerLimit, error)
	SetLimit(ctx context.Context, playerID string, req *limits.SetLimitRequest) (*domain.PlayerLimit, error)
	CheckDeposit(ctx context.Context, playerID string, amount int64) error
}

// Controller holds the operator switches, satisfied by *control.Service
type Controller interface {
	CheckAccess(ctx context.Context, username, gameID string) error
	GetSystemStatus() *domain.GamingSystemStatus
	DisableAllGaming(ctx context.Context, reason, authorizedBy string) error
	EnableAllGaming(ctx context.Context, authorizedBy string) error
	DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error
	EnableGame(ctx context.Context, gameID, authorizedBy string) error
	SetPlayerStatus(ctx context.Context, playerID string, status domain.PlayerStatus, reason, authorizedBy string) error
}

// AuditTrail reads back the audit log, satisfied by *audit.Service
type AuditTrail interface {
	GetEvents(ctx context.Context, filter *audit.EventFilter) ([]*domain.AuditEvent, error)
}

// CallbackHandler answers provider callbacks
type CallbackHandler interface {
	Handle(ctx context.Context, req *callback.Request) spinclient.Envelope
}

// Pinger reports database reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the dependencies of Handler
type Services struct {
	Auth      Authenticator
	Wallet    Wallet
	Provider  Provider
	Callbacks CallbackHandler
	Limits    Limits
	Control   Controller
	Audit     audit.Logger
	Trail     AuditTrail
	Hub       *Hub
	DB        Pinger
	// Metrics is served on /metrics when set
	Metrics   http.Handler
}

// Settings are request defaults taken from configuration
type Settings struct {
	DefaultLang string
	HomeURL     string
	CashierURL  string
	// AdminToken enables the operator endpoints when set
	AdminToken  string
}

// Handler contains all HTTP handlers
type Handler struct {
	auth      Authenticator
	wallet    Wallet
	provider  Provider
	callbacks CallbackHandler
	limits    Limits
	control   Controller
	audit     audit.Logger
	trail     AuditTrail
	hub       *Hub
	db        Pinger
	metrics   http.Handler
	settings  Settings
	log       zerolog.Logger
}

// New creates a new API handler
func New(svc Services, settings Settings, log zerolog.Logger) *Handler {
	if settings.DefaultLang == "" {
		settings.DefaultLang = "en"
	}
	hub := svc.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	return &Handler{
		auth:      svc.Auth,
		wallet:    svc.Wallet,
		provider:  svc.Provider,
		callbacks: svc.Callbacks,
		limits:    svc.Limits,
		control:   svc.Control,
		audit:     svc.Audit,
		trail:     svc.Trail,
		hub:       hub,
		db:        svc.DB,
		metrics:   svc.Metrics,
		settings:  settings,
		log:       log,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondProvider relays a provider response body. Bodies flagged by
// spinclient.HasError become 502s.
func (h *Handler) respondProvider(w http.ResponseWriter, r *http.Request, method, body string, err error) {
	if err != nil {
		var statusErr *spinclient.StatusError
		switch {
		case errors.Is(err, spinclient.ErrValidation):
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		case errors.As(err, &statusErr):
			h.providerFailed(r, method, statusErr.Body)
		default:
			h.providerFailed(r, method, err.Error())
		}
		respondError(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "Game provider request failed")
		return
	}

	if spinclient.HasError(body) {
		h.providerFailed(r, method, body)
		respondError(w, http.StatusBadGateway, "PROVIDER_ERROR", body)
		return
	}

	// HasError only passes JSON objects
	respondJSON(w, http.StatusOK, json.RawMessage(body))
}

func (h *Handler) providerFailed(r *http.Request, method, detail string) {
	h.log.Warn().Str("method", method).Str("detail", detail).Msg("provider request failed")
	var opts []audit.EventOption
	if player := playerFromContext(r.Context()); player != nil {
		opts = append(opts, audit.WithPlayer(player.ID))
	}
	opts = append(opts, audit.WithIP(getClientIP(r)), audit.WithComponent("api"))
	h.audit.Log(r.Context(), audit.EventProviderError, domain.SeverityError,
		method+" failed", map[string]string{"detail": detail}, opts...)
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// decodeOptional decodes a JSON body into v, accepting an empty body
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "ok"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status, dbStatus, code = "unhealthy", err.Error(), http.StatusServiceUnavailable
		}
	}

	respondJSON(w, code, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "spinclient",
		"version":     "1.0.0",
		"description": "Game provider client and wallet callback host",
	})
}

// === Provider callback ===

// Callback handles POST /callback. It always answers 200 with an envelope.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	req, err := parseCallback(r)
	if err != nil {
		h.log.Warn().Err(err).Str("ip", getClientIP(r)).Msg("malformed callback")
		h.writeEnvelope(w, spinclient.ProcessingErrorEnvelope(0))
		return
	}
	req.RemoteIP = getClientIP(r)

	h.writeEnvelope(w, h.callbacks.Handle(r.Context(), req))
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, env spinclient.Envelope) {
	if err := spinclient.WriteEnvelope(w, env); err != nil {
		h.log.Error().Err(err).Str("envelope", env.String()).Msg("failed to write callback response")
	}
}

// parseCallback reads a callback sent as JSON or as a form
func parseCallback(r *http.Request) (*callback.Request, error) {
	var req callback.Request
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.Action = r.Form.Get("action")
	req.Username = r.Form.Get("username")
	req.Currency = r.Form.Get("currency")
	req.Amount = json.Number(r.Form.Get("amount"))
	req.TransactionID = r.Form.Get("transaction_id")
	req.RoundID = r.Form.Get("round_id")
	req.GameID = r.Form.Get("game_id")
	req.Timestamp = json.Number(r.Form.Get("timestamp"))
	req.Key = r.Form.Get("key")
	return &req, nil
}

// === Authentication ===

// Register handles POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	player, err := h.auth.Register(r.Context(), &req, getClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			respondError(w, http.StatusConflict, "USER_EXISTS", "Username already exists")
		case errors.Is(err, auth.ErrProviderRejected):
			respondError(w, http.StatusBadGateway, "PROVIDER_ERROR", "Game provider rejected the player")
		default:
			respondError(w, http.StatusBadRequest, "REGISTRATION_FAILED", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"player_id": player.ID,
		"username":  player.Username,
		"currency":  player.Currency,
		"message":   "Registration successful",
	})
}

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	result, err := h.auth.Login(r.Context(), &req, getClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
		case errors.Is(err, auth.ErrAccountNotActive):
			respondError(w, http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is not active")
		default:
			respondError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": result.Token,
		"player": map[string]interface{}{
			"id":       result.Player.ID,
			"username": result.Player.Username,
			"nickname": result.Player.Nickname,
			"currency": result.Player.Currency,
		},
		"expires_at": result.ExpiresAt,
	})
}

// === Wallet ===

// GetBalance handles GET /api/v1/wallet/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	balance, err := h.wallet.GetBalance(r.Context(), player.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "BALANCE_ERROR", "Failed to get balance")
		return
	}

	respondJSON(w, http.StatusOK, balanceView(balance.Amount))
}

func balanceView(m domain.Money) map[string]interface{} {
	return map[string]interface{}{
		"balance":     m.Decimal(),
		"minor_units": m.Amount,
		"currency":    m.Currency,
	}
}

// Deposit handles POST /api/v1/wallet/deposit. The amount is a decimal
// string in the player's currency.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	var req struct {
		Amount    json.Number `json:"amount"`
		Reference string      `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	amount, err := domain.ParseMoney(req.Amount.String(), player.Currency)
	if err != nil || amount.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be a positive decimal")
		return
	}

	if h.limits != nil {
		if err := h.limits.CheckDeposit(r.Context(), player.ID, amount.Amount); err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				respondError(w, http.StatusForbidden, "LIMIT_EXCEEDED", err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, "DEPOSIT_FAILED", "Deposit failed")
			return
		}
	}

	tx, err := h.wallet.Deposit(r.Context(), player.ID, amount, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrCurrencyMismatch):
			respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "DEPOSIT_FAILED", "Deposit failed")
		}
		return
	}

	h.hub.BalanceChanged(player.ID, tx.BalanceAfter)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": tx.ID,
		"amount":         tx.Amount.Decimal(),
		"balance_after":  tx.BalanceAfter.Decimal(),
		"currency":       tx.Amount.Currency,
		"status":         tx.Status,
	})
}

// GetTransactions handles GET /api/v1/wallet/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	transactions, err := h.wallet.GetTransactions(r.Context(), player.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TRANSACTIONS_ERROR", "Failed to get transactions")
		return
	}

	list := make([]map[string]interface{}, len(transactions))
	for i, tx := range transactions {
		list[i] = map[string]interface{}{
			"id":             tx.ID,
			"type":           tx.Type,
			"amount":         tx.Amount.Decimal(),
			"balance_before": tx.BalanceBefore.Decimal(),
			"balance_after":  tx.BalanceAfter.Decimal(),
			"currency":       tx.Amount.Currency,
			"status":         tx.Status,
			"provider_tx_id": tx.ProviderTxID,
			"round_id":       tx.RoundID,
			"game_id":        tx.GameID,
			"created_at":     tx.CreatedAt,
		}
	}

	respondJSON(w, http.StatusOK, list)
}

// === Games ===

// GetGames handles GET /api/v1/games?type=0|1
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	listType := spinclient.ListTypeFlat
	if t := r.URL.Query().Get("type"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || (n != spinclient.ListTypeFlat && n != spinclient.ListTypeDetailed) {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "type must be 0 or 1")
			return
		}
		listType = n
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = player.Currency
	}

	body, err := h.provider.GetGameList(r.Context(), currency, listType)
	h.respondProvider(w, r, spinclient.MethodGetGameList, body, err)
}

// LaunchGame handles POST /api/v1/games/{id}/launch
func (h *Handler) LaunchGame(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	var req struct {
		PlayForFun int    `json:"play_for_fun"`
		Lang       string `json:"lang"`
	}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Lang == "" {
		req.Lang = h.settings.DefaultLang
	}

	gameID := mux.Vars(r)["id"]
	if h.control != nil && req.PlayForFun == 0 {
		if err := h.control.CheckAccess(r.Context(), player.Username, gameID); err != nil {
			respondAccessError(w, err)
			return
		}
	}

	body, err := h.provider.GetGame(r.Context(), &spinclient.GameRequest{
		Username:   player.Username,
		Password:   player.ProviderPassword,
		GameID:     gameID,
		Currency:   player.Currency,
		HomeURL:    h.settings.HomeURL,
		CashierURL: h.settings.CashierURL,
		PlayForFun: req.PlayForFun,
		Lang:       req.Lang,
	})
	h.respondProvider(w, r, spinclient.MethodGetGame, body, err)
}

// DemoGame handles GET /api/v1/games/{id}/demo
func (h *Handler) DemoGame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lang := q.Get("lang")
	if lang == "" {
		lang = h.settings.DefaultLang
	}

	body, err := h.provider.GetGameDemo(r.Context(), &spinclient.GameDemoRequest{
		GameID:   mux.Vars(r)["id"],
		Currency: q.Get("currency"),
		HomeURL:  h.settings.HomeURL,
		Lang:     lang,
	})
	h.respondProvider(w, r, spinclient.MethodGetGameDemo, body, err)
}

func respondAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrGamingDisabled):
		respondError(w, http.StatusForbidden, "GAMING_DISABLED", "Gaming is currently disabled")
	case errors.Is(err, control.ErrGameDisabled):
		respondError(w, http.StatusForbidden, "GAME_DISABLED", "Game is currently disabled")
	case errors.Is(err, control.ErrPlayerDisabled):
		respondError(w, http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is not active")
	default:
		respondError(w, http.StatusInternalServerError, "ACCESS_CHECK_FAILED", "Failed to check game access")
	}
}

// === Free rounds ===

// GetFreeRounds handles GET /api/v1/freerounds
func (h *Handler) GetFreeRounds(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	body, err := h.provider.GetFreeRounds(r.Context(), player.Username, player.ProviderPassword, player.Currency)
	h.respondProvider(w, r, spinclient.MethodGetFreeRounds, body, err)
}

// AddFreeRounds handles POST /api/v1/freerounds
func (h *Handler) AddFreeRounds(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	var req struct {
		GameID    string `json:"game_id"`
		FreeSpins int    `json:"freespins"`
		BetLevel  int    `json:"bet_level"`
		Lang      string `json:"lang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.GameID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "game_id is required")
		return
	}

	body, err := h.provider.AddFreeRounds(r.Context(), &spinclient.AddFreeRoundsRequest{
		Username:  player.Username,
		Password:  player.ProviderPassword,
		GameID:    req.GameID,
		Currency:  player.Currency,
		FreeSpins: req.FreeSpins,
		BetLevel:  req.BetLevel,
		Lang:      req.Lang,
	})
	if err == nil && !spinclient.HasError(body) {
		h.freeRoundsChanged(r, player, "added", req.GameID)
	}
	h.respondProvider(w, r, spinclient.MethodAddFreeRounds, body, err)
}

// DeleteFreeRounds handles DELETE /api/v1/freerounds?game_id=
func (h *Handler) DeleteFreeRounds(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())
	gameID := r.URL.Query().Get("game_id")

	body, err := h.provider.DeleteFreeRounds(r.Context(), &spinclient.DeleteFreeRoundsRequest{
		Username: player.Username,
		Password: player.ProviderPassword,
		Currency: player.Currency,
		GameID:   gameID,
	})
	if err == nil && !spinclient.HasError(body) {
		h.freeRoundsChanged(r, player, "deleted", gameID)
	}
	h.respondProvider(w, r, spinclient.MethodDeleteFreeRounds, body, err)
}

func (h *Handler) freeRoundsChanged(r *http.Request, player *domain.Player, change, gameID string) {
	h.audit.Log(r.Context(), audit.EventFreeRoundsChanged, domain.SeverityInfo,
		"Free rounds "+change,
		map[string]string{"game_id": gameID},
		audit.WithPlayer(player.ID), audit.WithIP(getClientIP(r)))
}

// === Limits ===

func limitView(l *domain.PlayerLimit) map[string]interface{} {
	view := map[string]interface{}{
		"kind":       l.Kind,
		"amount":     nil,
		"updated_at": l.UpdatedAt,
	}
	if l.Amount != nil {
		view["amount"] = l.Amount.Decimal()
	}
	if l.PendingFrom != nil {
		var pending interface{}
		if l.Pending != nil {
			pending = l.Pending.Decimal()
		}
		view["pending_amount"] = pending
		view["pending_from"] = l.PendingFrom
	}
	return view
}

// GetLimits handles GET /api/v1/limits
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	list, err := h.limits.GetLimits(r.Context(), player.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LIMITS_ERROR", "Failed to get limits")
		return
	}

	views := make([]map[string]interface{}, len(list))
	for i, l := range list {
		views[i] = limitView(l)
	}
	respondJSON(w, http.StatusOK, views)
}

// SetLimit handles PUT /api/v1/limits/{kind}. An amount of "0" removes the
// limit after the cooling-off period.
func (h *Handler) SetLimit(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	var req struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	amount, err := domain.ParseMoney(req.Amount.String(), player.Currency)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be a decimal")
		return
	}

	limit, err := h.limits.SetLimit(r.Context(), player.ID, &limits.SetLimitRequest{
		Kind:   domain.LimitKind(mux.Vars(r)["kind"]),
		Amount: amount.Amount,
	})
	if err != nil {
		if errors.Is(err, limits.ErrInvalidLimit) {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "LIMITS_ERROR", "Failed to set limit")
		return
	}

	respondJSON(w, http.StatusOK, limitView(limit))
}
