package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/spinclient/internal/api"
	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/auth"
	"github.com/alexbotov/spinclient/internal/callback"
	"github.com/alexbotov/spinclient/internal/config"
	"github.com/alexbotov/spinclient/internal/control"
	"github.com/alexbotov/spinclient/internal/database/dbtest"
	"github.com/alexbotov/spinclient/internal/limits"
	"github.com/alexbotov/spinclient/internal/metrics"
	"github.com/alexbotov/spinclient/internal/replay"
	"github.com/alexbotov/spinclient/internal/wallet"
	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	integrationSalt  = "integration-salt"
	integrationAdmin = "integration-admin"
)

// stubProvider answers the remote API like the game provider would
type stubProvider struct {
	mu      sync.Mutex
	methods []string
}

func (p *stubProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Form.Get("api_login") != "operator" || r.Form.Get("api_password") != "operator-pw" {
		w.Write([]byte(`{"error":1,"message":"bad credentials"}`))
		return
	}

	method := r.Form.Get("method")
	p.mu.Lock()
	p.methods = append(p.methods, method)
	p.mu.Unlock()

	switch method {
	case spinclient.MethodCreatePlayer:
		w.Write([]byte(`{"error":0,"response":{"id":42}}`))
	case spinclient.MethodGetGame:
		w.Write([]byte(`{"error":0,"response":"https://games.example/play/` + r.Form.Get("gameid") + `"}`))
	default:
		w.Write([]byte(`{"error":0}`))
	}
}

type host struct {
	server   *httptest.Server
	provider *stubProvider
	token    string
}

func newHost(t *testing.T) *host {
	t.Helper()

	db := dbtest.Open(t)
	log := zerolog.Nop()
	ctx := context.Background()

	stub := &stubProvider{}
	providerServer := httptest.NewServer(stub)
	t.Cleanup(providerServer.Close)

	m := metrics.New()
	client, err := spinclient.NewClient(spinclient.Config{
		Endpoint:    providerServer.URL + "/api",
		APILogin:    "operator",
		APIPassword: "operator-pw",
		Timeout:     5 * time.Second,
	}, spinclient.WithTransport(m.Transport(&spinclient.HTTPTransport{HTTPClient: providerServer.Client()})))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	authCfg := &config.AuthConfig{JWTSecret: "integration-secret", TokenExpiry: time.Hour}
	auditSvc := audit.New(db.DB)
	walletSvc := wallet.New(db.DB, auditSvc)
	authSvc := auth.New(db.DB, authCfg, auditSvc, client, "USD")
	limitsSvc := limits.New(db.DB, auditSvc)
	controlSvc := control.New(db.DB, auditSvc)
	require.NoError(t, controlSvc.LoadState(ctx))
	hub := api.NewHub(log)

	callbacks := callback.New(walletSvc, auditSvc, integrationSalt,
		callback.WithReplayGuard(replay.NewGuard(rdb)),
		callback.WithNotifier(hub),
		callback.WithGate(controlSvc),
		callback.WithWagerLimiter(limitsSvc),
		callback.WithMaxAge(5*time.Minute),
		callback.WithObserver(m),
	)

	handler := api.New(api.Services{
		Auth:      authSvc,
		Wallet:    walletSvc,
		Provider:  client,
		Callbacks: callbacks,
		Limits:    limitsSvc,
		Control:   controlSvc,
		Audit:     auditSvc,
		Trail:     auditSvc,
		Hub:       hub,
		DB:        db,
		Metrics:   m.Handler(),
	}, api.Settings{AdminToken: integrationAdmin}, log)

	server := httptest.NewServer(handler.SetupRouter())
	t.Cleanup(server.Close)

	return &host{server: server, provider: stub}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.APIError   `json:"error"`
}

func (h *host) call(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// providerCallback posts a signed callback and returns the raw envelope
func (h *host) providerCallback(t *testing.T, action string, amount int64, txID string, ts time.Time) spinclient.Envelope {
	t.Helper()

	stamp := strconv.FormatInt(ts.Unix(), 10)
	body, err := json.Marshal(map[string]interface{}{
		"action":         action,
		"username":       "bob",
		"currency":       "USD",
		"amount":         amount,
		"transaction_id": txID,
		"round_id":       "round-" + txID,
		"game_id":        "vs20",
		"timestamp":      ts.Unix(),
		"key":            spinclient.Signature(stamp, integrationSalt),
	})
	require.NoError(t, err)

	resp, err := http.Post(h.server.URL+"/callback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env spinclient.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestPlayerJourney(t *testing.T) {
	h := newHost(t)
	now := time.Now()

	status, resp := h.call(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "bob",
		"password": "password123",
		"nickname": "Bob",
		"currency": "usd",
	}, nil)
	require.Equal(t, http.StatusCreated, status, "register: %+v", resp.Error)
	assert.Contains(t, h.provider.methods, spinclient.MethodCreatePlayer)

	status, resp = h.call(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "bob",
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	h.token = login.Token

	status, _ = h.call(t, http.MethodPost, "/api/v1/wallet/deposit", map[string]string{"amount": "20.00"}, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = h.call(t, http.MethodPut, "/api/v1/limits/daily_wager", map[string]string{"amount": "15.00"}, nil)
	require.Equal(t, http.StatusOK, status)

	t.Run("Launch", func(t *testing.T) {
		status, resp := h.call(t, http.MethodPost, "/api/v1/games/vs20/launch", nil, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(resp.Data), "https://games.example/play/vs20")
	})

	t.Run("Bets", func(t *testing.T) {
		assert.Equal(t, spinclient.SuccessEnvelope(2000), h.providerCallback(t, callback.ActionBalance, 0, "", now))
		assert.Equal(t, spinclient.SuccessEnvelope(1500), h.providerCallback(t, callback.ActionDebit, 500, "d-1", now))

		// the same signed body again is answered from the wallet
		assert.Equal(t, spinclient.SuccessEnvelope(1500), h.providerCallback(t, callback.ActionDebit, 500, "d-1", now))
		// a retry with a fresh timestamp is settled by the wallet without charging twice
		assert.Equal(t, spinclient.SuccessEnvelope(1500), h.providerCallback(t, callback.ActionDebit, 500, "d-1", now.Add(time.Second)))

		// 500 already wagered against a 1500 daily limit
		assert.Equal(t, spinclient.InsufficientBalanceEnvelope(1500), h.providerCallback(t, callback.ActionDebit, 1100, "d-2", now))

		assert.Equal(t, spinclient.SuccessEnvelope(4000), h.providerCallback(t, callback.ActionCredit, 2500, "c-1", now))
		assert.Equal(t, spinclient.SuccessEnvelope(4500), h.providerCallback(t, callback.ActionRollback, 0, "d-1", now))
	})

	t.Run("KillSwitch", func(t *testing.T) {
		admin := map[string]string{"X-Admin-Token": integrationAdmin}
		status, _ := h.call(t, http.MethodPost, "/admin/gaming/disable", map[string]string{"reason": "drill"}, admin)
		require.Equal(t, http.StatusOK, status)

		assert.Equal(t, spinclient.ProcessingErrorEnvelope(4500), h.providerCallback(t, callback.ActionDebit, 100, "d-3", now))
		assert.Equal(t, spinclient.SuccessEnvelope(4600), h.providerCallback(t, callback.ActionCredit, 100, "c-2", now))

		status, resp := h.call(t, http.MethodPost, "/api/v1/games/vs20/launch", nil, nil)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "GAMING_DISABLED", resp.Error.Code)

		status, _ = h.call(t, http.MethodPost, "/admin/gaming/enable", nil, admin)
		require.Equal(t, http.StatusOK, status)
	})

	t.Run("Balance", func(t *testing.T) {
		status, resp := h.call(t, http.MethodGet, "/api/v1/wallet/balance", nil, nil)
		require.Equal(t, http.StatusOK, status)
		var balance struct {
			Balance    string `json:"balance"`
			MinorUnits int64  `json:"minor_units"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &balance))
		assert.Equal(t, int64(4600), balance.MinorUnits)
		assert.Equal(t, "46", balance.Balance)
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(h.server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Contains(t, string(body), `spinclient_callbacks_total{action="debit",code="1"} 1`)
		assert.Contains(t, string(body), `spinclient_provider_request_seconds_count{method="getGame",outcome="ok"} 1`)
	})
}
