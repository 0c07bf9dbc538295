package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/control"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/alexbotov/spinclient/internal/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "ops-token"

type fakeLimits struct {
	mu         sync.Mutex
	set        map[domain.LimitKind]int64
	depositCap int64
}

func (l *fakeLimits) GetLimits(_ context.Context, _ string) ([]*domain.PlayerLimit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var list []*domain.PlayerLimit
	for kind, amount := range l.set {
		list = append(list, &domain.PlayerLimit{Kind: kind, Amount: &domain.Money{Amount: amount, Currency: "EUR"}})
	}
	return list, nil
}

func (l *fakeLimits) SetLimit(_ context.Context, _ string, req *limits.SetLimitRequest) (*domain.PlayerLimit, error) {
	if req.Kind.Window() == 0 || req.Amount < 0 {
		return nil, limits.ErrInvalidLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set == nil {
		l.set = map[domain.LimitKind]int64{}
	}
	l.set[req.Kind] = req.Amount
	from := time.Now().Add(limits.CoolingOffPeriod)
	return &domain.PlayerLimit{
		Kind:        req.Kind,
		Amount:      &domain.Money{Amount: req.Amount, Currency: "EUR"},
		PendingFrom: &from,
	}, nil
}

func (l *fakeLimits) CheckDeposit(_ context.Context, _ string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depositCap > 0 && amount > l.depositCap {
		return fmt.Errorf("%w: daily_deposit", limits.ErrLimitExceeded)
	}
	return nil
}

type fakeControl struct {
	mu       sync.Mutex
	status   domain.GamingSystemStatus
	games    map[string]bool
	players  map[string]domain.PlayerStatus
	lastBy   string
	lastNote string
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		status:  domain.GamingSystemStatus{GamingEnabled: true},
		games:   map[string]bool{},
		players: map[string]domain.PlayerStatus{testPlayer.ID: domain.PlayerStatusActive},
	}
}

func (c *fakeControl) CheckAccess(_ context.Context, _ string, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.GamingEnabled {
		return control.ErrGamingDisabled
	}
	if c.games[gameID] {
		return control.ErrGameDisabled
	}
	if c.players[testPlayer.ID] != domain.PlayerStatusActive {
		return control.ErrPlayerDisabled
	}
	return nil
}

func (c *fakeControl) GetSystemStatus() *domain.GamingSystemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.status
	status.DisabledGames = nil
	for id := range c.games {
		status.DisabledGames = append(status.DisabledGames, id)
	}
	return &status
}

func (c *fakeControl) DisableAllGaming(_ context.Context, reason, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.GamingEnabled = false
	c.status.DisabledReason = reason
	c.status.DisabledBy = by
	c.lastBy, c.lastNote = by, reason
	return nil
}

func (c *fakeControl) EnableAllGaming(_ context.Context, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = domain.GamingSystemStatus{GamingEnabled: true}
	c.lastBy = by
	return nil
}

func (c *fakeControl) DisableGame(_ context.Context, gameID, reason, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games[gameID] = true
	c.lastBy, c.lastNote = by, reason
	return nil
}

func (c *fakeControl) EnableGame(_ context.Context, gameID, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.games, gameID)
	c.lastBy = by
	return nil
}

func (c *fakeControl) SetPlayerStatus(_ context.Context, playerID string, status domain.PlayerStatus, reason, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.players[playerID]; !ok {
		return control.ErrPlayerNotFound
	}
	c.players[playerID] = status
	c.lastBy, c.lastNote = by, reason
	return nil
}

func (a *memAudit) GetEvents(_ context.Context, filter *audit.EventFilter) ([]*domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var events []*domain.AuditEvent
	for _, eventType := range a.events {
		if filter.Type != "" && filter.Type != eventType {
			continue
		}
		events = append(events, &domain.AuditEvent{Type: eventType})
		if filter.Limit > 0 && len(events) == filter.Limit {
			break
		}
	}
	return events, nil
}

func (e *testEnv) admin(t *testing.T, method, target, body, token string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set(adminTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp APIResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestLimitEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("SetDecimal", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPut, "/api/v1/limits/daily_wager", `{"amount":"25.50"}`, true)
		require.Equal(t, http.StatusOK, rec.Code)
		data := dataMap(t, resp)
		assert.Equal(t, "daily_wager", data["kind"])
		assert.Equal(t, "25.5", data["amount"])
		assert.NotNil(t, data["pending_from"])
		assert.Equal(t, int64(2550), env.limits.set[domain.LimitDailyWager])
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPut, "/api/v1/limits/hourly_fun", `{"amount":"5"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_LIMIT", resp.Error.Code)
	})

	t.Run("BadAmount", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPut, "/api/v1/limits/daily_wager", `{"amount":"lots"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_AMOUNT", resp.Error.Code)
	})

	t.Run("List", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodGet, "/api/v1/limits", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		list, ok := resp.Data.([]interface{})
		require.True(t, ok)
		assert.Len(t, list, 1)
	})

	t.Run("RequiresAuth", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/limits", "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDepositLimit(t *testing.T) {
	env := newTestEnv(t)
	env.limits.depositCap = 1000

	rec, resp := env.do(t, http.MethodPost, "/api/v1/wallet/deposit", `{"amount":"10.01"}`, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", resp.Error.Code)
	assert.Empty(t, env.wallet.deposits)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/wallet/deposit", `{"amount":"10"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLaunchGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.control.DisableGame(ctx, "vs20", "faulty", "ops"))

	rec, resp := env.do(t, http.MethodPost, "/api/v1/games/vs20/launch", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "GAME_DISABLED", resp.Error.Code)

	t.Run("PlayForFunIsAllowed", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/games/vs20/launch", `{"play_for_fun":1}`, true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("GamingOff", func(t *testing.T) {
		require.NoError(t, env.control.DisableAllGaming(ctx, "maintenance", "ops"))
		defer env.control.EnableAllGaming(ctx, "ops")

		rec, resp := env.do(t, http.MethodPost, "/api/v1/games/other/launch", "", true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "GAMING_DISABLED", resp.Error.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("TokenRequired", func(t *testing.T) {
		for _, token := range []string{"", "wrong"} {
			rec, resp := env.admin(t, http.MethodGet, "/admin/status", "", token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "ADMIN_UNAUTHORIZED", resp.Error.Code)
		}
	})

	t.Run("Status", func(t *testing.T) {
		rec, resp := env.admin(t, http.MethodGet, "/admin/status", "", testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, dataMap(t, resp)["gaming_enabled"])
	})

	t.Run("DisableGamingNeedsReason", func(t *testing.T) {
		rec, _ := env.admin(t, http.MethodPost, "/admin/gaming/disable", `{}`, testAdminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DisableAndEnableGaming", func(t *testing.T) {
		rec, resp := env.admin(t, http.MethodPost, "/admin/gaming/disable", `{"reason":"incident","by":"carol"}`, testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, dataMap(t, resp)["gaming_enabled"])
		assert.Equal(t, "carol", env.control.lastBy)
		assert.Equal(t, "incident", env.control.lastNote)

		rec, resp = env.admin(t, http.MethodPost, "/admin/gaming/enable", "", testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, dataMap(t, resp)["gaming_enabled"])
		assert.True(t, strings.HasPrefix(env.control.lastBy, "admin@"))
	})

	t.Run("GameSwitch", func(t *testing.T) {
		rec, resp := env.admin(t, http.MethodPost, "/admin/games/vs20/disable", `{"reason":"rtp"}`, testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []interface{}{"vs20"}, dataMap(t, resp)["disabled_games"])

		rec, _ = env.admin(t, http.MethodPost, "/admin/games/vs20/enable", "", testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, env.control.games["vs20"])
	})

	t.Run("PlayerStatus", func(t *testing.T) {
		target := "/admin/players/" + testPlayer.ID + "/suspend"
		rec, resp := env.admin(t, http.MethodPost, target, `{"reason":"self exclusion"}`, testAdminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "suspended", dataMap(t, resp)["status"])
		assert.Equal(t, domain.PlayerStatusSuspended, env.control.players[testPlayer.ID])

		rec, resp = env.admin(t, http.MethodPost, "/admin/players/nobody/close", "", testAdminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "PLAYER_NOT_FOUND", resp.Error.Code)

		rec, _ = env.admin(t, http.MethodPost, "/admin/players/"+testPlayer.ID+"/ban", "", testAdminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	env.audit.events = []string{audit.EventProviderError, audit.EventFreeRoundsChanged, audit.EventProviderError}

	rec, resp := env.admin(t, http.MethodGet, "/admin/audit?type="+audit.EventProviderError+"&limit=1", "", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, audit.EventProviderError, list[0].(map[string]interface{})["type"])

	rec, _ = env.admin(t, http.MethodGet, "/admin/audit?type=nothing", "", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())

	for _, q := range []string{"limit=0", "limit=x", "since=yesterday"} {
		rec, _ := env.admin(t, http.MethodGet, "/admin/audit?"+q, "", testAdminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	env.handler.settings.AdminToken = ""

	rec, _ := env.admin(t, http.MethodGet, "/admin/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
