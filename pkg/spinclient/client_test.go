package spinclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPILogin    = "test-login"
	testAPIPassword = "test-password"
)

// mockServer checks the form credentials and method, hands the form to
// validate, and answers with body
func mockServer(t *testing.T, expectedMethod string, validate func(form url.Values), body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse form: %v", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		assert.Equal(t, testAPILogin, r.PostForm.Get("api_login"))
		assert.Equal(t, testAPIPassword, r.PostForm.Get("api_password"))
		assert.Equal(t, expectedMethod, r.PostForm.Get("method"))

		if validate != nil {
			validate(r.PostForm)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint:    endpoint,
		APILogin:    testAPILogin,
		APIPassword: testAPIPassword,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

// recordingTransport captures calls instead of sending them
type recordingTransport struct {
	mu    sync.Mutex
	calls []url.Values
	body  string
	err   error
}

func (rt *recordingTransport) PostForm(_ context.Context, _ string, form url.Values) (string, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls = append(rt.calls, form)
	return rt.body, rt.err
}

func TestNewClient(t *testing.T) {
	valid := Config{Endpoint: "https://api.example.com/api", APILogin: "l", APIPassword: "p"}

	t.Run("Valid", func(t *testing.T) {
		c, err := NewClient(valid)
		require.NoError(t, err)
		assert.Equal(t, valid.Endpoint, c.Endpoint())
	})

	missing := map[string]Config{
		"Endpoint":    {APILogin: "l", APIPassword: "p"},
		"APILogin":    {Endpoint: valid.Endpoint, APIPassword: "p"},
		"APIPassword": {Endpoint: valid.Endpoint, APILogin: "l"},
		"BadEndpoint": {Endpoint: "not a url", APILogin: "l", APIPassword: "p"},
	}
	for name, cfg := range missing {
		t.Run("Missing"+name, func(t *testing.T) {
			c, err := NewClient(cfg)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestGetGameList(t *testing.T) {
	server := mockServer(t, MethodGetGameList, func(form url.Values) {
		assert.Equal(t, "1", form.Get("show_additional"))
		assert.Equal(t, "0", form.Get("show_systems"))
		assert.Equal(t, "1", form.Get("list_type"))
		assert.Equal(t, "EUR", form.Get("currency"))
	}, `{"error":0,"response":[]}`)
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, err := client.GetGameList(context.Background(), "eur", ListTypeDetailed)

	require.NoError(t, err)
	assert.Equal(t, `{"error":0,"response":[]}`, body)
	assert.False(t, HasError(body))
}

func TestCreatePlayer(t *testing.T) {
	server := mockServer(t, MethodCreatePlayer, func(form url.Values) {
		assert.Equal(t, "player1", form.Get("user_username"))
		assert.Equal(t, "pw", form.Get("user_password"))
		assert.Equal(t, "Player One", form.Get("user_nickname"))
		assert.Equal(t, "USD", form.Get("currency"))
	}, `{"error":0,"response":{"id":1}}`)
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, err := client.CreatePlayer(context.Background(), &CreatePlayerRequest{
		Username: "player1",
		Password: "pw",
		Nickname: "Player One",
		Currency: "usd",
	})

	require.NoError(t, err)
	assert.Contains(t, body, `"id":1`)
}

func TestFreeRounds(t *testing.T) {
	t.Run("Get", func(t *testing.T) {
		server := mockServer(t, MethodGetFreeRounds, func(form url.Values) {
			assert.Equal(t, "player1", form.Get("user_username"))
			assert.Equal(t, "GBP", form.Get("currency"))
		}, `{"error":0}`)
		defer server.Close()

		_, err := newTestClient(t, server.URL).GetFreeRounds(context.Background(), "player1", "pw", "gbp")
		require.NoError(t, err)
	})

	t.Run("Add", func(t *testing.T) {
		server := mockServer(t, MethodAddFreeRounds, func(form url.Values) {
			assert.Equal(t, "en", form.Get("lang"))
			assert.Equal(t, "1234", form.Get("gameid"))
			assert.Equal(t, "25", form.Get("freespins"))
			assert.Equal(t, "3", form.Get("bet_level"))
			assert.Equal(t, "USD", form.Get("currency"))
		}, `{"error":0}`)
		defer server.Close()

		_, err := newTestClient(t, server.URL).AddFreeRounds(context.Background(), &AddFreeRoundsRequest{
			Username:  "player1",
			Password:  "pw",
			GameID:    "1234",
			Currency:  "usd",
			FreeSpins: 25,
			BetLevel:  3,
		})
		require.NoError(t, err)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		server := mockServer(t, MethodDeleteFreeRounds, func(form url.Values) {
			_, ok := form["gameid"]
			assert.False(t, ok, "gameid should be omitted")
			assert.Equal(t, "USD", form.Get("currency"))
		}, `{"error":0}`)
		defer server.Close()

		_, err := newTestClient(t, server.URL).DeleteFreeRounds(context.Background(), &DeleteFreeRoundsRequest{
			Username: "player1",
			Password: "pw",
			Currency: "usd",
		})
		require.NoError(t, err)
	})

	t.Run("DeleteOneGame", func(t *testing.T) {
		server := mockServer(t, MethodDeleteFreeRounds, func(form url.Values) {
			assert.Equal(t, "77", form.Get("gameid"))
		}, `{"error":0}`)
		defer server.Close()

		_, err := newTestClient(t, server.URL).DeleteFreeRounds(context.Background(), &DeleteFreeRoundsRequest{
			Username: "player1",
			Password: "pw",
			Currency: "usd",
			GameID:   "77",
		})
		require.NoError(t, err)
	})
}

func TestGetGame(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := mockServer(t, MethodGetGame, func(form url.Values) {
			assert.Equal(t, "1234", form.Get("gameid"))
			assert.Equal(t, "https://casino.example/home", form.Get("homeurl"))
			assert.Equal(t, "https://casino.example/cashier", form.Get("cashierurl"))
			assert.Equal(t, "1", form.Get("play_for_fun"))
			assert.Equal(t, "de", form.Get("lang"))
			assert.Equal(t, "USD", form.Get("currency"))
		}, `{"error":0,"response":"https://games.example/launch"}`)
		defer server.Close()

		body, err := newTestClient(t, server.URL).GetGame(context.Background(), &GameRequest{
			Username:   "player1",
			Password:   "pw",
			GameID:     "1234",
			Currency:   "usd",
			HomeURL:    "https://casino.example/home",
			CashierURL: "https://casino.example/cashier",
			PlayForFun: 1,
			Lang:       "de",
		})
		require.NoError(t, err)
		assert.Contains(t, body, "launch")
	})

	t.Run("InvalidPlayForFunSendsNothing", func(t *testing.T) {
		rt := &recordingTransport{body: `{"error":0}`}
		client, err := NewClient(Config{Endpoint: "https://api.example.com", APILogin: "l", APIPassword: "p"}, WithTransport(rt))
		require.NoError(t, err)

		for _, v := range []int{2, -1, 10} {
			_, err = client.GetGame(context.Background(), &GameRequest{GameID: "1", PlayForFun: v})
			assert.ErrorIs(t, err, ErrValidation)
		}
		assert.Empty(t, rt.calls)
	})
}

func TestGetGameDemo(t *testing.T) {
	server := mockServer(t, MethodGetGameDemo, func(form url.Values) {
		assert.Equal(t, "99", form.Get("gameid"))
		assert.Equal(t, "USD", form.Get("currency"))
		assert.Equal(t, "en", form.Get("lang"))
	}, `{"error":0,"response":"https://games.example/demo"}`)
	defer server.Close()

	body, err := newTestClient(t, server.URL).GetGameDemo(context.Background(), &GameDemoRequest{
		GameID:   "99",
		Currency: "usd",
		Lang:     "en",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "demo")
}

func TestTransportErrors(t *testing.T) {
	t.Run("PropagatedUnmodified", func(t *testing.T) {
		sentinel := errors.New("connection reset")
		client, err := NewClient(Config{Endpoint: "https://api.example.com", APILogin: "l", APIPassword: "p"},
			WithTransport(&recordingTransport{err: sentinel}))
		require.NoError(t, err)

		_, err = client.GetGameList(context.Background(), "usd", ListTypeFlat)
		assert.Same(t, sentinel, err)
	})

	t.Run("NonSuccessStatus", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL).GetGameList(context.Background(), "usd", ListTypeFlat)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "maintenance")
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		server := mockServer(t, MethodGetGameList, nil, `{"error":0}`)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(t, server.URL).GetGameList(ctx, "usd", ListTypeFlat)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientConcurrentUse(t *testing.T) {
	rt := &recordingTransport{body: `{"error":0}`}
	client, err := NewClient(Config{Endpoint: "https://api.example.com", APILogin: "l", APIPassword: "p"}, WithTransport(rt))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetFreeRounds(context.Background(), "p", "pw", "usd")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, rt.calls, 20)
}
