package spinclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Transport sends a form-encoded POST and returns the raw response body.
// Errors are handed back to the caller of the Client unchanged.
type Transport interface {
	PostForm(ctx context.Context, endpoint string, form url.Values) (string, error)
}

// HTTPTransport is the default Transport backed by net/http
type HTTPTransport struct {
	HTTPClient *http.Client
}

// PostForm implements Transport
func (t *HTTPTransport) PostForm(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return string(body), nil
}

// Client is a provider API client. It holds no mutable state and is safe
// for concurrent use.
type Client struct {
	config    Config
	transport Transport
	log       zerolog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithTransport replaces the HTTP transport, mostly for tests
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient uses httpClient for the default transport
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.transport = &HTTPTransport{HTTPClient: httpClient}
	}
}

// WithLogger enables debug logging of remote calls
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a new provider API client. It fails when the
// endpoint or either credential is missing.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	c := &Client{
		config: config,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = &HTTPTransport{HTTPClient: &http.Client{Timeout: config.Timeout}}
	}

	return c, nil
}

// Endpoint returns the configured API endpoint
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// send merges the credentials and method name into params and posts them
func (c *Client) send(ctx context.Context, method string, params Params) (string, error) {
	form := url.Values{}
	form.Set("api_login", c.config.APILogin)
	form.Set("api_password", c.config.APIPassword)
	form.Set("method", method)
	params.encode(form)

	start := time.Now()
	body, err := c.transport.PostForm(ctx, c.config.Endpoint, form)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Dur("took", time.Since(start)).Msg("provider call failed")
		return "", err
	}

	c.log.Debug().Str("method", method).Int("bytes", len(body)).Dur("took", time.Since(start)).Msg("provider call")
	return body, nil
}

// GetGameList retrieves the game catalogue priced in currency
func (c *Client) GetGameList(ctx context.Context, currency string, listType int) (string, error) {
	return c.send(ctx, MethodGetGameList, Params{
		"show_additional": true,
		"show_systems":    0,
		"list_type":       listType,
		"currency":        normalizeCurrency(currency),
	})
}

// CreatePlayer registers a player with the provider
func (c *Client) CreatePlayer(ctx context.Context, req *CreatePlayerRequest) (string, error) {
	return c.send(ctx, MethodCreatePlayer, req.params())
}

// GetFreeRounds lists the free rounds granted to a player
func (c *Client) GetFreeRounds(ctx context.Context, username, password, currency string) (string, error) {
	return c.send(ctx, MethodGetFreeRounds, Params{
		"user_username": username,
		"user_password": password,
		"currency":      normalizeCurrency(currency),
	})
}

// AddFreeRounds grants free rounds to a player
func (c *Client) AddFreeRounds(ctx context.Context, req *AddFreeRoundsRequest) (string, error) {
	return c.send(ctx, MethodAddFreeRounds, req.params())
}

// DeleteFreeRounds revokes a player's free rounds
func (c *Client) DeleteFreeRounds(ctx context.Context, req *DeleteFreeRoundsRequest) (string, error) {
	return c.send(ctx, MethodDeleteFreeRounds, req.params())
}

// GetGame returns a game session URL for a player.
// PlayForFun must be 0 or 1; nothing is sent otherwise.
func (c *Client) GetGame(ctx context.Context, req *GameRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return c.send(ctx, MethodGetGame, req.params())
}

// GetGameDemo returns a demo session URL
func (c *Client) GetGameDemo(ctx context.Context, req *GameDemoRequest) (string, error) {
	return c.send(ctx, MethodGetGameDemo, req.params())
}
