package spinclient

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Remote method names
const (
	MethodGetGameList      = "getGameList"
	MethodCreatePlayer     = "createPlayer"
	MethodGetFreeRounds    = "getFreeRounds"
	MethodAddFreeRounds    = "addFreeRounds"
	MethodDeleteFreeRounds = "deleteFreeRounds"
	MethodGetGame          = "getGame"
	MethodGetGameDemo      = "getGameDemo"
)

// Game list layouts accepted by getGameList
const (
	ListTypeFlat     = 0
	ListTypeDetailed = 1
)

var (
	// ErrConfig is returned by NewClient when a required setting is missing
	ErrConfig = errors.New("invalid client configuration")
	// ErrValidation is returned before any request is sent when a field is out of range
	ErrValidation = errors.New("invalid request")
)

// StatusError is returned by HTTPTransport for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

// Config holds the credentials and endpoint of the provider API
type Config struct {
	Endpoint    string
	APILogin    string
	APIPassword string
	Timeout     time.Duration
}

// Validate reports the first missing required setting
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrConfig)
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrConfig, err)
	}
	if c.APILogin == "" {
		return fmt.Errorf("%w: api login is required", ErrConfig)
	}
	if c.APIPassword == "" {
		return fmt.Errorf("%w: api password is required", ErrConfig)
	}
	return nil
}

// Params is the method-specific part of a request form
type Params map[string]any

// encode converts p into form values. Booleans are sent as "1" and "0".
func (p Params) encode(form url.Values) {
	for k, v := range p {
		switch val := v.(type) {
		case string:
			form.Set(k, val)
		case int:
			form.Set(k, strconv.Itoa(val))
		case int64:
			form.Set(k, strconv.FormatInt(val, 10))
		case bool:
			if val {
				form.Set(k, "1")
			} else {
				form.Set(k, "0")
			}
		default:
			form.Set(k, fmt.Sprint(val))
		}
	}
}

// CreatePlayerRequest registers a player on the provider side
type CreatePlayerRequest struct {
	Username string
	Password string
	Nickname string
	Currency string
}

func (r *CreatePlayerRequest) params() Params {
	return Params{
		"user_username": r.Username,
		"user_password": r.Password,
		"user_nickname": r.Nickname,
		"currency":      normalizeCurrency(r.Currency),
	}
}

// AddFreeRoundsRequest grants free spins on a game. FreeSpins and BetLevel
// are provider-defined and passed through unchecked.
type AddFreeRoundsRequest struct {
	Username  string
	Password  string
	GameID    string
	Currency  string
	FreeSpins int
	BetLevel  int
	Lang      string
}

func (r *AddFreeRoundsRequest) params() Params {
	lang := r.Lang
	if lang == "" {
		lang = "en"
	}
	return Params{
		"lang":          lang,
		"user_username": r.Username,
		"user_password": r.Password,
		"gameid":        r.GameID,
		"freespins":     r.FreeSpins,
		"bet_level":     r.BetLevel,
		"currency":      normalizeCurrency(r.Currency),
	}
}

// DeleteFreeRoundsRequest removes free rounds. An empty GameID removes
// them for every game.
type DeleteFreeRoundsRequest struct {
	Username string
	Password string
	Currency string
	GameID   string
}

func (r *DeleteFreeRoundsRequest) params() Params {
	p := Params{
		"user_username": r.Username,
		"user_password": r.Password,
		"currency":      normalizeCurrency(r.Currency),
	}
	if r.GameID != "" {
		p["gameid"] = r.GameID
	}
	return p
}

// GameRequest asks for a real-money (or fun mode) game session URL
type GameRequest struct {
	Username   string
	Password   string
	GameID     string
	Currency   string
	HomeURL    string
	CashierURL string
	PlayForFun int
	Lang       string
}

// Validate checks fields the provider only accepts in a fixed range
func (r *GameRequest) Validate() error {
	if r.PlayForFun != 0 && r.PlayForFun != 1 {
		return fmt.Errorf("%w: play_for_fun should be 0 or 1, got %d", ErrValidation, r.PlayForFun)
	}
	return nil
}

func (r *GameRequest) params() Params {
	return Params{
		"user_username": r.Username,
		"user_password": r.Password,
		"gameid":        r.GameID,
		"homeurl":       r.HomeURL,
		"cashierurl":    r.CashierURL,
		"play_for_fun":  r.PlayForFun,
		"lang":          r.Lang,
		"currency":      normalizeCurrency(r.Currency),
	}
}

// GameDemoRequest asks for a demo session URL, no player needed
type GameDemoRequest struct {
	GameID   string
	Currency string
	HomeURL  string
	Lang     string
}

func (r *GameDemoRequest) params() Params {
	return Params{
		"gameid":   r.GameID,
		"homeurl":  r.HomeURL,
		"lang":     r.Lang,
		"currency": normalizeCurrency(r.Currency),
	}
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
