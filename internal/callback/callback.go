// Package callback answers the provider's wallet callbacks.
//
// Every callback is authenticated with spinclient.IsValidSignature, checked
// for freshness and verbatim replays, applied to the wallet, and answered
// with one of the three spinclient envelopes. Failures never surface as
// HTTP errors; the provider only understands envelopes.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/alexbotov/spinclient/internal/limits"
	"github.com/alexbotov/spinclient/internal/wallet"
	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/rs/zerolog"
)

// Callback actions
const (
	ActionBalance  = "balance"
	ActionDebit    = "debit"
	ActionCredit   = "credit"
	ActionRollback = "rollback"
)

var (
	ErrBadSignature   = errors.New("invalid callback signature")
	ErrStaleTimestamp = errors.New("callback timestamp outside allowed window")
	ErrUnknownAction  = errors.New("unknown callback action")
	ErrBadAmount      = errors.New("amount must be an integer number of minor units")
)

// Request is an inbound callback. Amount is in minor units.
type Request struct {
	Action        string      `json:"action"`
	Username      string      `json:"username"`
	Currency      string      `json:"currency"`
	Amount        json.Number `json:"amount"`
	TransactionID string      `json:"transaction_id"`
	RoundID       string      `json:"round_id"`
	GameID        string      `json:"game_id"`
	Timestamp     json.Number `json:"timestamp"`
	Key           string      `json:"key"`

	RemoteIP string `json:"-"`
}

// Wallet is the balance store callbacks act on
type Wallet interface {
	GetBalanceByUsername(ctx context.Context, username string) (*domain.Balance, error)
	Debit(ctx context.Context, op *wallet.Operation) (*wallet.Result, error)
	Credit(ctx context.Context, op *wallet.Operation) (*wallet.Result, error)
	Rollback(ctx context.Context, op *wallet.Operation) (*wallet.Result, error)
}

// ReplayGuard remembers callback keys. Forget releases a key whose
// callback could not be settled so the provider's retry is processed.
type ReplayGuard interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Notifier is told about every balance change a callback causes
type Notifier interface {
	BalanceChanged(playerID string, balance domain.Money)
}

// Gate refuses bets while gaming, the game or the player is switched off
type Gate interface {
	CheckAccess(ctx context.Context, username, gameID string) error
}

// WagerLimiter enforces a player's own wager limits
type WagerLimiter interface {
	CheckWager(ctx context.Context, playerID string, amount int64) error
}

// Observer sees the envelope code of every answered callback
type Observer interface {
	CallbackHandled(action string, code int)
}

// Service processes callbacks
type Service struct {
	wallet   Wallet
	guard    ReplayGuard
	notifier Notifier
	gate     Gate
	limiter  WagerLimiter
	observer Observer
	audit    audit.Logger
	salt     string
	maxAge   time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// Option customises a Service
type Option func(*Service)

// WithReplayGuard flags verbatim replays. They are answered from the
// wallet's stored result.
func WithReplayGuard(g ReplayGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithNotifier publishes balance changes
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithGate refuses new debits the gate does not admit
func WithGate(g Gate) Option {
	return func(s *Service) { s.gate = g }
}

// WithWagerLimiter refuses new debits that would exceed a wager limit
func WithWagerLimiter(l WagerLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithObserver reports every answered callback to o
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithMaxAge bounds how far a callback timestamp may be from now.
// Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) { s.maxAge = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a callback service verifying signatures with salt
func New(w Wallet, auditLog audit.Logger, salt string, opts ...Option) *Service {
	s := &Service{
		wallet: w,
		audit:  auditLog,
		salt:   salt,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes req and returns the envelope to send back
func (s *Service) Handle(ctx context.Context, req *Request) spinclient.Envelope {
	env := s.handle(ctx, req)
	if s.observer != nil {
		action := req.Action
		switch action {
		case ActionBalance, ActionDebit, ActionCredit, ActionRollback:
		default:
			action = "unknown"
		}
		s.observer.CallbackHandled(action, env.Error)
	}
	return env
}

func (s *Service) handle(ctx context.Context, req *Request) spinclient.Envelope {
	log := s.log.With().
		Str("action", req.Action).
		Str("username", req.Username).
		Str("transaction_id", req.TransactionID).
		Logger()

	claimed, replayed, err := s.authenticate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("ip", req.RemoteIP).Msg("callback rejected")
		s.audit.Log(ctx, audit.EventCallbackRejected, domain.SeverityWarning, err.Error(),
			map[string]string{"action": req.Action, "username": req.Username, "transaction_id": req.TransactionID},
			audit.WithIP(req.RemoteIP))
		return spinclient.ProcessingErrorEnvelope(0)
	}

	if replayed {
		log.Warn().Msg("verbatim callback replay, answering from the wallet")
	}

	env, err := s.dispatch(ctx, req)
	if err != nil {
		s.release(ctx, claimed, log)
		log.Error().Err(err).Int("error", env.Error).Int64("balance", env.Balance).Msg("callback failed")
		if env.Error == spinclient.CodeProcessingError {
			s.audit.Log(ctx, audit.EventCallbackFailed, domain.SeverityError, err.Error(),
				map[string]string{"action": req.Action, "username": req.Username, "transaction_id": req.TransactionID},
				audit.WithIP(req.RemoteIP))
		}
		return env
	}

	log.Info().Int64("balance", env.Balance).Msg("callback processed")
	return env
}

// authenticate checks the signature and the timestamp, then records the
// callback with the replay guard. It returns the recorded key, empty when
// nothing was recorded, and whether the callback was seen before.
func (s *Service) authenticate(ctx context.Context, req *Request) (string, bool, error) {
	ts := req.Timestamp.String()
	if !spinclient.IsValidSignature(req.Key, ts, s.salt) {
		return "", false, ErrBadSignature
	}

	if s.maxAge > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return "", false, fmt.Errorf("%w: %q", ErrStaleTimestamp, ts)
		}
		age := s.now().Sub(time.Unix(sec, 0))
		if age > s.maxAge || age < -s.maxAge {
			return "", false, ErrStaleTimestamp
		}
	}

	if s.guard == nil || req.Action == ActionBalance {
		return "", false, nil
	}

	ttl := s.maxAge
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	// several callbacks can share a second and therefore a key
	replayKey := req.Action + ":" + req.TransactionID + ":" + ts + ":" + req.Key
	seen, err := s.guard.Seen(ctx, replayKey, 2*ttl)
	if err != nil {
		return "", false, err
	}
	return replayKey, seen, nil
}

// release forgets key after a failed dispatch
func (s *Service) release(ctx context.Context, key string, log zerolog.Logger) {
	if key == "" {
		return
	}
	if err := s.guard.Forget(ctx, key); err != nil {
		log.Error().Err(err).Msg("failed to release replay key")
	}
}

func (s *Service) dispatch(ctx context.Context, req *Request) (spinclient.Envelope, error) {
	switch req.Action {
	case ActionBalance:
		balance, err := s.wallet.GetBalanceByUsername(ctx, req.Username)
		if err != nil {
			return spinclient.ProcessingErrorEnvelope(0), err
		}
		return spinclient.SuccessEnvelope(balance.Amount.Amount), nil

	case ActionDebit, ActionCredit, ActionRollback:
		return s.move(ctx, req)

	default:
		return s.currentBalanceError(ctx, req.Username), fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func (s *Service) move(ctx context.Context, req *Request) (spinclient.Envelope, error) {
	op := &wallet.Operation{
		Username:     req.Username,
		Currency:     req.Currency,
		ProviderTxID: req.TransactionID,
		RoundID:      req.RoundID,
		GameID:       req.GameID,
	}

	if req.Action != ActionRollback {
		amount, err := strconv.ParseInt(req.Amount.String(), 10, 64)
		if err != nil || amount < 0 {
			return s.currentBalanceError(ctx, req.Username), fmt.Errorf("%w: %q", ErrBadAmount, req.Amount)
		}
		op.Amount = amount
	}
	if req.Action == ActionDebit {
		op.Check = s.admitBet(req, op.Amount)
	}

	var res *wallet.Result
	var err error
	switch req.Action {
	case ActionDebit:
		res, err = s.wallet.Debit(ctx, op)
	case ActionCredit:
		res, err = s.wallet.Credit(ctx, op)
	case ActionRollback:
		res, err = s.wallet.Rollback(ctx, op)
	}

	if err != nil {
		var balance int64
		if res != nil {
			balance = res.Balance.Amount
		}
		if errors.Is(err, wallet.ErrInsufficientFunds) || errors.Is(err, limits.ErrLimitExceeded) {
			return spinclient.InsufficientBalanceEnvelope(balance), err
		}
		if res == nil {
			return s.currentBalanceError(ctx, req.Username), err
		}
		return spinclient.ProcessingErrorEnvelope(balance), err
	}

	if !res.Replayed && s.notifier != nil && res.Transaction != nil {
		s.notifier.BalanceChanged(res.Transaction.PlayerID, res.Balance)
	}

	return spinclient.SuccessEnvelope(res.Balance.Amount), nil
}

// admitBet runs the gate and the wager limit for a debit the wallet has not
// seen before
func (s *Service) admitBet(req *Request, amount int64) func(context.Context, string) error {
	if s.gate == nil && s.limiter == nil {
		return nil
	}
	return func(ctx context.Context, playerID string) error {
		if s.gate != nil {
			if err := s.gate.CheckAccess(ctx, req.Username, req.GameID); err != nil {
				return err
			}
		}
		if s.limiter != nil {
			return s.limiter.CheckWager(ctx, playerID, amount)
		}
		return nil
	}
}

// currentBalanceError builds a processing error carrying the player's
// balance when it can be read
func (s *Service) currentBalanceError(ctx context.Context, username string) spinclient.Envelope {
	balance, err := s.wallet.GetBalanceByUsername(ctx, username)
	if err != nil {
		return spinclient.ProcessingErrorEnvelope(0)
	}
	return spinclient.ProcessingErrorEnvelope(balance.Amount.Amount)
}
