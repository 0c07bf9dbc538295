// Package audit records significant events: rejected callbacks, balance
// movements, limit changes and operator switches. Events go to the
// audit_events table and are mirrored to the process log.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types
const (
	EventPlayerRegistered  = "player_registered"
	EventPlayerLogin       = "player_login"
	EventLoginFailed       = "login_failed"
	EventDeposit           = "deposit"
	EventDebit             = "debit"
	EventCredit            = "credit"
	EventRollback          = "rollback"
	EventCallbackRejected  = "callback_rejected"
	EventCallbackFailed    = "callback_failed"
	EventFreeRoundsChanged = "free_rounds_changed"
	EventProviderError     = "provider_error"
	EventLimitChanged      = "limit_changed"
	EventLimitExceeded     = "limit_exceeded"
	EventGamingDisabled    = "gaming_disabled"
	EventGamingEnabled     = "gaming_enabled"
	EventGameDisabled      = "game_disabled"
	EventGameEnabled       = "game_enabled"
	EventPlayerStatus      = "player_status_changed"
)

const defaultComponent = "callback-host"

// Logger is the part of Service other packages depend on
type Logger interface {
	Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error
}

// Service stores audit events
type Service struct {
	db  *sql.DB
	log zerolog.Logger
}

// Option customises a Service
type Option func(*Service)

// WithLogger mirrors every stored event to l
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates an audit service writing to db
func New(db *sql.DB, opts ...Option) *Service {
	s := &Service{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogEvent stores event, filling in its ID and timestamp when unset
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var data sql.NullString
	if len(event.Data) > 0 {
		data = sql.NullString{String: string(event.Data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, timestamp, player_id, description, data, ip_address, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.Type, event.Severity, event.Timestamp, event.PlayerID,
		event.Description, data, event.IPAddress, event.Component)

	s.mirror(event, err)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

func (s *Service) mirror(event *domain.AuditEvent, storeErr error) {
	level := zerolog.InfoLevel
	switch event.Severity {
	case domain.SeverityWarning:
		level = zerolog.WarnLevel
	case domain.SeverityError, domain.SeverityCritical:
		level = zerolog.ErrorLevel
	}
	if storeErr != nil {
		level = zerolog.ErrorLevel
	}

	e := s.log.WithLevel(level).
		Str("audit_id", event.ID).
		Str("event", event.Type).
		Str("component", event.Component)
	if event.PlayerID != nil {
		e = e.Str("player_id", *event.PlayerID)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if len(event.Data) > 0 {
		e = e.RawJSON("data", event.Data)
	}
	if storeErr != nil {
		e = e.Err(storeErr)
	}
	e.Msg(event.Description)
}

// Log builds an event and stores it
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	return s.LogEvent(ctx, NewEvent(eventType, severity, description, data, opts...))
}

// NewEvent builds an event without storing it. data is stored as JSON;
// values that do not marshal are dropped.
func NewEvent(eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) *domain.AuditEvent {
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   defaultComponent,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			event.Data = raw
		}
	}
	for _, opt := range opts {
		opt(event)
	}
	return event
}

// EventOption sets an optional event field
type EventOption func(*domain.AuditEvent)

// WithPlayer ties the event to a player
func WithPlayer(playerID string) EventOption {
	return func(e *domain.AuditEvent) { e.PlayerID = &playerID }
}

// WithIP records the remote address
func WithIP(ip string) EventOption {
	return func(e *domain.AuditEvent) { e.IPAddress = ip }
}

// WithComponent names the emitting package
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) { e.Component = component }
}

// EventFilter narrows GetEvents. Zero fields match everything.
type EventFilter struct {
	PlayerID  string
	Type      string
	Severity  domain.EventSeverity
	Component string
	From      time.Time
	Limit     int
}

const defaultEventLimit = 100

// where renders the filter as a WHERE clause with positional arguments
func (f *EventFilter) where() (string, []interface{}) {
	if f == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}

	if f.PlayerID != "" {
		add("player_id =", f.PlayerID)
	}
	if f.Type != "" {
		add("type =", f.Type)
	}
	if f.Severity != "" {
		add("severity =", f.Severity)
	}
	if f.Component != "" {
		add("component =", f.Component)
	}
	if !f.From.IsZero() {
		add("timestamp >=", f.From)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// GetEvents returns matching events, newest first
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error) {
	where, args := filter.where()

	limit := defaultEventLimit
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, timestamp, player_id, description, data, ip_address, component
		FROM audit_events`+where+`
		ORDER BY timestamp DESC LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var (
			event    domain.AuditEvent
			playerID sql.NullString
			data     sql.NullString
			ip       sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&playerID, &event.Description, &data, &ip, &event.Component); err != nil {
			return nil, err
		}
		if playerID.Valid {
			event.PlayerID = &playerID.String
		}
		if data.String != "" {
			event.Data = json.RawMessage(data.String)
		}
		event.IPAddress = ip.String
		events = append(events, &event)
	}

	return events, rows.Err()
}
