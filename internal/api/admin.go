package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/control"
	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/gorilla/mux"
)

const adminTokenHeader = "X-Admin-Token"

// AdminMiddleware admits requests carrying the configured operator token
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(adminTokenHeader)
		if h.settings.AdminToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.settings.AdminToken)) != 1 {
			h.log.Warn().Str("ip", getClientIP(r)).Str("path", r.URL.Path).Msg("admin request refused")
			respondError(w, http.StatusUnauthorized, "ADMIN_UNAUTHORIZED", "Admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type switchRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

func (h *Handler) decodeSwitch(w http.ResponseWriter, r *http.Request) (*switchRequest, bool) {
	var req switchRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return nil, false
	}
	if req.By == "" {
		req.By = "admin@" + getClientIP(r)
	}
	return &req, true
}

// SystemStatus handles GET /admin/status
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// DisableGaming handles POST /admin/gaming/disable
func (h *Handler) DisableGaming(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwitch(w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "reason is required")
		return
	}
	if err := h.control.DisableAllGaming(r.Context(), req.Reason, req.By); err != nil {
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// EnableGaming handles POST /admin/gaming/enable
func (h *Handler) EnableGaming(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwitch(w, r)
	if !ok {
		return
	}
	if err := h.control.EnableAllGaming(r.Context(), req.By); err != nil {
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// DisableGame handles POST /admin/games/{id}/disable
func (h *Handler) DisableGame(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwitch(w, r)
	if !ok {
		return
	}
	if err := h.control.DisableGame(r.Context(), mux.Vars(r)["id"], req.Reason, req.By); err != nil {
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// EnableGame handles POST /admin/games/{id}/enable
func (h *Handler) EnableGame(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwitch(w, r)
	if !ok {
		return
	}
	if err := h.control.EnableGame(r.Context(), mux.Vars(r)["id"], req.By); err != nil {
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// SetPlayerStatus handles POST /admin/players/{id}/{action}, where action
// is suspend, close or activate
func (h *Handler) SetPlayerStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var status domain.PlayerStatus
	switch vars["action"] {
	case "suspend":
		status = domain.PlayerStatusSuspended
	case "close":
		status = domain.PlayerStatusClosed
	case "activate":
		status = domain.PlayerStatusActive
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		return
	}

	req, ok := h.decodeSwitch(w, r)
	if !ok {
		return
	}

	if err := h.control.SetPlayerStatus(r.Context(), vars["id"], status, req.Reason, req.By); err != nil {
		if errors.Is(err, control.ErrPlayerNotFound) {
			respondError(w, http.StatusNotFound, "PLAYER_NOT_FOUND", "Player not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"player_id": vars["id"],
		"status":    status,
	})
}

// AuditEvents handles GET /admin/audit?player_id=&type=&since=&limit=
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &audit.EventFilter{
		PlayerID: q.Get("player_id"),
		Type:     q.Get("type"),
	}
	if since := q.Get("since"); since != "" {
		from, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be RFC3339")
			return
		}
		filter.From = from
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	events, err := h.trail.GetEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AUDIT_ERROR", "Failed to read audit events")
		return
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}
