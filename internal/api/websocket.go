package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/spinclient/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsClient is one balance subscriber
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	playerID string

	mu     sync.Mutex
	closed bool
}

// enqueue queues msg unless the client is gone or too slow
func (c *wsClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans balance changes out to the websocket clients of each player.
// It implements callback.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	log     zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		log:     log,
	}
}

// BalanceChanged pushes the new balance to every connection of playerID
func (h *Hub) BalanceChanged(playerID string, balance domain.Money) {
	msg, err := encodeMessage("balance", balanceView(balance))
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[playerID] {
		if !c.enqueue(msg) {
			h.log.Debug().Str("player_id", playerID).Msg("dropped balance update for slow client")
		}
	}
}

// Subscribers returns the number of open connections for playerID
func (h *Hub) Subscribers(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[playerID])
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.playerID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.playerID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	set := h.clients[c.playerID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.playerID)
	}
	h.mu.Unlock()
	c.close()
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
}

// HandleBalanceSocket handles GET /api/v1/ws/balance. The current balance
// is sent on connect and again after every change.
func (h *Handler) HandleBalanceSocket(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	balance, err := h.wallet.GetBalance(r.Context(), player.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "BALANCE_ERROR", "Failed to get balance")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, 16),
		playerID: player.ID,
	}
	h.hub.register(client)

	if msg, err := encodeMessage("balance", balanceView(balance.Amount)); err == nil {
		client.enqueue(msg)
	}

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump answers client requests until the connection drops
func (h *Handler) readPump(c *wsClient) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("player_id", c.playerID).Msg("websocket closed")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}

		switch msg.Type {
		case "balance":
			balance, err := h.wallet.GetBalance(context.Background(), c.playerID)
			if err != nil {
				h.sendError(c, "BALANCE_ERROR", "Failed to get balance")
				continue
			}
			h.sendMessage(c, "balance", balanceView(balance.Amount))
		case "ping":
			h.sendMessage(c, "pong", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})
		default:
			h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
		}
	}
}

func (h *Handler) sendMessage(c *wsClient, msgType string, payload interface{}) {
	msg, err := encodeMessage(msgType, payload)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (h *Handler) sendError(c *wsClient, code, message string) {
	h.sendMessage(c, "error", map[string]string{
		"code":    code,
		"message": message,
	})
}
