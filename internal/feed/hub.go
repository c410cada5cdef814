// Package feed streams ledger events to display collaborators over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Message is the JSON frame sent for each ledger event.
type Message struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	ParticipantID string    `json:"participant_id"`
	InvestmentID  string    `json:"investment_id,omitempty"`
	ReferenceID   string    `json:"reference_id"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Client is one connected subscriber. An empty ParticipantID receives every event.
type Client struct {
	ParticipantID string

	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: l.With().Str("component", "feed").Logger(),
	}
}

// Run starts the hub's event loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			observability.SetFeedClients(n)
		case client := <-h.unregister:
			h.remove(client)
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			observability.SetFeedClients(0)
			close(h.done)
			return
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends events to every matching client. Slow clients whose buffer
// is full are dropped.
func (h *Hub) Publish(_ context.Context, events []*domain.LedgerEvent) error {
	var slow []*Client

	h.mu.RLock()
	for _, e := range events {
		frame, err := json.Marshal(toMessage(e))
		if err != nil {
			h.mu.RUnlock()
			return err
		}
		for client := range h.clients {
			if client.ParticipantID != "" && client.ParticipantID != e.ParticipantID {
				continue
			}
			select {
			case client.send <- frame:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn().Str("participant_id", client.ParticipantID).Msg("dropping slow feed client")
		h.remove(client)
	}
	return nil
}

// ServeHTTP upgrades the connection and subscribes it.
// ?participant_id= limits the stream to one participant.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ParticipantID: r.URL.Query().Get("participant_id"),
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetFeedClients(n)
}

// readPump drains control frames and unregisters on close.
func (h *Hub) readPump(c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toMessage(e *domain.LedgerEvent) Message {
	return Message{
		EventID:       e.EventID,
		Type:          string(e.Type),
		ParticipantID: e.ParticipantID,
		InvestmentID:  e.InvestmentID,
		ReferenceID:   e.ReferenceID,
		Amount:        e.Amount.StringFixed(2),
		Status:        e.Status,
		Detail:        e.Detail,
		OccurredAt:    e.OccurredAt,
	}
}
