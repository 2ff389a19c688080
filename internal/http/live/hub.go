// README: Live session channel; partners of a walk receive each other's committed location updates.
package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wander/internal/modules/location"
	"wander/internal/observability"
	"wander/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Frame is the envelope for every message on the socket.
type Frame struct {
	Type      string          `json:"type"`
	SessionID types.ID        `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client is one socket. send is never closed; done signals the write pump
// and any late sender that the client is gone.
type Client struct {
	UserID    types.ID
	SessionID types.ID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func newClient(userID, sessionID types.ID, conn *websocket.Conn) *Client {
	return &Client{
		UserID:    userID,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// offer queues msg without blocking. It reports false only when the buffer
// is full on a live client.
func (c *Client) offer(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[types.ID]map[*Client]struct{}
	log     logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{clients: make(map[types.ID]map[*Client]struct{}), log: log}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	observability.LiveConnections.Inc()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	c.close()
	observability.LiveConnections.Dec()
}

// Broadcast sends a partner location frame to userID's sockets on sessionID.
// Slow consumers are dropped rather than blocking the caller.
func (h *Hub) Broadcast(userID, sessionID types.ID, p location.Point) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	msg, err := json.Marshal(Frame{Type: "partner_location", SessionID: sessionID, Data: data})
	if err != nil {
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		if c.SessionID != sessionID {
			continue
		}
		if !c.offer(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithFields(logrus.Fields{"user_id": c.UserID, "session_id": c.SessionID}).Warn("dropping slow live client")
		h.remove(c)
	}
}

// Connections reports how many sockets userID holds.
func (h *Hub) Connections(userID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
