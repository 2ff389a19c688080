// README: Socket handler for /ws/sessions/:id (read and write pumps, location frames).
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/http/middleware"
	"wander/internal/modules/location"
	"wander/internal/modules/session"
	"wander/internal/types"
)

// Sessions is the tracking surface the socket needs.
type Sessions interface {
	Get(ctx context.Context, id, caller types.ID) (*session.Session, error)
	UpdateLocation(ctx context.Context, sessionID, caller types.ID, sample location.Sample) (*session.Session, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Handler struct {
	hub      *Hub
	sessions Sessions
	log      logrus.FieldLogger
}

func NewHandler(hub *Hub, sessions Sessions, log logrus.FieldLogger) *Handler {
	return &Handler{hub: hub, sessions: sessions, log: log}
}

// Serve upgrades GET /ws/sessions/:id for a participant of the session.
func (h *Handler) Serve(c *gin.Context) {
	caller := types.ID(middleware.CallerUID(c))
	sessionID := types.ID(c.Param("id"))
	if _, err := h.sessions.Get(c.Request.Context(), sessionID, caller); err != nil {
		status := http.StatusInternalServerError
		switch apperr.KindOf(err) {
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindForbidden:
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"success": false, "kind": apperr.KindOf(err), "message": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := newClient(caller, sessionID, conn)
	h.hub.add(client)

	go h.writePump(client)
	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("session_id", c.SessionID).Debug("live socket closed")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.reply(c, errorFrame(apperr.New(apperr.KindValidation, "malformed frame")))
			continue
		}
		switch f.Type {
		case "location":
			h.handleLocation(c, f.Data)
		case "ping":
			h.reply(c, Frame{Type: "pong"})
		default:
			h.reply(c, errorFrame(apperr.New(apperr.KindValidation, "unknown frame type")))
		}
	}
}

func (h *Handler) handleLocation(c *Client, data json.RawMessage) {
	var sample location.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		h.reply(c, errorFrame(apperr.New(apperr.KindValidation, "malformed location")))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ses, err := h.sessions.UpdateLocation(ctx, c.SessionID, c.UserID, sample)
	if err != nil {
		h.reply(c, errorFrame(err))
		return
	}
	ack, _ := json.Marshal(map[string]any{
		"totalDistanceKm": ses.TotalDistanceKm,
		"durationMinutes": ses.DurationMinutes,
	})
	h.reply(c, Frame{Type: "location_ack", SessionID: c.SessionID, Data: ack})
}

func (h *Handler) reply(c *Client, f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.offer(msg)
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func errorFrame(err error) Frame {
	kind := apperr.KindOf(err)
	msg := err.Error()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		msg = "internal error"
	}
	data, _ := json.Marshal(map[string]string{"kind": string(kind), "message": msg})
	return Frame{Type: "error", Data: data}
}
