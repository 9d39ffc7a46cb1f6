package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/umar/carechat/internal/auth"
	"github.com/umar/carechat/internal/chat"
	"github.com/umar/carechat/internal/models"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Viewer is the per-connection chat state machine; *chat.View implements it.
type Viewer interface {
	Run(ctx context.Context) error
	Updates() <-chan chat.Snapshot
	Done() <-chan struct{}

	Refresh()
	SelectRoom(roomID string)
	SetText(text string)
	Attach(name, contentType string, data []byte) error
	CancelAttachment()
	Send()
	DismissError()
}

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	User    models.User
	view    Viewer
	send    chan []byte
	limiter *rate.Limiter
	log     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ServeWS authenticates the token query parameter (or a bearer header),
// upgrades the connection and starts a viewer session.
func ServeWS(hub *Hub, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = auth.BearerToken(r)
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(token, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		user := claims.User()
		auth.SyncProfile(r.Context(), hub.profiles, user)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Error("websocket upgrade failed", "error", err)
			return
		}

		client := hub.newClient(conn, user)
		if !hub.register(client) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		go client.runView()
		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) runView() {
	if err := c.view.Run(c.ctx); err != nil {
		c.log.Error("view stopped", "error", err)
	}
	c.close()
}

// close ends the session; the view and both pumps wind down from ctx.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.hub.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("ws read error", "error", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			sendError(c, "malformed frame", CodeInvalidPayload)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case snap := <-c.view.Updates():
			data, err := NewWSMessage(TypeViewState, snap)
			if err != nil {
				c.log.Error("failed to encode view state", "error", err)
				continue
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// enqueue drops the frame if the writer is backed up.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.log.Warn("dropping frame for slow client")
	}
}

func (c *Client) handleMessage(msg WSMessage) {
	if !c.limiter.Allow() {
		sendError(c, "too many commands", CodeRateLimited)
		return
	}

	switch msg.Type {
	case TypeRoomRefresh:
		c.view.Refresh()
	case TypeRoomSelect:
		var payload RoomPayload
		if !decode(c, msg.Payload, &payload) {
			return
		}
		HandleSelectRoom(c, payload)
	case TypeDraftText:
		var payload DraftTextPayload
		if !decode(c, msg.Payload, &payload) {
			return
		}
		c.view.SetText(payload.Text)
	case TypeDraftAttach:
		var payload AttachPayload
		if !decode(c, msg.Payload, &payload) {
			return
		}
		HandleAttach(c, payload)
	case TypeDraftCancelAttach:
		c.view.CancelAttachment()
	case TypeMessageSend:
		c.view.Send()
	case TypeErrorDismiss:
		c.view.DismissError()
	case TypePing:
		data, _ := NewWSMessage(TypePong, nil)
		c.enqueue(data)
	default:
		sendError(c, "unknown frame type "+msg.Type, CodeUnknownType)
	}
}

func decode(c *Client, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		sendError(c, "payload is required", CodeInvalidPayload)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		sendError(c, "invalid payload", CodeInvalidPayload)
		return false
	}
	return true
}
