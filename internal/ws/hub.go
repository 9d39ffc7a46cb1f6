package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/umar/carechat/internal/auth"
	"github.com/umar/carechat/internal/models"
	"golang.org/x/time/rate"
)

// ViewFactory builds the state machine for a newly connected user.
type ViewFactory func(user models.User) Viewer

// Hub tracks live sessions so they can be counted and shut down.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	closed  bool

	newView      ViewFactory
	profiles     auth.ProfileWriter
	readLimit    int64
	commandRate  rate.Limit
	commandBurst int
	log          *slog.Logger
}

type HubOption func(*Hub)

// WithProfiles syncs the profile row of every connecting user.
func WithProfiles(p auth.ProfileWriter) HubOption {
	return func(h *Hub) { h.profiles = p }
}

// WithReadLimit bounds a single inbound frame, attachments included.
func WithReadLimit(n int64) HubOption {
	return func(h *Hub) { h.readLimit = n }
}

func WithCommandRate(r rate.Limit, burst int) HubOption {
	return func(h *Hub) {
		h.commandRate = r
		h.commandBurst = burst
	}
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

func NewHub(newView ViewFactory, opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[*Client]struct{}),
		newView:      newView,
		readLimit:    1 << 20,
		commandRate:  20,
		commandBurst: 40,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) newClient(conn *websocket.Conn, user models.User) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:     h,
		conn:    conn,
		User:    user,
		view:    h.newView(user),
		send:    make(chan []byte, 64),
		limiter: rate.NewLimiter(h.commandRate, h.commandBurst),
		log:     h.log.With("user_id", user.ID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.cancel()
		return false
	}
	h.clients[c] = struct{}{}
	c.log.Info("client connected")
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.log.Info("client disconnected")
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every session and waits until their views have released
// their subscriptions, or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	for _, c := range clients {
		select {
		case <-c.view.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
