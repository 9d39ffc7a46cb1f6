package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const relayPingInterval = 90 * time.Second

// Relay forwards Postgres NOTIFY payloads to a Publisher.
type Relay struct {
	listener *pq.Listener
	channel  string
	pub      Publisher
	log      *slog.Logger
}

func NewRelay(databaseURL, channel string, pub Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{channel: channel, pub: pub, log: logger}
	r.listener = pq.NewListener(databaseURL, 100*time.Millisecond, time.Minute, r.onListenerEvent)
	return r
}

func (r *Relay) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		r.log.Warn("feed relay disconnected", "error", err)
	case pq.ListenerEventReconnected:
		r.log.Info("feed relay reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		r.log.Error("feed relay connection attempt failed", "error", err)
	}
}

// Run listens until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.listener.Listen(r.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.channel, err)
	}
	defer r.listener.Close()

	ticker := time.NewTicker(relayPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n := <-r.listener.Notify:
			// nil after a reconnect; notifications sent while away are gone.
			if n == nil {
				r.resync(ctx)
				continue
			}
			r.forward(ctx, []byte(n.Extra))
		case <-ticker.C:
			go func() {
				if err := r.listener.Ping(); err != nil {
					r.log.Warn("feed relay ping failed", "error", err)
				}
			}()
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		r.log.Error("dropping notification", "error", err)
		return
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Error("failed to publish feed event", "error", err, "room_id", ev.RoomID, "id", ev.ID)
		return
	}
	r.log.Debug("feed event relayed", "room_id", ev.RoomID, "id", ev.ID)
}

// resync asks every live subscriber to re-read its room.
func (r *Relay) resync(ctx context.Context) {
	if err := r.pub.Publish(ctx, Event{Type: EventResync, Table: TableMessages}); err != nil {
		r.log.Error("failed to publish resync", "error", err)
		return
	}
	r.log.Info("feed relay requested resync")
}
