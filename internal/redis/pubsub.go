package redisc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/umar/carechat/internal/feed"
)

const healthCheckInterval = 30 * time.Second

// Publisher fans feed events out to their room channel.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, ev feed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode feed event: %w", err)
	}
	channel := feed.ChannelFor(ev)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Source opens one Redis subscription per filter.
type Source struct {
	client *redis.Client
	log    *slog.Logger
}

func NewSource(client *redis.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, log: logger}
}

// Subscribe listens on the filter's channel and on the table's resync
// channel. A reconnect of the underlying connection is reported as a resync
// event, since messages published while it was down are lost.
func (s *Source) Subscribe(ctx context.Context, table string, f feed.Filter) (feed.Stream, error) {
	channel := feed.Channel(table, f)
	ps := s.client.Subscribe(ctx, channel, feed.ResyncChannel(table))
	// Wait for both confirmations so no event published after Subscribe
	// returns is missed.
	for confirmed := 0; confirmed < 2; {
		msg, err := ps.Receive(ctx)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}

	st := &stream{
		ps:      ps,
		table:   table,
		filter:  f,
		channel: channel,
		events:  make(chan feed.Event, 64),
		done:    make(chan struct{}),
	}
	go st.pump(s.log.With("channel", channel))
	return st, nil
}

type stream struct {
	ps      *redis.PubSub
	table   string
	filter  feed.Filter
	channel string
	events  chan feed.Event
	done    chan struct{}
	once    sync.Once
}

func (st *stream) Events() <-chan feed.Event {
	return st.events
}

func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		close(st.done)
		err = st.ps.Close()
	})
	return err
}

func (st *stream) pump(log *slog.Logger) {
	defer close(st.events)

	ch := st.ps.ChannelWithSubscriptions(redis.WithChannelHealthCheckInterval(healthCheckInterval))
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := st.translate(m, log)
			if !ok {
				continue
			}
			select {
			case st.events <- ev:
			case <-st.done:
				return
			}
		case <-st.done:
			return
		}
	}
}

// translate maps a pubsub message to the event it stands for.
func (st *stream) translate(m any, log *slog.Logger) (feed.Event, bool) {
	switch m := m.(type) {
	case *redis.Subscription:
		// go-redis resubscribes after reconnecting.
		if m.Kind != "subscribe" || m.Channel != st.channel {
			return feed.Event{}, false
		}
		log.Info("pubsub resubscribed")
		return feed.Event{Type: feed.EventResync, Table: st.table}, true
	case *redis.Message:
		ev, err := feed.Decode([]byte(m.Payload))
		if err != nil {
			log.Warn("dropping pubsub payload", "error", err)
			return feed.Event{}, false
		}
		if ev.Type == feed.EventResync {
			return ev, ev.Table == st.table
		}
		return ev, ev.Matches(st.table, st.filter)
	}
	return feed.Event{}, false
}
