package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/umar/carechat/internal/feed"
	"github.com/umar/carechat/internal/models"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DeliverFunc receives resolved messages. It must return once ctx is done.
type DeliverFunc func(ctx context.Context, m models.Message)

type subscriptionConfig struct {
	reconnectEvery time.Duration
	reconnectBurst int
	resync         func(ctx context.Context)
	log            *slog.Logger
}

type SubscriptionOption func(*subscriptionConfig)

// WithReconnectRate paces resubscription attempts after a transport drop.
func WithReconnectRate(every time.Duration, burst int) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.reconnectEvery = every
		c.reconnectBurst = burst
	}
}

// WithResync is called whenever events may have been missed: after a
// resubscribe and when the feed reports a gap. It must return once ctx is
// done.
func WithResync(fn func(ctx context.Context)) SubscriptionOption {
	return func(c *subscriptionConfig) { c.resync = fn }
}

func WithSubscriptionLogger(l *slog.Logger) SubscriptionOption {
	return func(c *subscriptionConfig) { c.log = l }
}

// Subscription is a live feed handle for exactly one room. It is acquired
// by Subscribe and released by Close; after Close returns no further
// messages are delivered.
type Subscription struct {
	roomID   string
	source   feed.Source
	resolver MessageResolver
	deliver  DeliverFunc
	resync   func(ctx context.Context)
	limiter  *rate.Limiter
	group    singleflight.Group
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	stream feed.Stream
}

// Subscribe opens the insert feed for roomID. Every event is re-resolved
// through resolver before being handed to deliver, since feed events carry
// only the new row's id.
func Subscribe(ctx context.Context, source feed.Source, resolver MessageResolver, roomID string, deliver DeliverFunc, opts ...SubscriptionOption) (*Subscription, error) {
	cfg := subscriptionConfig{
		reconnectEvery: time.Second,
		reconnectBurst: 1,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := source.Subscribe(ctx, feed.TableMessages, feed.RoomFilter(roomID))
	if err != nil {
		return nil, &Error{Kind: KindBackendUnavailable, Op: "subscribe", Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		roomID:   roomID,
		source:   source,
		resolver: resolver,
		deliver:  deliver,
		resync:   cfg.resync,
		limiter:  rate.NewLimiter(rate.Every(cfg.reconnectEvery), cfg.reconnectBurst),
		log:      cfg.log.With("room_id", roomID),
		ctx:      subCtx,
		cancel:   cancel,
		stream:   st,
	}
	// The first reconnect should wait a full interval.
	s.limiter.Allow()

	s.wg.Add(1)
	go s.run(st)
	return s, nil
}

func (s *Subscription) RoomID() string { return s.roomID }

// Close tears the feed down and waits for in-flight resolutions. It is safe
// to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		st := s.stream
		s.stream = nil
		s.mu.Unlock()
		if st != nil {
			err = st.Close()
		}
		s.wg.Wait()
	})
	return err
}

func (s *Subscription) run(st feed.Stream) {
	defer s.wg.Done()

	filter := feed.RoomFilter(s.roomID)
	for {
		for ev := range st.Events() {
			if ev.Type == feed.EventResync {
				s.requestResync()
				continue
			}
			if ev.Type != feed.EventInsert || !ev.Matches(feed.TableMessages, filter) {
				continue
			}
			s.wg.Add(1)
			go s.resolve(ev.ID)
		}

		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("live feed dropped, resubscribing")
		st.Close()

		next, ok := s.resubscribe()
		if !ok {
			return
		}
		st = next
		s.requestResync()
	}
}

func (s *Subscription) requestResync() {
	if s.resync == nil || s.ctx.Err() != nil {
		return
	}
	s.resync(s.ctx)
}

func (s *Subscription) resubscribe() (feed.Stream, bool) {
	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return nil, false
		}
		st, err := s.source.Subscribe(s.ctx, feed.TableMessages, feed.RoomFilter(s.roomID))
		if err != nil {
			if s.ctx.Err() != nil {
				return nil, false
			}
			s.log.Error("resubscribe failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			st.Close()
			return nil, false
		}
		s.stream = st
		s.mu.Unlock()

		s.log.Info("live feed resubscribed")
		return st, true
	}
}

func (s *Subscription) resolve(id string) {
	defer s.wg.Done()

	// Redelivered ids resolving at the same time share one fetch.
	v, err, _ := s.group.Do(id, func() (any, error) {
		return s.resolver.GetMessage(s.ctx, id)
	})
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
		case errors.Is(err, models.ErrNotFound):
			s.log.Debug("feed event for missing message", "id", id)
		default:
			s.log.Warn("failed to resolve feed event", "error", err, "id", id)
		}
		return
	}

	resolved, _ := v.(*models.Message)
	if resolved == nil || resolved.RoomID != s.roomID {
		return
	}
	m := *resolved
	m.Sender = m.Sender.ResolveLabel()

	if s.ctx.Err() != nil {
		return
	}
	s.deliver(s.ctx, m)
}
