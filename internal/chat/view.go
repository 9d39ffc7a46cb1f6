package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/umar/carechat/internal/feed"
	"github.com/umar/carechat/internal/models"
)

type State string

const (
	StateNoRoomSelected State = "no_room_selected"
	StateLoadingHistory State = "loading_history"
	StateLive           State = "live"
	StateError          State = "error"
)

// Banner is a dismissible error shown to the viewer.
type Banner struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is an immutable copy of the view state.
type Snapshot struct {
	Version  uint64           `json:"version"`
	State    State            `json:"state"`
	Rooms    []models.Room    `json:"rooms"`
	RoomID   string           `json:"room_id,omitempty"`
	Messages []models.Message `json:"messages"`
	Draft    Draft            `json:"draft"`
	Sending  bool             `json:"sending"`
	Error    *Banner          `json:"error,omitempty"`
}

// Deps are the backends a View reads from and writes to.
type Deps struct {
	Store    Store
	Feed     feed.Source
	Uploader AttachmentUploader
	User     models.User
}

type Option func(*viewConfig)

type viewConfig struct {
	log         *slog.Logger
	composer    []ComposerOption
	reconnect   time.Duration
	reconnectN  int
	inboxBuffer int
}

func WithLogger(l *slog.Logger) Option {
	return func(c *viewConfig) { c.log = l }
}

func WithComposerOptions(opts ...ComposerOption) Option {
	return func(c *viewConfig) { c.composer = append(c.composer, opts...) }
}

// WithReconnect sets the pacing of live feed resubscription.
func WithReconnect(every time.Duration, burst int) Option {
	return func(c *viewConfig) {
		c.reconnect = every
		c.reconnectN = burst
	}
}

// View is the chat state machine for one viewer. All state is owned by the
// goroutine running Run; backend calls run on their own goroutines and post
// their results back to the inbox, where stale results are dropped.
type View struct {
	dir      *Directory
	history  *HistoryLoader
	composer *Composer
	timeline *Timeline
	source   feed.Source
	resolver MessageResolver
	cfg      viewConfig
	log      *slog.Logger

	inbox   chan event
	updates chan Snapshot
	latest  atomic.Pointer[Snapshot]
	done    chan struct{}
	started atomic.Bool

	// run loop state
	ctx          context.Context
	tasks        sync.WaitGroup
	state        State
	banner       *Banner
	gen          uint64
	sub          *Subscription
	historyReady bool
	version      uint64
}

func NewView(deps Deps, opts ...Option) *View {
	cfg := viewConfig{
		log:         slog.Default(),
		reconnect:   time.Second,
		reconnectN:  1,
		inboxBuffer: 256,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := &View{
		dir:      NewDirectory(deps.Store),
		history:  NewHistoryLoader(deps.Store),
		composer: NewComposer(deps.User, deps.Store, deps.Uploader, cfg.composer...),
		timeline: NewTimeline(),
		source:   deps.Feed,
		resolver: deps.Store,
		cfg:      cfg,
		log:      cfg.log.With("user_id", deps.User.ID),
		inbox:    make(chan event, cfg.inboxBuffer),
		updates:  make(chan Snapshot, 1),
		done:     make(chan struct{}),
		state:    StateNoRoomSelected,
	}
	v.latest.Store(&Snapshot{State: StateNoRoomSelected, Rooms: []models.Room{}, Messages: []models.Message{}})
	return v
}

type event any

type (
	cmdRefresh     struct{}
	cmdSelect      struct{ roomID string }
	cmdSend        struct{}
	cmdDismiss     struct{}
	cmdDraftChange struct{}

	roomsLoaded struct {
		rooms []models.Room
		err   error
	}
	historyLoaded struct {
		roomID string
		gen    uint64
		msgs   []models.Message
		err    error
		resync bool
	}
	resyncRequested struct {
		roomID string
		gen    uint64
	}
	subscribed struct {
		roomID string
		gen    uint64
		sub    *Subscription
		err    error
	}
	liveMessage struct {
		roomID string
		gen    uint64
		msg    models.Message
	}
	sendFinished struct{ err error }
)

// Run drives the view until ctx is done. It lists rooms on start and
// tears down the live subscription before returning. Run may be called once.
func (v *View) Run(ctx context.Context) error {
	if !v.started.CompareAndSwap(false, true) {
		return errors.New("view already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	v.ctx = ctx
	defer func() {
		cancel()
		v.teardown()
	}()

	v.refreshRooms()
	v.publish()

	for {
		select {
		case ev := <-v.inbox:
			v.handle(ev)
			v.publish()
		case <-ctx.Done():
			return nil
		}
	}
}

// Updates delivers snapshots; a slow reader only sees the most recent one.
func (v *View) Updates() <-chan Snapshot { return v.updates }

// Current returns the latest published snapshot.
func (v *View) Current() Snapshot { return *v.latest.Load() }

// Done is closed once Run has returned and all resources are released.
func (v *View) Done() <-chan struct{} { return v.done }

func (v *View) Refresh()             { v.post(cmdRefresh{}) }
func (v *View) SelectRoom(id string) { v.post(cmdSelect{roomID: id}) }
func (v *View) Send()                { v.post(cmdSend{}) }
func (v *View) DismissError()        { v.post(cmdDismiss{}) }

func (v *View) SetText(text string) {
	v.composer.SetText(text)
	v.post(cmdDraftChange{})
}

// Attach replaces the pending attachment. Validation errors are returned
// to the caller and never shown as a banner.
func (v *View) Attach(name, contentType string, data []byte) error {
	if err := v.composer.Attach(name, contentType, data); err != nil {
		return err
	}
	v.post(cmdDraftChange{})
	return nil
}

func (v *View) CancelAttachment() {
	v.composer.CancelAttachment()
	v.post(cmdDraftChange{})
}

func (v *View) post(ev event) {
	select {
	case v.inbox <- ev:
	case <-v.done:
	}
}

// emit posts a task result; it gives up when ctx or the view is done.
func (v *View) emit(ctx context.Context, ev event) bool {
	if ctx.Err() != nil || v.ctx.Err() != nil {
		return false
	}
	select {
	case v.inbox <- ev:
		return true
	case <-ctx.Done():
	case <-v.ctx.Done():
	}
	return false
}

func (v *View) spawn(fn func(ctx context.Context)) {
	v.tasks.Add(1)
	go func() {
		defer v.tasks.Done()
		fn(v.ctx)
	}()
}

func (v *View) handle(ev event) {
	switch ev := ev.(type) {
	case cmdRefresh:
		v.refreshRooms()
		switch id := v.dir.Selected(); {
		case id == "":
		case v.state == StateError:
			v.selectRoom(id)
		default:
			v.reload(id, v.gen)
		}
	case cmdSelect:
		v.selectRoom(ev.roomID)
	case cmdSend:
		v.send()
	case cmdDismiss:
		v.banner = nil
	case cmdDraftChange:
	case roomsLoaded:
		v.onRooms(ev)
	case historyLoaded:
		v.onHistory(ev)
	case subscribed:
		v.onSubscribed(ev)
	case liveMessage:
		v.onLive(ev)
	case resyncRequested:
		v.onResync(ev)
	case sendFinished:
		v.onSendFinished(ev)
	default:
		v.log.Warn("unknown view event", "event", ev)
	}
}

func (v *View) refreshRooms() {
	v.spawn(func(ctx context.Context) {
		rooms, err := v.dir.Fetch(ctx)
		v.emit(ctx, roomsLoaded{rooms: rooms, err: err})
	})
}

func (v *View) onRooms(ev roomsLoaded) {
	if ev.err != nil {
		v.log.Error("failed to list rooms", "error", ev.err)
		v.setBanner(ev.err)
		return
	}
	if id := v.dir.Apply(ev.rooms); id != "" {
		v.selectRoom(id)
	}
}

// selectRoom tears down the current subscription, discards the previous
// room's messages and starts the snapshot load and the live feed of roomID.
func (v *View) selectRoom(roomID string) {
	if roomID == "" {
		return
	}
	v.closeSubscription()
	v.gen++
	v.dir.Select(roomID)
	v.timeline.Reset()
	v.historyReady = false
	v.state = StateLoadingHistory

	gen := v.gen
	v.spawn(func(ctx context.Context) {
		sub, err := Subscribe(ctx, v.source, v.resolver, roomID, v.deliverTo(roomID, gen),
			WithReconnectRate(v.cfg.reconnect, v.cfg.reconnectN),
			WithResync(func(ctx context.Context) {
				v.emit(ctx, resyncRequested{roomID: roomID, gen: gen})
			}),
			WithSubscriptionLogger(v.log))
		if !v.emit(ctx, subscribed{roomID: roomID, gen: gen, sub: sub, err: err}) && sub != nil {
			sub.Close()
		}
	})
	v.spawn(func(ctx context.Context) {
		msgs, err := v.history.Load(ctx, roomID)
		v.emit(ctx, historyLoaded{roomID: roomID, gen: gen, msgs: msgs, err: err})
	})
}

// reload re-reads the snapshot of the selected room and merges it into the
// timeline without clearing it.
func (v *View) reload(roomID string, gen uint64) {
	v.spawn(func(ctx context.Context) {
		msgs, err := v.history.Load(ctx, roomID)
		v.emit(ctx, historyLoaded{roomID: roomID, gen: gen, msgs: msgs, err: err, resync: true})
	})
}

func (v *View) deliverTo(roomID string, gen uint64) DeliverFunc {
	return func(ctx context.Context, m models.Message) {
		v.emit(ctx, liveMessage{roomID: roomID, gen: gen, msg: m})
	}
}

// current reports whether a result for roomID/gen is still relevant. The
// check happens at completion time, not when the request was made.
func (v *View) current(roomID string, gen uint64) bool {
	return gen == v.gen && roomID == v.dir.Selected()
}

func (v *View) onSubscribed(ev subscribed) {
	if !v.current(ev.roomID, ev.gen) {
		if ev.sub != nil {
			ev.sub.Close()
		}
		return
	}
	if ev.err != nil {
		v.fail(ev.err)
		return
	}
	v.sub = ev.sub
	if v.historyReady {
		v.state = StateLive
	}
}

func (v *View) onHistory(ev historyLoaded) {
	if !v.current(ev.roomID, ev.gen) {
		v.log.Debug("discarding stale history", "room_id", ev.roomID)
		return
	}
	if ev.err != nil {
		if ev.resync {
			// The timeline and the live feed are still intact.
			v.log.Warn("failed to reload history", "error", ev.err, "room_id", ev.roomID)
			v.setBanner(ev.err)
			return
		}
		v.fail(ev.err)
		return
	}
	v.timeline.Merge(ev.msgs...)
	v.historyReady = true
	if v.sub != nil {
		v.state = StateLive
	}
}

// onResync reloads the snapshot after the feed may have lost events; the
// merge collapses anything already shown.
func (v *View) onResync(ev resyncRequested) {
	if !v.current(ev.roomID, ev.gen) || v.state == StateError {
		return
	}
	v.log.Info("resyncing room after feed gap", "room_id", ev.roomID)
	v.reload(ev.roomID, ev.gen)
}

func (v *View) onLive(ev liveMessage) {
	if !v.current(ev.roomID, ev.gen) || v.state == StateError {
		return
	}
	v.timeline.Merge(ev.msg)
}

// fail moves to StateError: no subscription, no messages, a banner. The
// selection is kept so a reselect or refresh retries.
func (v *View) fail(err error) {
	v.log.Error("room failed to load", "error", err, "room_id", v.dir.Selected())
	v.closeSubscription()
	v.gen++
	v.timeline.Reset()
	v.historyReady = false
	v.state = StateError
	v.setBanner(err)
}

func (v *View) closeSubscription() {
	if v.sub == nil {
		return
	}
	if err := v.sub.Close(); err != nil {
		v.log.Warn("failed to close subscription", "error", err, "room_id", v.sub.RoomID())
	}
	v.sub = nil
}

func (v *View) send() {
	roomID := v.dir.Selected()
	v.spawn(func(ctx context.Context) {
		err := v.composer.Send(ctx, roomID)
		v.emit(ctx, sendFinished{err: err})
	})
}

func (v *View) onSendFinished(ev sendFinished) {
	switch {
	case ev.err == nil:
	case errors.Is(ev.err, ErrValidationFailed), errors.Is(ev.err, ErrSendInProgress):
	default:
		v.log.Error("failed to send message", "error", ev.err, "room_id", v.dir.Selected())
		v.setBanner(ev.err)
	}
}

func (v *View) setBanner(err error) {
	kind := KindOf(err)
	if kind == 0 {
		kind = KindBackendUnavailable
	}
	v.banner = &Banner{Kind: kind.String(), Message: err.Error()}
}

func (v *View) publish() {
	v.version++
	snap := &Snapshot{
		Version:  v.version,
		State:    v.state,
		Rooms:    v.dir.Rooms(),
		RoomID:   v.dir.Selected(),
		Messages: v.timeline.Messages(),
		Draft:    v.composer.Draft(),
		Sending:  v.composer.Sending(),
	}
	if snap.Rooms == nil {
		snap.Rooms = []models.Room{}
	}
	if snap.Messages == nil {
		snap.Messages = []models.Message{}
	}
	if v.banner != nil {
		b := *v.banner
		snap.Error = &b
	}
	v.latest.Store(snap)

	// Single producer: drop the stale value if the reader is behind.
	select {
	case v.updates <- *snap:
	default:
		select {
		case <-v.updates:
		default:
		}
		select {
		case v.updates <- *snap:
		default:
		}
	}
}

// teardown runs after the loop has stopped and ctx is cancelled.
func (v *View) teardown() {
	v.closeSubscription()
	v.tasks.Wait()
	for {
		select {
		case ev := <-v.inbox:
			if s, ok := ev.(subscribed); ok && s.sub != nil {
				s.sub.Close()
			}
		default:
			close(v.done)
			return
		}
	}
}
