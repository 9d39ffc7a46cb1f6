package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/carechat/internal/models"
)

func startView(t *testing.T, store *fakeStore, f *fakeFeed, opts ...Option) *View {
	t.Helper()
	v := NewView(Deps{Store: store, Feed: f, Uploader: &fakeUploader{}, User: testUser},
		append([]Option{WithReconnect(time.Millisecond, 1)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	go v.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-v.Done():
		case <-time.After(2 * time.Second):
			t.Error("view did not shut down")
		}
	})
	return v
}

func waitFor(t *testing.T, v *View, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(v.Current()) }, 2*time.Second, 2*time.Millisecond)
	return v.Current()
}

func liveIn(roomID string) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == StateLive && s.RoomID == roomID }
}

// openStream returns the live stream of roomID once the view holds it.
func openStream(t *testing.T, f *fakeFeed, roomID string) *fakeStream {
	t.Helper()
	var found *fakeStream
	require.Eventually(t, func() bool {
		for _, st := range f.all() {
			if st.filter.Value == roomID && !st.isClosed() {
				found = st
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return found
}

func TestViewAutoSelectsMostRecentRoom(t *testing.T) {
	store := newFakeStore(room("quiet", 10), room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	snap := waitFor(t, v, liveIn("general"))

	assert.Equal(t, []string{"1"}, ids(snap.Messages))
	require.Len(t, snap.Rooms, 2)
	assert.Equal(t, "general", snap.Rooms[0].ID)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 1, f.open())
}

func TestViewNoRooms(t *testing.T) {
	f := newFakeFeed()
	v := startView(t, newFakeStore(), f)

	time.Sleep(20 * time.Millisecond)
	snap := v.Current()
	assert.Equal(t, StateNoRoomSelected, snap.State)
	assert.Empty(t, snap.RoomID)
	assert.Empty(t, f.all())
}

func TestViewLateEarlierInsert(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	store.put(msg("2", "general", 99, "earlier?"))
	openStream(t, f, "general").insert("general", "2")

	snap := waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 2 })
	assert.Equal(t, []string{"2", "1"}, ids(snap.Messages))
	assert.Equal(t, "earlier?", snap.Messages[0].Content)
}

func TestViewFeedBeforeSnapshot(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"), msg("2", "general", 101, "there"))
	release := make(chan struct{})
	store.beforeHistory = func(string) { <-release }
	f := newFakeFeed()

	v := startView(t, store, f)
	st := openStream(t, f, "general")
	st.insert("general", "2")
	waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, StateLoadingHistory, v.Current().State)

	close(release)
	snap := waitFor(t, v, liveIn("general"))
	assert.Equal(t, []string{"1", "2"}, ids(snap.Messages))
}

func TestViewRoomSwitch(t *testing.T) {
	store := newFakeStore(room("a", 20), room("b", 10))
	store.put(msg("1", "a", 100, "in a"), msg("2", "b", 100, "in b"))
	release := make(chan struct{})
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("a"))
	streamA := openStream(t, f, "a")

	store.mu.Lock()
	store.beforeHistory = func(roomID string) {
		if roomID == "b" {
			<-release
		}
	}
	store.mu.Unlock()

	v.SelectRoom("b")
	snap := waitFor(t, v, func(s Snapshot) bool { return s.RoomID == "b" })
	assert.Equal(t, StateLoadingHistory, snap.State)
	assert.Empty(t, snap.Messages)
	assert.True(t, streamA.isClosed())

	close(release)
	snap = waitFor(t, v, liveIn("b"))
	assert.Equal(t, []string{"2"}, ids(snap.Messages))
	assert.Equal(t, 1, f.open())
}

func TestViewDiscardsStaleHistory(t *testing.T) {
	store := newFakeStore(room("a", 20), room("b", 10))
	store.put(msg("1", "a", 100, "in a"), msg("2", "b", 100, "in b"))
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	store.beforeHistory = func(roomID string) {
		if roomID == "a" {
			entered <- struct{}{}
			<-release
		}
	}
	f := newFakeFeed()

	v := startView(t, store, f)
	<-entered
	v.SelectRoom("b")
	waitFor(t, v, liveIn("b"))

	close(release)
	time.Sleep(20 * time.Millisecond)
	snap := v.Current()
	assert.Equal(t, StateLive, snap.State)
	assert.Equal(t, []string{"2"}, ids(snap.Messages))
	require.Eventually(t, func() bool { return f.open() == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestViewHistoryFailure(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.historyErr["general"] = errBackend
	f := newFakeFeed()

	v := startView(t, store, f)
	snap := waitFor(t, v, func(s Snapshot) bool { return s.State == StateError })

	require.NotNil(t, snap.Error)
	assert.Equal(t, "backend_unavailable", snap.Error.Kind)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, "general", snap.RoomID)
	require.Eventually(t, func() bool { return len(f.all()) == 1 && f.open() == 0 }, 2*time.Second, 2*time.Millisecond)

	v.DismissError()
	waitFor(t, v, func(s Snapshot) bool { return s.Error == nil })

	store.mu.Lock()
	delete(store.historyErr, "general")
	store.mu.Unlock()
	v.SelectRoom("general")
	waitFor(t, v, liveIn("general"))
	require.Eventually(t, func() bool { return f.open() == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestViewSubscribeFailure(t *testing.T) {
	store := newFakeStore(room("general", 20))
	f := newFakeFeed()
	f.setErr(errBackend)

	v := startView(t, store, f)
	snap := waitFor(t, v, func(s Snapshot) bool { return s.State == StateError })
	assert.Equal(t, "backend_unavailable", snap.Error.Kind)

	f.setErr(nil)
	v.Refresh()
	waitFor(t, v, liveIn("general"))
}

func TestViewRoomListFailure(t *testing.T) {
	store := newFakeStore(room("general", 20))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	store.mu.Lock()
	store.listRoomsErr = errBackend
	store.mu.Unlock()
	v.Refresh()

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Error != nil })
	assert.Len(t, snap.Rooms, 1)
	assert.Equal(t, "general", snap.RoomID)
}

func TestViewResyncsAfterFeedDrop(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))
	first := openStream(t, f, "general")

	store.put(msg("2", "general", 101, "while away"))
	first.drop()

	snap := waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 2 })
	assert.Equal(t, []string{"1", "2"}, ids(snap.Messages))
	assert.Equal(t, StateLive, snap.State)
	require.Eventually(t, func() bool { return len(f.all()) == 2 && f.open() == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestViewResyncsOnFeedGap(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	store.put(msg("2", "general", 101, "missed"))
	openStream(t, f, "general").resync()

	snap := waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 2 })
	assert.Equal(t, []string{"1", "2"}, ids(snap.Messages))
	assert.Len(t, f.all(), 1)
}

func TestViewRefreshKeepsTimeline(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	release := make(chan struct{})
	store.mu.Lock()
	store.beforeHistory = func(string) { <-release }
	store.mu.Unlock()
	store.put(msg("2", "general", 101, "new"))

	v.Refresh()
	require.Eventually(t, func() bool { return store.historyCount() == 2 }, 2*time.Second, 2*time.Millisecond)
	snap := v.Current()
	assert.Equal(t, StateLive, snap.State)
	assert.Equal(t, []string{"1"}, ids(snap.Messages))

	close(release)
	snap = waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 2 })
	assert.Equal(t, []string{"1", "2"}, ids(snap.Messages))
	assert.Len(t, f.all(), 1)
}

func TestViewReloadFailureKeepsTimeline(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.put(msg("1", "general", 100, "hi"))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	store.mu.Lock()
	store.historyErr["general"] = errBackend
	store.mu.Unlock()
	v.Refresh()

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Error != nil })
	assert.Equal(t, StateLive, snap.State)
	assert.Equal(t, []string{"1"}, ids(snap.Messages))
	assert.Equal(t, 1, f.open())
}

func TestViewSendSurfacesThroughFeed(t *testing.T) {
	store := newFakeStore(room("general", 20))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	v.SetText("Hello")
	waitFor(t, v, func(s Snapshot) bool { return s.Draft.Text == "Hello" })
	v.Send()

	require.Eventually(t, func() bool { return store.insertCount() == 1 }, 2*time.Second, 2*time.Millisecond)
	snap := waitFor(t, v, func(s Snapshot) bool { return s.Draft.Text == "" && !s.Sending })
	assert.Empty(t, snap.Messages)

	openStream(t, f, "general").insert("general", "1001")
	snap = waitFor(t, v, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, "Hello", snap.Messages[0].Content)
	assert.Equal(t, models.UnknownSender, snap.Messages[0].Sender.Label)
}

func TestViewSendFailureShowsBanner(t *testing.T) {
	store := newFakeStore(room("general", 20))
	store.createErr = errBackend
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	v.SetText("retry me")
	v.Send()
	snap := waitFor(t, v, func(s Snapshot) bool { return s.Error != nil })
	assert.Equal(t, "insert_failed", snap.Error.Kind)
	assert.Equal(t, "retry me", snap.Draft.Text)
	assert.Equal(t, StateLive, snap.State)
}

func TestViewEmptySendIsSilent(t *testing.T) {
	store := newFakeStore(room("general", 20))
	f := newFakeFeed()

	v := startView(t, store, f)
	waitFor(t, v, liveIn("general"))

	v.Send()
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, v.Current().Error)
	assert.Equal(t, 0, store.insertCount())
}

func TestViewAttachValidation(t *testing.T) {
	store := newFakeStore(room("general", 20))
	v := startView(t, store, newFakeFeed(), WithComposerOptions(WithMaxAttachmentBytes(2)))
	waitFor(t, v, liveIn("general"))

	assert.ErrorIs(t, v.Attach("big.bin", "application/octet-stream", []byte("abc")), ErrValidationFailed)
	require.NoError(t, v.Attach("a.png", "image/png", []byte("ab")))
	snap := waitFor(t, v, func(s Snapshot) bool { return s.Draft.Attachment != nil })
	assert.Equal(t, "a.png", snap.Draft.Attachment.Name)
	assert.Nil(t, snap.Error)

	v.CancelAttachment()
	waitFor(t, v, func(s Snapshot) bool { return s.Draft.Attachment == nil })
}

func TestViewShutdownReleasesSubscription(t *testing.T) {
	store := newFakeStore(room("general", 20))
	f := newFakeFeed()
	v := NewView(Deps{Store: store, Feed: f, Uploader: &fakeUploader{}, User: testUser})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- v.Run(ctx) }()
	waitFor(t, v, liveIn("general"))

	cancel()
	require.NoError(t, <-errc)
	<-v.Done()
	assert.Equal(t, 0, f.open())
	assert.Error(t, v.Run(context.Background()))
}

func TestViewUpdatesKeepsLatest(t *testing.T) {
	store := newFakeStore(room("general", 20))
	v := startView(t, store, newFakeFeed())
	waitFor(t, v, liveIn("general"))

	v.SetText("a")
	v.SetText("ab")
	waitFor(t, v, func(s Snapshot) bool { return s.Draft.Text == "ab" })

	// Let the run loop settle, then the buffered value is the newest one.
	time.Sleep(10 * time.Millisecond)
	select {
	case snap := <-v.Updates():
		assert.Equal(t, v.Current().Version, snap.Version)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
}
