package chat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/umar/carechat/internal/feed"
	"github.com/umar/carechat/internal/models"
)

var errBackend = errors.New("connection refused")

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func msg(id, roomID string, ts int64, content string) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  "u1",
		Content:   content,
		Kind:      models.KindText,
		CreatedAt: at(ts),
		Sender:    models.Sender{DisplayName: "Ana", Label: "Ana"},
	}
}

// fakeStore is an in-memory Store. Hooks fire before the call returns and
// may block to hold a request in flight.
type fakeStore struct {
	mu       sync.Mutex
	rooms    []models.Room
	messages map[string]models.Message
	seq      int

	listRoomsErr error
	historyErr   map[string]error
	createErr    error
	getErr       error

	beforeHistory func(roomID string)
	beforeGet     func(id string)

	historyCalls []string
	getCalls     []string
	inserts      []models.NewMessage
}

func newFakeStore(rooms ...models.Room) *fakeStore {
	return &fakeStore{
		rooms:      rooms,
		messages:   make(map[string]models.Message),
		historyErr: make(map[string]error),
	}
}

func (s *fakeStore) put(ms ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		s.messages[m.ID] = m
	}
}

func (s *fakeStore) ListRooms(context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listRoomsErr != nil {
		return nil, s.listRoomsErr
	}
	return append([]models.Room(nil), s.rooms...), nil
}

func (s *fakeStore) ListMessages(_ context.Context, roomID string) ([]models.Message, error) {
	s.mu.Lock()
	s.historyCalls = append(s.historyCalls, roomID)
	hook := s.beforeHistory
	s.mu.Unlock()
	if hook != nil {
		hook(roomID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.historyErr[roomID]; err != nil {
		return nil, err
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	s.getCalls = append(s.getCalls, id)
	hook := s.beforeGet
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &m, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, nm models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.inserts = append(s.inserts, nm)
	s.seq++
	m := models.Message{
		ID:         strconv.Itoa(1000 + s.seq),
		RoomID:     nm.RoomID,
		SenderID:   nm.SenderID,
		Content:    nm.Content,
		Attachment: nm.Attachment,
		Kind:       nm.Kind,
		CreatedAt:  at(int64(1000 + s.seq)),
	}
	s.messages[m.ID] = m
	return &m, nil
}

func (s *fakeStore) historyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.historyCalls)
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

// fakeFeed hands out one stream per Subscribe call and records them in
// order, so tests can push events into or drop a specific stream.
type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	subbed  chan *fakeStream
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subbed: make(chan *fakeStream, 16)}
}

func (f *fakeFeed) Subscribe(_ context.Context, table string, filter feed.Filter) (feed.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := &fakeStream{
		table:  table,
		filter: filter,
		events: make(chan feed.Event, 16),
		closed: make(chan struct{}),
	}
	f.streams = append(f.streams, st)
	f.subbed <- st
	return st, nil
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) all() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

// open reports how many streams have not been closed by their consumer.
func (f *fakeFeed) open() int {
	n := 0
	for _, st := range f.all() {
		if !st.isClosed() {
			n++
		}
	}
	return n
}

type fakeStream struct {
	table  string
	filter feed.Filter
	events chan feed.Event

	once    sync.Once
	closed  chan struct{}
	dropped sync.Once
}

func (s *fakeStream) Events() <-chan feed.Event { return s.events }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.drop()
	return nil
}

// drop ends the event channel as a transport failure would.
func (s *fakeStream) drop() {
	s.dropped.Do(func() { close(s.events) })
}

func (s *fakeStream) insert(roomID, id string) {
	s.events <- feed.Event{Type: feed.EventInsert, Table: feed.TableMessages, RoomID: roomID, ID: id}
}

func (s *fakeStream) resync() {
	s.events <- feed.Event{Type: feed.EventResync, Table: feed.TableMessages}
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls int
	order *[]string
}

func (u *fakeUploader) Upload(_ context.Context, senderID, fileName string, _ []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.order != nil {
		*u.order = append(*u.order, "upload")
	}
	if u.err != nil {
		return "", u.err
	}
	return "http://files.test/files/chat-files/" + senderID + "/" + fileName, nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}
