package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"INSERT","table":"messages","room_id":"general","id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{Type: EventInsert, Table: TableMessages, RoomID: "general", ID: "42"}, ev)

	ev, err = Decode([]byte(`{"type":"RESYNC","table":"messages"}`))
	require.NoError(t, err)
	assert.Equal(t, EventResync, ev.Type)

	_, err = Decode([]byte(`{"type":"INSERT","table":"messages","room_id":"general"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"INSERT"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	ev := Event{Type: EventInsert, Table: TableMessages, RoomID: "general", ID: "7"}

	assert.True(t, ev.Matches(TableMessages, RoomFilter("general")))
	assert.False(t, ev.Matches(TableMessages, RoomFilter("intake")))
	assert.False(t, ev.Matches("chat_rooms", RoomFilter("general")))
	assert.True(t, ev.Matches(TableMessages, Filter{Column: "id", Value: "7"}))
	assert.False(t, ev.Matches(TableMessages, Filter{Column: "user_id", Value: "7"}))
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "chat:messages:room_id:general", Channel(TableMessages, RoomFilter("general")))
	assert.Equal(t, "chat:messages:room_id:general", ChannelFor(Event{Type: EventInsert, Table: TableMessages, RoomID: "general", ID: "1"}))
	assert.Equal(t, "chat:messages:resync", ChannelFor(Event{Type: EventResync, Table: TableMessages}))
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.events = append(p.events, ev)
	return nil
}

func TestRelayForward(t *testing.T) {
	pub := &recordingPublisher{}
	r := &Relay{pub: pub, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	r.forward(context.Background(), []byte(`{"type":"INSERT","table":"messages","room_id":"general","id":"1"}`))
	r.forward(context.Background(), []byte(`{"broken":`))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "1", pub.events[0].ID)
}

func TestRelayResync(t *testing.T) {
	pub := &recordingPublisher{}
	r := &Relay{pub: pub, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	r.resync(context.Background())

	require.Len(t, pub.events, 1)
	assert.Equal(t, Event{Type: EventResync, Table: TableMessages}, pub.events[0])
}
