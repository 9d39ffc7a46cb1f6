// Package feed defines the change-notification feed: typed row events, the
// filter a subscription is scoped to, and the relay that forwards Postgres
// notifications onto room-scoped pubsub channels.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventInsert = "INSERT"
	// EventResync tells consumers that events may have been lost and the
	// current state must be re-read. It carries no row.
	EventResync = "RESYNC"
)

const TableMessages = "messages"

// Event is a row change. Only the identifier of the new row is carried;
// consumers re-resolve the full record.
type Event struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	RoomID string `json:"room_id"`
	ID     string `json:"id"`
}

// Filter is an equality filter on one column.
type Filter struct {
	Column string
	Value  string
}

func RoomFilter(roomID string) Filter {
	return Filter{Column: "room_id", Value: roomID}
}

// Matches reports whether the event belongs to table and satisfies f.
func (e Event) Matches(table string, f Filter) bool {
	if e.Table != table {
		return false
	}
	switch f.Column {
	case "room_id":
		return e.RoomID == f.Value
	case "id":
		return e.ID == f.Value
	}
	return false
}

// Channel names the pubsub channel for a table and filter.
func Channel(table string, f Filter) string {
	return "chat:" + table + ":" + f.Column + ":" + f.Value
}

// ResyncChannel carries resync markers for every subscriber of table.
func ResyncChannel(table string) string {
	return "chat:" + table + ":resync"
}

// ChannelFor routes an event to the channel its subscribers listen on.
func ChannelFor(ev Event) string {
	if ev.Type == EventResync {
		return ResyncChannel(ev.Table)
	}
	return Channel(ev.Table, RoomFilter(ev.RoomID))
}

func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode feed event: %w", err)
	}
	if ev.Type == "" || ev.Table == "" || (ev.ID == "" && ev.Type != EventResync) {
		return Event{}, fmt.Errorf("incomplete feed event: %s", payload)
	}
	return ev, nil
}

// Stream is a live subscription. Events is closed when the stream ends,
// either through Close or because the transport dropped.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Source opens filtered subscriptions.
type Source interface {
	Subscribe(ctx context.Context, table string, f Filter) (Stream, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
