// Package chat keeps a viewer's conversation in sync: the room directory,
// history snapshots, the live feed, the composer, and the View that
// reconciles them into one ordered message log.
package chat

import (
	"context"

	"github.com/umar/carechat/internal/models"
)

type RoomLister interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
}

type HistoryReader interface {
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
}

// MessageResolver fetches one message joined with its sender profile.
type MessageResolver interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

type MessageWriter interface {
	CreateMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)
}

// Store is everything a View needs from the relational backend.
type Store interface {
	RoomLister
	HistoryReader
	MessageResolver
	MessageWriter
}
