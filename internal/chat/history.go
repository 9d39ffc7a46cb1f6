package chat

import (
	"context"
	"slices"

	"github.com/umar/carechat/internal/models"
)

type HistoryLoader struct {
	store HistoryReader
}

func NewHistoryLoader(store HistoryReader) *HistoryLoader {
	return &HistoryLoader{store: store}
}

// Load returns the full message log of roomID, oldest first, every entry
// carrying a sender label.
func (l *HistoryLoader) Load(ctx context.Context, roomID string) ([]models.Message, error) {
	msgs, err := l.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, backendError("load history", err)
	}

	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.RoomID != roomID {
			continue
		}
		m.Sender = m.Sender.ResolveLabel()
		out = append(out, m)
	}
	slices.SortFunc(out, compareMessages)
	return out, nil
}
