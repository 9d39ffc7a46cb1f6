package chat

import (
	"cmp"
	"slices"

	"github.com/umar/carechat/internal/models"
)

// Timeline is the ordered, de-duplicated message log of the selected room.
// It is not safe for concurrent use; the View's run loop is its only writer.
type Timeline struct {
	messages []models.Message
	index    map[string]int
}

func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Merge inserts candidates, replacing any entry with the same id, and
// restores (created_at, id) order. It reports whether anything changed.
func (t *Timeline) Merge(candidates ...models.Message) bool {
	changed := false
	for _, m := range candidates {
		if i, ok := t.index[m.ID]; ok {
			if !sameMessage(t.messages[i], m) {
				t.messages[i] = m
				changed = true
			}
			continue
		}
		t.index[m.ID] = len(t.messages)
		t.messages = append(t.messages, m)
		changed = true
	}
	if changed {
		t.sort()
	}
	return changed
}

func (t *Timeline) sort() {
	slices.SortFunc(t.messages, compareMessages)
	for i, m := range t.messages {
		t.index[m.ID] = i
	}
}

func (t *Timeline) Reset() {
	t.messages = nil
	clear(t.index)
}

func (t *Timeline) Len() int { return len(t.messages) }

// Messages returns a copy in display order.
func (t *Timeline) Messages() []models.Message {
	return slices.Clone(t.messages)
}

func compareMessages(a, b models.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

// compareIDs orders shorter ids first, which is numeric order for the
// store's decimal ids and still total for any other opaque id.
func compareIDs(a, b string) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

func sameMessage(a, b models.Message) bool {
	if a.Attachment != nil && b.Attachment != nil {
		if *a.Attachment != *b.Attachment {
			return false
		}
	} else if a.Attachment != b.Attachment {
		return false
	}
	return a.ID == b.ID && a.RoomID == b.RoomID && a.SenderID == b.SenderID &&
		a.Content == b.Content && a.Kind == b.Kind &&
		a.CreatedAt.Equal(b.CreatedAt) && a.Sender == b.Sender
}
