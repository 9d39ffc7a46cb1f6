package chat

import (
	"context"
	"slices"

	"github.com/umar/carechat/internal/models"
)

// Directory holds the room list and the current selection.
type Directory struct {
	store    RoomLister
	rooms    []models.Room
	selected string
}

func NewDirectory(store RoomLister) *Directory {
	return &Directory{store: store}
}

// Fetch reads the room list, most recently active first. It does not touch
// the directory; see Apply.
func (d *Directory) Fetch(ctx context.Context) ([]models.Room, error) {
	rooms, err := d.store.ListRooms(ctx)
	if err != nil {
		return nil, &Error{Kind: KindBackendUnavailable, Op: "list rooms", Err: err}
	}
	rooms = slices.Clone(rooms)
	slices.SortStableFunc(rooms, func(a, b models.Room) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return rooms, nil
}

// ListRooms fetches and applies the room list. On failure the previous list
// is kept.
func (d *Directory) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := d.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if id := d.Apply(rooms); id != "" {
		d.Select(id)
	}
	return d.Rooms(), nil
}

// Apply replaces the room list. When nothing is selected yet it returns the
// id of the most recently active room for the caller to select.
func (d *Directory) Apply(rooms []models.Room) string {
	d.rooms = slices.Clone(rooms)
	if d.selected == "" && len(d.rooms) > 0 {
		return d.rooms[0].ID
	}
	return ""
}

// Select accepts any id, including rooms created after the last listing.
func (d *Directory) Select(roomID string) {
	d.selected = roomID
}

func (d *Directory) Selected() string { return d.selected }

func (d *Directory) Rooms() []models.Room {
	return slices.Clone(d.rooms)
}

func (d *Directory) Room(id string) (models.Room, bool) {
	for _, r := range d.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}
