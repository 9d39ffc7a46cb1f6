package handlers

import (
	"log/slog"
	"net/http"

	"github.com/umar/carechat/internal/chat"
)

// ListRooms returns every room, most recently active first.
func ListRooms(store chat.RoomLister) http.HandlerFunc {
	dir := chat.NewDirectory(store)
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := dir.Fetch(r.Context())
		if err != nil {
			slog.Error("failed to list rooms", "error", err)
			writeError(w, statusFor(err), "failed to list rooms")
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}
