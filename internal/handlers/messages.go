package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/umar/carechat/internal/chat"
)

// GetMessages returns the full history snapshot of a room, oldest first.
func GetMessages(store chat.HistoryReader) http.HandlerFunc {
	loader := chat.NewHistoryLoader(store)
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["id"]

		messages, err := loader.Load(r.Context(), roomID)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusNotFound {
				writeError(w, status, "room not found")
				return
			}
			slog.Error("failed to get messages", "error", err, "room_id", roomID)
			writeError(w, status, "failed to load messages")
			return
		}

		writeJSON(w, http.StatusOK, messages)
	}
}
