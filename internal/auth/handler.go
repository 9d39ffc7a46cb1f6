package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/umar/carechat/internal/models"
)

// ProfileWriter keeps the profile row of a verified identity current, so
// sender labels resolve for messages the user writes.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, u models.User) error
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// SyncProfile upserts u and logs instead of failing; a missing profile only
// degrades the sender label.
func SyncProfile(ctx context.Context, profiles ProfileWriter, u models.User) {
	if profiles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := profiles.UpsertProfile(ctx, u); err != nil {
		slog.Warn("failed to sync profile", "error", err, "user_id", u.ID)
	}
}

func MeHandler(profiles ProfileWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := CurrentUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		SyncProfile(r.Context(), profiles, user)
		writeJSON(w, http.StatusOK, user)
	}
}
