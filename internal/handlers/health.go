package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/umar/carechat/internal/chat"
	"github.com/umar/carechat/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a chat or storage error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports database reachability and the number of live sessions.
func Health(db Pinger, sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{
			"status":  "healthy",
			"service": "carechat",
		}
		if sessions != nil {
			body["sessions"] = sessions()
		}
		status := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	}
}
