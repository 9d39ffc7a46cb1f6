package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/umar/carechat/internal/storage"
)

type ObjectReader interface {
	Get(ctx context.Context, bucket, key string) (*storage.Object, error)
}

// ServeFile streams an attachment from the attachment bucket; other buckets
// are reported as not found. Keys are immutable, so responses are cacheable
// forever.
func ServeFile(objects ObjectReader, attachmentBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		bucket, key := vars["bucket"], vars["key"]
		if bucket != attachmentBucket {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		obj, err := objects.Get(r.Context(), bucket, key)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusNotFound {
				writeError(w, status, "file not found")
				return
			}
			slog.Error("failed to read file", "error", err, "bucket", bucket, "key", key)
			writeError(w, status, "failed to read file")
			return
		}

		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		w.Write(obj.Data)
	}
}
