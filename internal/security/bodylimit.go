package security

import (
	"errors"
	"net/http"

	"github.com/sarfarazstark/audiophile/internal/common"
)

// BodyLimit caps request payload sizes. Callback and checkout bodies are
// small; an oversized payload is either a mistake or abuse.
type BodyLimit struct {
	Max int64
}

// Middleware rejects requests whose body exceeds the limit with HTTP 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

// IsBodyTooLarge reports whether a read error came from the body limit.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
