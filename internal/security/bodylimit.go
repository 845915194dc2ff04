package security

import (
	"net/http"

	"github.com/noah-isme/backend-dompet/internal/common"
)

// BodyLimit enforces a maximum request payload size. Bodies are not
// buffered: a declared Content-Length over Max is refused up front and
// anything else is capped with http.MaxBytesReader, which handlers surface
// through common.BodyError.
type BodyLimit struct {
	Max int64
}

// Middleware rejects requests exceeding the configured limit with HTTP 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.WriteError(w, r, common.PayloadTooLarge("request body is too large"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
