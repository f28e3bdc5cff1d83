package keyquota

import "net/http"

// MaxBodySize returns middleware that limits request body size.
//
// Requests whose Content-Length exceeds maxBytes are rejected with 413 before
// the handler runs. Every other body is wrapped with http.MaxBytesReader, so
// chunked or mislabelled bodies fail inside DecodeJSON with the same 413.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				fail(w, r, ErrPayloadTooLarge.With("Request body too large"))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
