package shield

import (
	"mime"
	"net/http"
)

// MaxJSONBody returns middleware that limits the body size of JSON
// requests. A declared Content-Length above the limit is refused with 413
// before reading; otherwise the body is wrapped in http.MaxBytesReader.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if mt == "application/json" {
				if r.ContentLength > maxBytes {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
