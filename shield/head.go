package shield

import "net/http"

// HeadToGet serves HEAD requests through the GET routes so that
// /healthz and /bridge.js answer HEAD probes. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
