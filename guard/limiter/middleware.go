package limiter

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// FromHTTP adapts a net/http request to the guard's request view.
func FromHTTP(r *http.Request) *RequestInfo {
	path := ""
	if r.URL != nil {
		path = r.URL.Path
	}
	return &RequestInfo{
		RemoteAddr: r.RemoteAddr,
		Path:       path,
		Method:     r.Method,
		Headers:    r.Header,
	}
}

// Middleware wraps a handler with the admission check. Limited requests get
// 429 with Retry-After and a JSON body; admitted ones carry
// X-RateLimit-Remaining.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.Check(r.Context(), FromHTTP(r))

		if d.Limited {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":      "too_many_requests",
				"message":    d.Reason,
				"retryAfter": retry,
			})
			return
		}

		if d.Remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}
