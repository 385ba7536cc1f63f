package fingerprint

import (
	"net/http"
	"testing"
)

func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	h.Set("Accept", "text/html")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	return h
}

func TestGenerateStable(t *testing.T) {
	a := Generate("GET", browserHeaders())
	b := Generate("GET", browserHeaders())
	if a != b {
		t.Errorf("identical requests produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestGenerateSensitivity(t *testing.T) {
	base := Generate("GET", browserHeaders())

	if got := Generate("POST", browserHeaders()); got == base {
		t.Error("method change did not change the fingerprint")
	}

	h := browserHeaders()
	h.Set("Accept-Language", "de-DE")
	if got := Generate("GET", h); got == base {
		t.Error("header value change did not change the fingerprint")
	}
}

func TestGenerateIgnoresUnlistedHeaders(t *testing.T) {
	base := Generate("GET", browserHeaders())

	h := browserHeaders()
	h.Set("X-Custom-Header", "anything")
	h.Set("Cookie", "session=abc")
	if got := Generate("GET", h); got != base {
		t.Error("headers outside the fixed set changed the fingerprint")
	}
}

func TestGenerateMissingHeaders(t *testing.T) {
	// No headers at all must still produce a stable, full-length digest.
	a := Generate("GET", http.Header{})
	b := Generate("GET", http.Header{})
	if a != b || len(a) != 64 {
		t.Errorf("empty-header fingerprint unstable or malformed: %s vs %s", a, b)
	}
	if a == Generate("GET", browserHeaders()) {
		t.Error("empty headers collided with populated headers")
	}
}
