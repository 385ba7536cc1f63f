// Package fingerprint derives a stable hash from the shape of a request's
// headers. Two requests with identical header shapes collapse to the same
// fingerprint even across addresses, which is what lets the quota layer spot
// one client rotating through many IPs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// headerOrder is fixed; changing it changes every fingerprint.
var headerOrder = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Connection",
}

// Generate hashes the method plus the pipe-joined header values. Missing
// headers contribute empty strings so the digest length never varies.
func Generate(method string, h http.Header) string {
	components := make([]string, 0, len(headerOrder)+1)
	components = append(components, method)
	for _, name := range headerOrder {
		components = append(components, h.Get(name))
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}
