// Package admin exposes the guard's stats and manual-override operations
// over HTTP, behind JWT bearer authentication.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"gatekeeper/guard/limiter"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds admin API settings.
type Config struct {
	Secret    string // required
	Algorithm string // HS256 (default), HS384, or HS512
	Issuer    string
	TokenTTL  time.Duration // for IssueToken; default 1h
}

// Handler serves the admin endpoints.
type Handler struct {
	svc    *limiter.Service
	cfg    Config
	method jwt.SigningMethod
}

// NewHandler validates the config and builds the handler. A missing secret
// is a construction-time error.
func NewHandler(svc *limiter.Service, cfg Config) (*Handler, error) {
	if cfg.Secret == "" {
		return nil, errors.New("admin: jwt secret is required")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("admin: unsupported algorithm " + cfg.Algorithm)
	}

	return &Handler{svc: svc, cfg: cfg, method: method}, nil
}

// Routes returns a mux with all admin endpoints mounted under /admin/.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/stats", h.auth(h.stats))
	mux.HandleFunc("GET /admin/identity", h.auth(h.identity))
	mux.HandleFunc("POST /admin/block", h.auth(h.block))
	mux.HandleFunc("POST /admin/unblock", h.auth(h.unblock))
	return mux
}

// IssueToken mints a token for operators and tests.
func (h *Handler) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    h.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.cfg.TokenTTL)),
	}
	return jwt.NewWithClaims(h.method, claims).SignedString([]byte(h.cfg.Secret))
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(raw, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method != h.method {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if h.cfg.Issuer != "" && claims.Issuer != h.cfg.Issuer {
			writeError(w, http.StatusUnauthorized, "invalid issuer")
			return
		}

		next(w, r)
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetStats())
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.IdentityInfo(id))
}

type blockRequest struct {
	Identity   string `json:"identity"`
	DurationMs int64  `json:"durationMs"`
}

func (h *Handler) block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if req.DurationMs < 0 {
		writeError(w, http.StatusBadRequest, "durationMs must not be negative")
		return
	}

	d := time.Duration(req.DurationMs) * time.Millisecond
	if err := h.svc.BlockIdentity(req.Identity, d); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "identity": req.Identity})
}

func (h *Handler) unblock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if err := h.svc.UnblockIdentity(req.Identity); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked", "identity": req.Identity})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
