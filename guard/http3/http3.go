// Package http3 serves the admin API over HTTP/3 for deployments whose
// operator tooling sits behind QUIC-only ingress.
package http3

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Config holds HTTP/3 listener settings.
type Config struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	MaxStreams  int64  `json:"max_streams"`
	IdleTimeout int    `json:"idle_timeout"`
}

// Server wraps an http3.Server with lifecycle management.
type Server struct {
	config     Config
	server     *http3.Server
	quicConfig *quic.Config
	mu         sync.Mutex
	running    bool
}

// NewServer builds a server; defaults are filled for zero values.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8443"
	}
	if cfg.MaxStreams == 0 {
		cfg.MaxStreams = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30
	}

	return &Server{
		config: cfg,
		quicConfig: &quic.Config{
			MaxIncomingStreams: cfg.MaxStreams,
			MaxIdleTimeout:     time.Duration(cfg.IdleTimeout) * time.Second,
			KeepAlivePeriod:    15 * time.Second,
		},
	}
}

// Start begins serving the handler over HTTP/3. Returns immediately; serve
// errors are logged.
func (s *Server) Start(handler http.Handler) error {
	if !s.config.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return err
	}

	s.server = &http3.Server{
		Addr:    s.config.Addr,
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{"h3"},
		},
		QUICConfig: s.quicConfig,
	}
	s.running = true

	go func() {
		log.Printf("[HTTP/3] admin listener on %s", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[HTTP/3] serve error: %v", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	return nil
}

// Stop closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.running = false
	return err
}
