package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/guard/admin"
	"gatekeeper/guard/botsig"
	"gatekeeper/guard/events"
	"gatekeeper/guard/http3"
	"gatekeeper/guard/limiter"
	"gatekeeper/guard/logging"
	"gatekeeper/guard/reload"
	"gatekeeper/guard/rules"
	"gatekeeper/handlers"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		listenAddr   = flag.String("listen", ":8080", "address for protected traffic")
		adminAddr    = flag.String("admin-listen", ":9090", "address for admin API and metrics")
		rulesPath    = flag.String("rules", "./config/override_rules.json", "manual override rules file")
		sigsPath     = flag.String("signatures", "", "optional bot signatures file (JSON array)")
		window       = flag.Duration("window", time.Minute, "counting window")
		maxRequests  = flag.Int("max-requests", 100, "base quota per key per window")
		blockBase    = flag.Duration("block-base", time.Minute, "block escalation unit")
		progressive  = flag.Bool("progressive-delay", false, "slow near-quota requests before rejecting")
		http3Addr    = flag.String("http3-listen", "", "optional HTTP/3 admin address (requires cert/key)")
		http3Cert    = flag.String("http3-cert", "", "TLS certificate for the HTTP/3 admin listener")
		http3Key     = flag.String("http3-key", "", "TLS key for the HTTP/3 admin listener")
		logPath      = flag.String("log", "./logs/gatekeeper.log", "application log file")
		eventLogPath = flag.String("event-log", "./logs/guard_events.log", "attack event log file")
	)
	flag.Parse()

	logWriter := logging.SetupRotation(logging.Config{
		Enabled:  true,
		Filename: *logPath,
		Compress: true,
	})
	log.SetOutput(logging.MultiWriter(logWriter))

	eventLog, err := events.NewLogger(&events.Config{
		LogPath:       *eventLogPath,
		Enabled:       true,
		LogToConsole:  true,
		MaxSizeMB:     100,
		MaxAgeDays:    30,
		CompressOld:   true,
		FlushInterval: time.Second,
		BatchSize:     100,
	})
	if err != nil {
		log.Fatalf("event log: %v", err)
	}

	ruleStore, err := rules.NewStore(*rulesPath, true)
	if err != nil {
		log.Fatalf("override rules: %v", err)
	}

	matcher := botsig.NewMatcher()
	if *sigsPath != "" {
		if err := matcher.LoadFile(*sigsPath); err != nil {
			log.Printf("Warning: bot signatures file not loaded: %v", err)
		}
	}

	cfg := limiter.DefaultConfig()
	cfg.Window = *window
	cfg.MaxRequests = *maxRequests
	cfg.BlockBase = *blockBase
	cfg.ProgressiveDelay = *progressive
	cfg.OnLimit = func(identity, key, reason string) {
		log.Printf("limit reached: identity=%s key=%s reason=%q", identity, key, reason)
	}

	guard, err := limiter.New(cfg,
		limiter.WithSignatures(matcher),
		limiter.WithRules(ruleStore),
		limiter.WithEvents(eventLog),
	)
	if err != nil {
		log.Fatalf("guard: %v", err)
	}

	watcher, err := reload.NewManager(reload.Config{
		RulesStore:     ruleStore,
		Signatures:     matcher,
		SignaturesPath: *sigsPath,
	})
	if err != nil {
		log.Printf("Warning: hot reload unavailable: %v", err)
	}

	// Protected site
	siteMux := http.NewServeMux()
	siteMux.HandleFunc("/", handlers.Home)
	siteMux.HandleFunc("/tours", handlers.Tours)
	siteMux.HandleFunc("/go", handlers.Redirect)

	siteServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      guard.Middleware(siteMux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Admin API + metrics
	secret := os.Getenv("GATEKEEPER_JWT_SECRET")
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	if secret != "" {
		adminHandler, err := admin.NewHandler(guard, admin.Config{Secret: secret, Issuer: "gatekeeper"})
		if err != nil {
			log.Fatalf("admin: %v", err)
		}
		adminMux.Handle("/admin/", adminHandler.Routes())
	} else {
		log.Printf("GATEKEEPER_JWT_SECRET not set; admin API disabled, metrics only")
	}

	adminServer := &http.Server{
		Addr:         *adminAddr,
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var h3 *http3.Server
	if *http3Addr != "" {
		h3 = http3.NewServer(http3.Config{
			Enabled:  true,
			Addr:     *http3Addr,
			CertFile: *http3Cert,
			KeyFile:  *http3Key,
		})
		if err := h3.Start(adminMux); err != nil {
			log.Printf("Warning: HTTP/3 admin listener failed: %v", err)
		}
	}

	go func() {
		log.Printf("admin API on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server: %v", err)
		}
	}()

	go func() {
		log.Printf("gatekeeper listening on %s", *listenAddr)
		if err := siteServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = siteServer.Shutdown(ctx)
	_ = adminServer.Shutdown(ctx)
	if h3 != nil {
		_ = h3.Stop(ctx)
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	_ = guard.Close()
	_ = eventLog.Close()
	_ = ruleStore.Close()
}
