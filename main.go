package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/config"
	"github.com/gluk-w/claworc/shellrelay/internal/database"
	"github.com/gluk-w/claworc/shellrelay/internal/dispatcher"
	"github.com/gluk-w/claworc/shellrelay/internal/handlers"
	"github.com/gluk-w/claworc/shellrelay/internal/logging"
	"github.com/gluk-w/claworc/shellrelay/internal/middleware"
	"github.com/gluk-w/claworc/shellrelay/internal/notify"
	"github.com/gluk-w/claworc/shellrelay/internal/policy"
	"github.com/gluk-w/claworc/shellrelay/internal/procsession"
	"github.com/gluk-w/claworc/shellrelay/internal/recording"
	"github.com/gluk-w/claworc/shellrelay/internal/runner"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	cfg := config.Cfg
	auditor := audit.NewAuditor(database.DB, cfg.AuditRetentionDays)
	handlers.AuditLog = auditor

	store := session.NewStore(session.Config{
		IdleTimeout: cfg.SessionIdleTimeout,
		KillGrace:   cfg.KillGrace,
		OnEnd:       auditSessionEnd(auditor),
	})
	handlers.Sessions = store

	// Outbound: every notification goes to the websocket hub and the log,
	// plus the webhook when one is configured.
	hub := notify.NewHub()
	handlers.Hub = hub
	sinks := notify.Multi{hub, notify.LogNotifier{}}
	if cfg.NotifyURL != "" {
		sinks = append(sinks, &notify.Webhook{URL: cfg.NotifyURL, Client: &http.Client{Timeout: cfg.NotifyTimeout}})
	}
	sender := notify.NewSender(sinks, cfg.NotifyTimeout)
	handlers.Outbox = sender

	var recordings *recording.Store
	if cfg.RecordingDir != "" {
		key := cfg.RecordingKey
		if key == "" {
			var err error
			if key, err = recording.LoadOrCreateKey(); err != nil {
				log.Fatalf("Recording key: %v", err)
			}
		}
		rs, err := recording.NewStore(cfg.RecordingDir, key)
		if err != nil {
			log.Fatalf("Recording store: %v", err)
		}
		recordings = rs
		log.Printf("Session recordings enabled in %s (encrypted=%v)", cfg.RecordingDir, rs.Encrypted())
	}

	pol := policy.New(cfg.DenyList, cfg.InteractivePrefixes)
	ctrl := procsession.New(procsession.Options{
		Store:      store,
		Spawner:    &procsession.ExecSpawner{Shell: cfg.Shell, WorkDir: cfg.WorkDir},
		Outbound:   sender,
		Audit:      auditor,
		Recordings: recordings,
	}, procsession.Config{
		DebounceWindow:     cfg.DebounceWindow,
		NoOutputGrace:      cfg.NoOutputGrace,
		StillRunningGrace:  cfg.StillRunningGrace,
		LoginHardTimeout:   cfg.LoginHardTimeout,
		InteractiveTimeout: cfg.InteractiveTimeout,
		KillGrace:          cfg.KillGrace,
		MaxOutputBytes:     cfg.MaxOutputBytes,
		PipeInteractive:    cfg.InteractivePipes,
	})
	handlers.Controller = ctrl

	handlers.Dispatch = dispatcher.New(dispatcher.Options{
		Store:    store,
		Sessions: ctrl,
		Runner: runner.New(runner.Config{
			Shell:     cfg.Shell,
			WorkDir:   cfg.WorkDir,
			Timeout:   cfg.OneShotTimeout,
			KillGrace: cfg.KillGrace,
		}),
		Policy:         pol,
		Audit:          auditor,
		Sender:         sender,
		CommandMarker:  cfg.CommandMarker,
		MaxOutputBytes: cfg.MaxOutputBytes,
	})
	handlers.Callers = middleware.NewCallerList(cfg.AuthorizedCallers)
	handlers.Limiter = middleware.NewRateLimiter(cfg.MessageRateLimit, cfg.MessageRateBurst)
	handlers.AsyncReplies = strings.EqualFold(cfg.ReplyMode, "async")

	log.Printf("Config: listen=%s reply_mode=%s deny_list=%d tokens idle_timeout=%s debounce=%s",
		cfg.ListenAddr, cfg.ReplyMode, len(pol.DenyList()), cfg.SessionIdleTimeout, cfg.DebounceWindow)
	if cfg.APIToken == "" {
		log.Printf("WARNING: SHELLRELAY_API_TOKEN is not set; the API is unauthenticated")
	}

	scheduler, err := startJobs(store, auditor, cfg.SweepInterval)
	if err != nil {
		log.Fatalf("Jobs: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(cfg.APIToken))

		r.Post("/messages", handlers.PostMessage)
		r.Get("/stream", handlers.StreamNotifications)

		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions/{caller}", handlers.EndSession)
		r.Get("/sessions/{caller}/events", handlers.GetSessionEvents)
		r.Get("/sessions/{caller}/output", handlers.GetSessionOutput)

		r.Get("/audit", handlers.GetAuditLogs)
		r.Post("/audit/purge", handlers.PurgeAuditLogs)
		r.Get("/logs", handlers.GetServerLogs)
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	store.CloseAll()
	if err := sender.Flush(shutdownCtx); err != nil {
		log.Printf("Notification flush: %v", err)
	}
	log.Println("Server stopped")
}
