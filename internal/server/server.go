package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/envelope"
	"github.com/fleetdeck/fleetdeck/internal/fleet"
	"github.com/fleetdeck/fleetdeck/internal/store"
)

// Server wires the registry, hub, router and HTTP API together.
type Server struct {
	cfg *Config
	log zerolog.Logger

	registry    *fleet.Registry
	store       *store.Store
	saver       *store.Saver
	audit       *store.AuditLog
	hub         *Hub
	broadcaster *Broadcaster
	router      *Router
	auth        *AuthService

	fleetCodec *envelope.Codec
	plainCodec *envelope.Codec
	upgrader   websocket.Upgrader

	httpServer *http.Server
	bgStop     context.CancelFunc
	bgDone     []chan struct{}
}

// New builds a server from config: opens the database, restores the
// last fleet checkpoint into the registry and wires the commit hook to
// the broadcaster and the async saver.
func New(cfg *Config, log zerolog.Logger) (*Server, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		log:        log.With().Str("component", "server").Logger(),
		store:      st,
		plainCodec: envelope.NewPlaintext(),
	}

	if cfg.FleetSecret != "" {
		s.fleetCodec, err = envelope.New(cfg.FleetSecret)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else {
		s.fleetCodec = s.plainCodec
		s.log.Warn().Msg("FLEETDECK_FLEET_SECRET not set, agent frames are plaintext")
	}

	s.registry = fleet.NewRegistry(log)
	records, err := st.Load()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	s.registry.Seed(records)
	if len(records) > 0 {
		s.log.Info().Int("agents", len(records)).Msg("restored fleet checkpoint")
	}

	s.saver = store.NewSaver(st, s.registry.Records, log)
	s.audit = store.NewAuditLog(st, log)
	s.broadcaster = NewBroadcaster(log)
	s.hub = NewHub(log, s.registry, s.broadcaster)
	s.router = NewRouter(log, s.registry, s.hub, s.audit)
	s.hub.SetRouter(s.router)
	s.auth = NewAuthService(cfg, st.DB())
	s.upgrader = s.newUpgrader()

	// Every committed mutation fans out in commit order and schedules
	// a checkpoint. Both calls are non-blocking.
	s.registry.OnCommit(func(snap fleet.Snapshot) {
		s.broadcaster.Publish(snap)
		s.saver.Kick()
	})

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/logout", s.handleLogout)
		r.Get("/api/agents", s.handleAgents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCSRF)
			r.Post("/api/agents/{hostname}/command", s.handleCommand)
			r.Delete("/api/agents/{hostname}", s.handleDeleteAgent)
		})
	})

	return r
}

// securityHeaders sets standard security headers on all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests without a valid session.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.auth.GetSessionFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// requireCSRF rejects state-changing requests without a valid CSRF
// token. Must run inside requireAuth.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		if session == nil || !s.auth.ValidateCSRF(session, r.Header.Get("X-CSRF-Token")) {
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the hub, the background writers and the HTTP listener.
// Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	var bgCtx context.Context
	bgCtx, s.bgStop = context.WithCancel(context.Background())
	for _, run := range []func(context.Context){s.saver.Run, s.audit.Run} {
		run := run
		done := make(chan struct{})
		s.bgDone = append(s.bgDone, done)
		go func() {
			run(bgCtx)
			close(done)
		}()
	}

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, flushes the final checkpoint and any
// queued audit rows, and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.bgStop != nil {
		s.bgStop()
		for _, done := range s.bgDone {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
	}

	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
