package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/troupe/internal/auth"
	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/engine"
	"github.com/normanking/troupe/internal/logging"
	"github.com/normanking/troupe/internal/store"
)

// Server is the troupe gateway. The store and auth service are optional; a
// nil store disables persistence and a nil auth service disables key checks
// regardless of configuration.
type Server struct {
	cfg    *Config
	engine *engine.Engine
	events *bus.Bus
	store  *store.Store
	log    *logging.Logger

	httpServer *http.Server
	handler    http.Handler
	upgrader   websocket.Upgrader

	// WebSocket client management
	clients    map[*client]bool
	clientsMu  sync.RWMutex
	register   chan *client
	unregister chan *client

	subs []bus.SubscriptionID

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   time.Time
	running   bool
	runningMu sync.Mutex
}

// New assembles the gateway. The returned server is ready to serve requests
// through Handler immediately; Start additionally binds the listener, loads
// persisted state, and begins the snapshot loop.
func New(cfg *Config, eng *engine.Engine, events *bus.Bus, st *store.Store, authService *auth.Service, log *logging.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		engine: eng,
		events: events,
		store:  st,
		log:    log.WithComponent("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The gateway binds to loopback by default; origin policy is
				// delegated to the API-key check.
				return true
			},
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		ctx:        ctx,
		cancel:     cancel,
		started:    time.Now(),
	}

	s.handler = s.buildRoutes(authService)

	// Fan out every bus event to connected WebSocket clients, and journal
	// them when a store is attached.
	if events != nil {
		s.subs = append(s.subs, events.Subscribe(bus.EventType(""), s.handleBusEvent))
		if st != nil {
			s.subs = append(s.subs, events.Subscribe(bus.EventType(""), s.journalEvent))
		}
	}

	s.wg.Add(1)
	go s.runClientManager()

	return s, nil
}

// buildRoutes wires the HTTP mux. /healthz stays outside the auth gate so
// probes work without credentials.
func (s *Server) buildRoutes(authService *auth.Service) http.Handler {
	keyCheck := auth.NewMiddleware(authService, s.cfg.AuthRequired && authService != nil)

	api := http.NewServeMux()
	api.HandleFunc("/v1/turns", s.handleTurn)
	api.HandleFunc("/v1/turns/complete", s.handleComplete)
	api.HandleFunc("/v1/blend", s.handleBlend)
	api.HandleFunc("/v1/personas", s.handlePersonas)
	api.HandleFunc("/v1/personas/", s.handlePersona)
	api.HandleFunc("/v1/relationships", s.handleRelationships)
	api.HandleFunc("/v1/events", s.handleEvents)
	api.HandleFunc("/v1/stats", s.handleStats)
	api.HandleFunc("/v1/ws", s.handleWebSocket)

	mux := http.NewServeMux()
	mux.Handle("/v1/", keyCheck.RequireKey(api))
	mux.HandleFunc("/healthz", s.handleHealth)

	return withCORS(mux)
}

// withCORS allows cross-origin dashboard access.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the gateway's HTTP handler. Exposed so tests can mount the
// full route table on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start loads persisted state, binds the listener, and begins the snapshot
// loop. It does not block; use Stop to shut down.
func (s *Server) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.runningMu.Unlock()

	if err := s.restoreState(); err != nil {
		s.log.Warn("state restore failed: %v", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("gateway listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("gateway server error: %v", err)
		}
	}()

	if s.store != nil && s.cfg.SnapshotInterval > 0 {
		s.wg.Add(1)
		go s.runSnapshotLoop()
	}

	return nil
}

// Stop gracefully shuts the gateway down, writing a final snapshot first.
func (s *Server) Stop() error {
	s.runningMu.Lock()
	wasRunning := s.running
	s.running = false
	s.runningMu.Unlock()

	if s.store != nil && wasRunning {
		s.snapshot()
	}

	s.cancel()

	if s.events != nil {
		for _, id := range s.subs {
			s.events.Unsubscribe(id)
		}
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		close(c.send)
		c.conn.Close()
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	s.log.Info("gateway stopped")
	return err
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
