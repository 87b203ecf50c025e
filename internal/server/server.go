package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/veildoc/veildoc/internal/cache"
	"github.com/veildoc/veildoc/internal/config"
	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/redact"
	"github.com/veildoc/veildoc/internal/rules"
	"github.com/veildoc/veildoc/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RulePersister stores the ordered rule catalog when it is changed over
// the API. *store.RuleStore satisfies it.
type RulePersister interface {
	Save(ctx context.Context, records []rules.Record) error
}

// Server exposes the redaction engine over HTTP. A single document
// session backs the document endpoints; the session is not concurrent,
// so all access goes through the session mutex.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	catalog   *rules.Catalog
	engine    *rules.Engine
	persister RulePersister

	sessionMu sync.Mutex
	session   *redact.Session

	maskCache *cache.MaskCache
	limiter   *rate.Limiter
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// New creates a server around an existing catalog and engine. maskCache
// may be nil when the Redis cache is disabled; persister may be nil when
// the rule store is disabled.
func New(cfg *config.Config, catalog *rules.Catalog, engine *rules.Engine, maskCache *cache.MaskCache, persister RulePersister, log *logger.Logger) *Server {
	marker := []rune(cfg.Redaction.Marker)[0]
	session := redact.NewSession(catalog, engine, cfg.Fonts.FallbackFiles, marker, log.WithComponent("session"))

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		catalog:   catalog,
		engine:    engine,
		persister: persister,
		session:   session,
		maskCache: maskCache,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Server.RequestsPerSec), cfg.Server.Burst),
		router:    mux.NewRouter(),
		wsHub:     websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger),
		stop:      make(chan struct{}),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	// Rule catalog
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/active", s.handleSelectActive).Methods("PUT")
	api.HandleFunc("/rules/export", s.handleExportRules).Methods("GET")
	api.HandleFunc("/rules/import", s.handleImportRules).Methods("POST")
	api.HandleFunc("/rules/verify", s.handleVerifyRules).Methods("POST")
	api.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PATCH")

	// Custom name/field lists for list-driven rules
	api.HandleFunc("/lists", s.handleGetLists).Methods("GET")
	api.HandleFunc("/lists", s.handleSetLists).Methods("PUT")

	// Text-only masking preview
	api.HandleFunc("/mask", s.handleMask).Methods("POST")

	// Document session
	api.HandleFunc("/document/open", s.handleOpen).Methods("POST")
	api.HandleFunc("/document/text", s.handleText).Methods("GET")
	api.HandleFunc("/document/segments", s.handleSegments).Methods("GET")
	api.HandleFunc("/document/diagnostics", s.handleDiagnostics).Methods("GET")
	api.HandleFunc("/document/apply", s.handleApplyRule).Methods("POST")
	api.HandleFunc("/document/apply-active", s.handleApplyActive).Methods("POST")
	api.HandleFunc("/document/edit", s.handleEdit).Methods("POST")
	api.HandleFunc("/document/replace-all", s.handleReplaceAll).Methods("POST")
	api.HandleFunc("/document/undo", s.handleUndo).Methods("POST")
	api.HandleFunc("/document/save", s.handleSave).Methods("POST")
	api.HandleFunc("/document/close", s.handleClose).Methods("POST")

	// Batch
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.logger.Info("Starting veildoc server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("rules", len(s.catalog.Rules())),
		zap.String("fail_mode", s.config.Redaction.FailMode),
	)

	go s.wsHub.Run()
	if s.config.WebSocket.Enabled && s.config.WebSocket.BroadcastSystem {
		go s.broadcastSystemStatus()
	}

	return s.server.ListenAndServe()
}

// broadcastSystemStatus pushes a status event to dashboard clients
// every 30 seconds until Stop is called.
func (s *Server) broadcastSystemStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data: websocket.SystemStatusEvent{
					Status:           "healthy",
					Uptime:           time.Since(s.startedAt).String(),
					ActiveRules:      len(s.catalog.Active()),
					ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
				},
			})
		}
	}
}

// Stop gracefully stops the HTTP server and the status broadcaster.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping veildoc server")
	s.stopOnce.Do(func() { close(s.stop) })
	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the hub for broadcasting events.
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
