// Package control implements the external HTTP daemon of spec.md §6:
// a small chi-routed API exposing orchestrator status, task listing,
// task creation, usage metrics, and pause/resume/stop controls.
// Grounded on hugo-lorenzo-mato-quorum-ai's internal/web server
// (chi router + middleware stack + CORS + graceful Start/Shutdown).
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/undercity-dev/undercity/internal/filelock"
	"github.com/undercity-dev/undercity/internal/models"
)

// Orchestrator is the subset of orchestrator.Orchestrator the daemon
// needs for status reporting and pause/resume control.
type Orchestrator interface {
	Pause()
	Resume()
	IsPaused() bool
	InFlightTaskIDs() []string
}

// Board lists and creates tasks for the /tasks endpoints.
type Board interface {
	ListTasksByStatus(ctx context.Context, status models.Status) ([]*models.Task, error)
	UpsertTask(ctx context.Context, t *models.Task) error
}

// MetricsProvider supplies the usage summary for /metrics.
type MetricsProvider interface {
	Snapshot() []models.RateLimitState
}

// Logger reports server lifecycle events.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config bounds the HTTP daemon.
type Config struct {
	Addr            string
	StateDir        string
	SessionID       string
	ShutdownTimeout time.Duration
}

// DefaultConfig mirrors config.DefaultConfig's Control section.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:7331",
		StateDir:        ".undercity",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the external control daemon: one instance per state
// directory, guarded by a SingleInstanceLock so a second `undercity
// serve` invocation fails fast instead of racing the first.
type Server struct {
	cfg          Config
	router       chi.Router
	httpServer   *http.Server
	lock         *filelock.SingleInstanceLock
	orchestrator Orchestrator
	board        Board
	metrics      MetricsProvider
	newTaskID    func(objective string) string
	logger       Logger
	startedAt    time.Time
	stopCh       chan struct{}
}

// New constructs a Server. newTaskID generates an ID for tasks created
// via POST /tasks.
func New(cfg Config, orch Orchestrator, board Board, metrics MetricsProvider, newTaskID func(string) string, logger Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7331"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:          cfg,
		lock:         filelock.NewSingleInstanceLock(cfg.StateDir, "daemon"),
		orchestrator: orch,
		board:        board,
		metrics:      metrics,
		newTaskID:    newTaskID,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	})
	r.Use(c.Handler)

	r.Get("/status", s.handleStatus)
	r.Get("/tasks", s.handleListTasks)
	r.Post("/tasks", s.handleCreateTask)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	r.Post("/stop", s.handleStop)

	return r
}

// Start acquires the single-instance lock, writes daemon.json, and
// begins serving in the background. It returns immediately; errors
// during ListenAndServe are logged, not returned.
func (s *Server) Start() error {
	ok, err := s.lock.Acquire()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another daemon is already running against %s", s.cfg.StateDir)
	}

	s.startedAt = time.Now()
	if err := s.writeDaemonFile(); err != nil {
		_ = s.lock.Release()
		return err
	}

	s.logf("control: listening on %s", s.cfg.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logf("control: server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server, removes daemon.json, and
// releases the single-instance lock.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	_ = os.Remove(s.daemonFilePath())
	_ = s.lock.Release()
	if err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

// StopRequested is closed once POST /stop has been received, so the
// daemon's owning goroutine can initiate Shutdown.
func (s *Server) StopRequested() <-chan struct{} {
	return s.stopCh
}

func (s *Server) daemonFilePath() string {
	return s.cfg.StateDir + "/daemon.json"
}

type daemonFile struct {
	PID       int       `json:"pid"`
	Port      string    `json:"port"`
	StartedAt time.Time `json:"startedAt"`
}

func (s *Server) writeDaemonFile() error {
	data, err := json.Marshal(daemonFile{PID: os.Getpid(), Port: s.cfg.Addr, StartedAt: s.startedAt})
	if err != nil {
		return fmt.Errorf("marshal daemon.json: %w", err)
	}
	if err := filelock.AtomicWrite(s.daemonFilePath(), data); err != nil {
		return fmt.Errorf("write daemon.json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
