package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rickgao/derivwatch/internal/coordinator"
)

// StatusSource reports coordinator state. Satisfied by *coordinator.Coordinator.
type StatusSource interface {
	Status() coordinator.Status
}

// Pinger checks a dependency. Satisfied by store.Backend.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Catalog reports instrument coverage. Satisfied by *market.Catalog.
type Catalog interface {
	Len() int
	Unknown() []string
	LastSync() time.Time
}

// Config holds server settings.
type Config struct {
	Port        int
	MetricsPath string
}

// Handlers are the optional parts of the server. Nil entries are not mounted.
type Handlers struct {
	Metrics http.Handler
	Feed    http.Handler
	Catalog Catalog
}

// Server is the watcher's HTTP server.
type Server struct {
	cfg     Config
	status  StatusSource
	store   Pinger
	extra   Handlers
	logger  *slog.Logger
	httpSrv *http.Server
	ln      net.Listener
}

// New creates a Server.
func New(cfg Config, status StatusSource, store Pinger, extra Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		cfg:    cfg,
		status: status,
		store:  store,
		extra:  extra,
		logger: logger,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	if s.extra.Metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.extra.Metrics)
	}
	if s.extra.Feed != nil {
		mux.Handle("/ws/alerts", s.extra.Feed)
	}
	if s.extra.Catalog != nil {
		mux.HandleFunc("/debug/catalog", s.handleCatalog)
	}
	return mux
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	s.ln = ln

	go func() {
		s.logger.Info("starting http server", "addr", ln.Addr().String())
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "err", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.httpSrv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type health struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h := health{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	// Check store
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			h.Status = "unhealthy"
			h.Components["store"] = map[string]string{
				"backend": s.store.Name(),
				"status":  "disconnected",
				"error":   err.Error(),
			}
		} else {
			h.Components["store"] = map[string]string{
				"backend": s.store.Name(),
				"status":  "connected",
			}
		}
	}

	// Check coordinator
	st := s.status.Status()
	coord := map[string]any{
		"phase":  st.Phase,
		"cycles": st.Cycles,
	}
	if !st.LastCycleEnd.IsZero() {
		coord["last_cycle"] = st.LastCycleEnd.UTC()
	}
	if stale(st, time.Now()) && h.Status == "healthy" {
		h.Status = "degraded"
	}
	h.Components["coordinator"] = coord

	w.Header().Set("Content-Type", "application/json")
	if h.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

// stale reports whether the last cycle finished more than three intervals ago.
func stale(st coordinator.Status, now time.Time) bool {
	if st.LastCycleEnd.IsZero() {
		return false
	}
	interval, err := time.ParseDuration(st.Interval)
	if err != nil || interval <= 0 {
		return false
	}
	return now.Sub(st.LastCycleEnd) > 3*interval
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status.Status())
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.extra.Catalog
	unknown := c.Unknown()
	if unknown == nil {
		unknown = []string{}
	}
	resp := map[string]any{
		"supported": c.Len(),
		"unknown":   unknown,
	}
	if last := c.LastSync(); !last.IsZero() {
		resp["last_sync"] = last.UTC()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
