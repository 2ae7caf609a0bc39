package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// AdminConfig defines runtime parameters for the admin HTTP server.
type AdminConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		ListenAddr:        "127.0.0.1:8089",
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// AdminServer exposes the registration table, health and metrics over HTTP:
//
//	GET    /healthz
//	GET    /registrations
//	GET    /registration?path=/hello
//	DELETE /registration?path=/hello
//	GET    /metrics
type AdminServer struct {
	cfg    AdminConfig
	broker *Broker
	log    zerolog.Logger

	Router *mux.Router
	http   *http.Server

	mtx      sync.Mutex
	listener net.Listener
}

// NewAdminServer builds the admin server. gatherer defaults to the prometheus
// default registry when nil.
func NewAdminServer(cfg AdminConfig, b *Broker, gatherer prometheus.Gatherer, log zerolog.Logger) *AdminServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := mux.NewRouter()
	s := &AdminServer{
		cfg:    cfg,
		broker: b,
		log:    log.With().Str("component", "admin-api").Logger(),
		Router: r,
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/registrations", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/registration", s.handleGet).Methods(http.MethodGet).Queries("path", "{path}")
	r.HandleFunc("/registration", s.handleDelete).Methods(http.MethodDelete).Queries("path", "{path}")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router wrapped in access logging and panic recovery.
func (s *AdminServer) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(s.accessLog(s.Router))
}

// Start runs the HTTP server until ctx is done.
func (s *AdminServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	s.listener = ln
	s.mtx.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Admin server starting")
	err = s.http.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("Admin server stopped")
	return nil
}

// Addr returns the bound address once Start is listening.
func (s *AdminServer) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	select {
	case <-s.broker.Ready():
		status = "serving"
	default:
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"registrations": s.broker.Registry().Len(),
	})
}

func (s *AdminServer) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Registry().List())
}

func (s *AdminServer) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	reg, err := s.broker.Resolve(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_access_path", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *AdminServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	prev, ok := s.broker.Deregister(r.Context(), path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_access_path", fmt.Sprintf("no registration for %q", path))
		return
	}
	writeJSON(w, http.StatusOK, prev)
}

func (s *AdminServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		evt := s.log.Debug()
		if rw.status >= 400 {
			evt = s.log.Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", rw.status).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error().Msg(fmt.Sprint(v...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
