package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	applog "expensewatch/internal/log"

	"github.com/google/uuid"
)

// StatusReporter is the part of the refresher the health endpoint reads.
type StatusReporter interface {
	IsRunning() bool
	LastObservedCount() (int, bool)
}

// Health is the body served on /healthz.
type Health struct {
	Status        string `json:"status"`
	Polling       bool   `json:"polling"`
	ObservedCount *int   `json:"observed_count,omitempty"`
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv    *http.Server
	logger *applog.Logger
}

// NewServer builds the metrics server. status may be nil, in which case
// /healthz only reports that the process is up.
func NewServer(addr string, status StatusReporter, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.Discard()
	}
	logger = logger.WithComponent(applog.ComponentMetrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", healthHandler(status))

	return &Server{
		srv: &http.Server{
			Addr:           addr,
			Handler:        accessLog(logger, mux),
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 16,
		},
		logger: logger,
	}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned; errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Serving metrics", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", applog.FieldError, err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func healthHandler(status StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: "ok"}
		code := http.StatusOK
		if status != nil {
			h.Polling = status.IsRunning()
			if count, ok := status.LastObservedCount(); ok {
				h.ObservedCount = &count
			}
			if !h.Polling {
				h.Status = "stopped"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

// accessLog tags each request with an id and logs its outcome at a level
// matching the status code.
func accessLog(logger *applog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelDebug
		switch {
		case rw.status >= 500:
			level = slog.LevelError
		case rw.status >= 400:
			level = slog.LevelWarn
		}
		logger.LogFields(r.Context(), level, "HTTP request completed",
			applog.NewFields().
				WithRequest(r.Method, r.URL.Path).
				WithResponse(rw.status, time.Since(start).Milliseconds()).
				WithRequestID(requestID))
	})
}

// statusWriter captures the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
