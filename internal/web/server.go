// Package web is the HTTP boundary: it turns download requests into
// orchestrator runs and orchestrator outcomes into HTTP responses.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/lvcoi/tubeflow/internal/history"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/metrics"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
	"github.com/lvcoi/tubeflow/internal/progress"
	"github.com/lvcoi/tubeflow/internal/session"
	"github.com/lvcoi/tubeflow/internal/ws"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Downloader runs one request to completion.
type Downloader interface {
	Run(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (orchestrator.Result, error)
}

// HistoryReader lists finished downloads.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options wires the server. Downloader, Progress, Sessions and Locator are
// required; the rest enable optional routes.
type Options struct {
	Downloader   Downloader
	Progress     *progress.Store
	Sessions     *session.Registry
	Locator      orchestrator.Locator
	EncoderProbe orchestrator.EncoderProbe
	Hub          *ws.Hub
	History      HistoryReader
	Metrics      *metrics.Metrics
	// StaticDir replaces the embedded UI when set.
	StaticDir string
	Logger    *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	opts      Options
	assets    fs.FS
	startedAt time.Time
	logger    *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Downloader == nil || opts.Progress == nil || opts.Sessions == nil || opts.Locator == nil {
		return nil, errors.New("web: downloader, progress store, session registry and locator are required")
	}
	assets, err := loadAssets(opts.StaticDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		opts:      opts,
		assets:    assets,
		startedAt: time.Now(),
		logger:    logging.NewComponentLogger(opts.Logger, "http"),
	}, nil
}

func loadAssets(dir string) (fs.FS, error) {
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static dir %s is not a directory", dir)
		}
		return os.DirFS(dir), nil
	}
	return fs.Sub(embeddedAssets, "assets")
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/download", s.handleDownload).Methods(http.MethodPost)
	api.HandleFunc("/progress/{sessionId}", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/secondary-download/{sessionId}", s.handleSecondaryDownload).Methods(http.MethodGet)
	api.HandleFunc("/mobile-download/{sessionId}", s.handleSecondaryDownload).Methods(http.MethodGet)
	api.HandleFunc("/session/{sessionId}", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.opts.History != nil {
		api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	}
	if s.opts.Hub != nil {
		api.HandleFunc("/ws", s.opts.Hub.HandleWS)
	}
	api.PathPrefix("/").HandlerFunc(handleAPINotFound)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.PathPrefix("/").HandlerFunc(s.serveStatic).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(s.serveStatic)

	var h http.Handler = r
	if s.opts.Metrics != nil {
		h = s.opts.Metrics.Middleware(h)
	}
	h = withCORS(h)
	h = withSecurityHeaders(h)
	h = withRecover(s.logger, h)
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Download handlers clear their own write deadline.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", logging.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
