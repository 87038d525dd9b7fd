// Package api serves the query pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultListenAddr      = ":5000"
	defaultDownloadTTL     = 24 * time.Hour
	defaultShutdownTimeout = 10 * time.Second
	maxRequestBodyBytes    = 1 << 20
)

// QueryProcessor runs one query through the pipeline.
type QueryProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.ProcessResult, *pipeline.Error)
}

type Server struct {
	processor       QueryProcessor
	catalog         *catalog.Catalog
	dataset         pipeline.Dataset
	logger          *slog.Logger
	listenAddr      string
	allowedOrigins  []string
	downloadTTL     time.Duration
	shutdownTimeout time.Duration

	downloads  *ttlcache.Cache[string, struct{}]
	httpServer *http.Server
}

type Option func(*Server)

func WithProcessor(p QueryProcessor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithDataset sets the dataset context attached to every query.
func WithDataset(d pipeline.Dataset) Option {
	return func(s *Server) {
		s.dataset = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithAllowedOrigins sets the CORS origins. All origins are allowed when
// none are set.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithDownloadTTL sets how long a generated report stays downloadable.
func WithDownloadTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.downloadTTL = ttl
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:          slog.Default(),
		listenAddr:      defaultListenAddr,
		downloadTTL:     defaultDownloadTTL,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		return nil, errors.New("query processor is required")
	}
	if s.catalog == nil {
		return nil, errors.New("chart catalog is required")
	}
	if len(s.allowedOrigins) == 0 {
		s.allowedOrigins = []string{"*"}
	}

	s.downloads = ttlcache.New(
		ttlcache.WithTTL[string, struct{}](s.downloadTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	return s, nil
}

// Handler returns the router with all routes and middleware mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/download", s.handleDownload)
		r.Get("/charts", s.handleCharts)
	})
	return r
}

// AllowDownload registers path as downloadable until the download TTL
// expires.
func (s *Server) AllowDownload(path string) {
	s.downloads.Set(downloadKey(path), struct{}{}, ttlcache.DefaultTTL)
}

func (s *Server) downloadAllowed(path string) bool {
	return s.downloads.Has(downloadKey(path))
}

func downloadKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.downloads.Start()
	defer s.downloads.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api: server starting", "address", s.listenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", s.listenAddr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("api: shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}
