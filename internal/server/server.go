// Package server provides the HTTP page and API for Storybook.
package server

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/storybook/internal/config"
	"github.com/hyperjump/storybook/internal/session"
	"go.uber.org/zap"
)

//go:embed static
var staticFiles embed.FS

// maxUploadBytes bounds the multipart body of a file upload.
const maxUploadBytes = 64 << 20

// Server is the HTTP server for one Storybook page session.
type Server struct {
	session *session.Session
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server around sess.
func NewServer(sess *session.Session, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session: sess,
		config:  cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router with all routes and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	// Long-lived; kept out of the timeout and compression middleware.
	r.Get("/api/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/", s.handleIndex)
		r.Get("/health", s.handleHealth)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/session", s.handleSession)
			r.Post("/file", s.handleSelectFile)
			r.Post("/convert", s.handleConvert)
			r.Get("/voices", s.handleVoices)
			r.Put("/voice", s.handleSelectVoice)
			r.Get("/download", s.handleDownload)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. A later Start returns http.ErrServerClosed.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.server.Shutdown(ctx)
}

// requestLogger logs each request through zap at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func indexPage() ([]byte, error) {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(sub, "index.html")
}
