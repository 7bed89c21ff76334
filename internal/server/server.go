// Package server implements the geosample HTTP API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twpayne/go-geosample"
)

const (
	defaultMaxUploadBytes = 256 << 20
	maxPointsBytes        = 16 << 20
)

// Options configure a Server.
type Options struct {
	GridCacheSize      int
	ProjectorCacheSize int
	DisplayCRS         string
	MaxUploadBytes     int64
	Logger             *slog.Logger
}

// A Server serves the geosample HTTP API.
type Server struct {
	gridCache      *geosample.GridCache
	projectorCache *geosample.ProjectorCache
	displayCRS     string
	maxUploadBytes int64
	logger         *slog.Logger
	handler        http.Handler
}

// New returns a new Server.
func New(options Options) (*Server, error) {
	gridCache, err := geosample.NewGridCache(options.GridCacheSize)
	if err != nil {
		return nil, err
	}
	projectorCache, err := geosample.NewProjectorCache(max(options.ProjectorCacheSize, 1))
	if err != nil {
		return nil, err
	}

	s := &Server{
		gridCache:      gridCache,
		projectorCache: projectorCache,
		displayCRS:     options.DisplayCRS,
		maxUploadBytes: options.MaxUploadBytes,
		logger:         options.Logger,
	}
	if s.displayCRS == "" {
		s.displayCRS = geosample.DefaultCRS
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware, metricsMiddleware)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/rasters", s.handle(s.postRaster)).Methods(http.MethodPost)
	api.Handle("/rasters/{id}", s.handle(s.getRaster)).Methods(http.MethodGet)
	api.Handle("/rasters/{id}/samples", handlers.ContentTypeHandler(
		s.handle(s.postSamples),
		"application/json", "text/plain", "text/csv",
	)).Methods(http.MethodPost)
	api.Handle("/rasters/{id}/max", s.handle(s.getMax)).Methods(http.MethodGet)
	api.Handle("/rasters/{id}/preview.png", s.handle(s.getPreview)).Methods(http.MethodGet)

	s.handler = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(
		handlers.CORS(
			handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Accept"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedOrigins([]string{"*"}),
		)(handlers.CompressHandler(router)),
	)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// A recoveryLogger logs recovered panics with slog.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(args ...any) {
	l.logger.Error("panic", "recovered", args)
}
