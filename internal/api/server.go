package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

// Config defines API server configuration
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr" validate:"required_if=Enabled true"`
	APIKey         string        `yaml:"api_key"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" validate:"gte=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// Response represents API response format
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

// Server exposes the backup manager over HTTP.
type Server struct {
	logger  *zap.Logger
	config  Config
	manager *backup.Manager
	metrics *monitoring.BackupMetrics
	limiter *IPRateLimiter
	router  *mux.Router
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(config Config, logger *zap.Logger, manager *backup.Manager, metrics *monitoring.BackupMetrics) (*Server, error) {
	if !config.Enabled {
		return nil, errors.New("API server disabled")
	}
	if manager == nil {
		return nil, errors.New("backup manager is required")
	}

	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		manager: manager,
		metrics: metrics,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = NewIPRateLimiter(config.RateLimit, burst)
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Starting API server",
		zap.String("listen_addr", s.config.ListenAddr),
		zap.Bool("auth_enabled", s.config.APIKey != ""),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}
	if s.config.APIKey != "" {
		api.Use(AuthMiddleware(s.config.APIKey))
	}

	api.HandleFunc("/snapshots", s.handleCreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/validate", s.handleValidateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/restore", s.handleRestoreSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleListHistory).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleCleanupHistory).Methods(http.MethodDelete)
}

// sendJSON sends JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// sendData wraps data in a Response.
func (s *Server) sendData(w http.ResponseWriter, status int, success bool, data interface{}) {
	s.sendJSON(w, status, Response{
		Success: success,
		Data:    data,
		Time:    time.Now(),
	})
}

// sendError sends error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, Response{
		Success: false,
		Error:   message,
		Time:    time.Now(),
	})
}

// errorStatus maps backup errors to HTTP status codes.
func errorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, backup.ErrSizeExceeded), errors.Is(err, storage.ErrArtifactTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, backup.ErrParseFailed), errors.Is(err, backup.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backup.ErrGatewayFetch):
		return http.StatusBadGateway
	case errors.Is(err, backup.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
