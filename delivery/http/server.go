package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/usecase"
)

const (
	headerActorID   = "X-Actor-ID"
	headerRequestID = "X-Request-ID"
)

// Server exposes the assessment use cases over REST
type Server struct {
	router    *gin.Engine
	server    *http.Server
	drift     *usecase.DriftDetectionUseCase
	posture   *usecase.PostureAssessmentUseCase
	risk      *usecase.RiskScoringUseCase
	health    *HealthHandler
	collector *metrics.Collector
	logger    *logging.Logger
}

// NewServer builds the router. metricsPath empty disables the metrics endpoint.
func NewServer(
	cfg config.HTTPConfig,
	drift *usecase.DriftDetectionUseCase,
	posture *usecase.PostureAssessmentUseCase,
	risk *usecase.RiskScoringUseCase,
	health *HealthHandler,
	collector *metrics.Collector,
	metricsPath string,
	logger *logging.Logger,
) *Server {
	s := &Server{
		drift:     drift,
		posture:   posture,
		risk:      risk,
		health:    health,
		collector: collector,
		logger:    logger.WithComponent("http"),
	}
	s.setupRoutes(metricsPath)

	s.server = &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(metricsPath string) {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	if s.collector != nil {
		s.router.Use(s.metricsMiddleware())
	}

	health := s.router.Group("/health")
	{
		health.GET("/live", s.health.Liveness)
		health.GET("/ready", s.health.Readiness)
	}
	if metricsPath != "" && s.collector != nil {
		s.router.GET(metricsPath, gin.WrapH(s.collector.CreateHandler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		systems := v1.Group("/systems/:id")
		{
			systems.GET("/posture", s.assessPosture)
			systems.POST("/drift/detect", s.detectDrift)
			systems.GET("/drifts", s.listDrifts)
			systems.GET("/baseline", s.getBaseline)
			systems.POST("/baseline", s.rebaseline)
			systems.GET("/risk/:model", s.computeRisk)
		}

		drifts := v1.Group("/drifts/:id")
		{
			drifts.GET("", s.getDrift)
			drifts.POST("/acknowledge", s.acknowledgeDrift)
			drifts.POST("/resolve", s.resolveDrift)
		}

		v1.GET("/risk-models", s.listRiskModels)
	}
}

// Start serves until Shutdown; http.ErrServerClosed is not an error
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", logging.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(headerRequestID, requestID)

		ctx := logging.ContextWithCorrelationID(c.Request.Context(), requestID)
		if actor := c.GetHeader(headerActorID); actor != "" {
			ctx = logging.ContextWithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		logger := s.logger.WithContext(c.Request.Context())
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.collector.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
