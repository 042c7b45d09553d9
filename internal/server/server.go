package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velstudio/chat-gateway/internal/config"
	"github.com/velstudio/chat-gateway/internal/handler"
	"github.com/velstudio/chat-gateway/internal/middleware"
	"github.com/velstudio/chat-gateway/internal/models"
	"github.com/velstudio/chat-gateway/internal/storage"
)

type Server struct {
	router      *gin.Engine
	config      *config.Config
	chatHandler *handler.ChatHandler
	redis       *storage.RedisClient
	httpServer  *http.Server
}

// New wires the router. redis is nil unless the redis rate-limit backend is
// selected; the health check reports it only when present.
func New(cfg *config.Config, chatHandler *handler.ChatHandler, redis *storage.RedisClient) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	s := &Server{
		router:      router,
		config:      cfg,
		chatHandler: chatHandler,
		redis:       redis,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS(s.config.AllowedOrigin))
}

func (s *Server) setupRoutes() {
	s.router.HandleMethodNotAllowed = true
	s.router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, models.ErrorResponse{
			Error:   "Method not allowed",
			Message: "This endpoint only accepts POST requests.",
			Code:    models.CodeMethodNotAllowed,
		})
	})
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.router.GET("/health", s.healthCheck)
	s.router.POST("/api/chat", s.chatHandler.Handle)
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	statusCode := http.StatusOK

	checks := gin.H{
		"rate_limit_backend": s.config.RateLimitBackend,
	}

	if s.redis != nil {
		redisHealthy := true
		if err := s.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			log.Printf("Redis health check failed: %v", err)
		}
		checks["redis"] = redisHealthy
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "chat-gateway",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.N8NTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting chat gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
