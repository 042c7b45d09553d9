package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/velstudio/chat-gateway/internal/config"
	"github.com/velstudio/chat-gateway/internal/handler"
	"github.com/velstudio/chat-gateway/internal/ratelimit"
	"github.com/velstudio/chat-gateway/internal/server"
	"github.com/velstudio/chat-gateway/internal/session"
	"github.com/velstudio/chat-gateway/internal/storage"
	"github.com/velstudio/chat-gateway/internal/webhook"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.N8NWebhookURL == "" {
		log.Println("Warning: N8N_WEBHOOK_URL is not set, chat requests will fail")
	}

	var redis *storage.RedisClient
	if cfg.RateLimitBackend == "redis" {
		redis, err = storage.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redis.Close()

		log.Println("Connected to redis successfully")
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitBackend, redis, cfg.RateLimitMax, cfg.RateLimitWindow)
	if memory, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		defer memory.Close()
	}

	sessions := session.NewManager(cfg.SessionCookie, cfg.SessionTTL, cfg.SessionSecret, cfg.IsProduction())
	webhookClient := webhook.NewClient(cfg.N8NWebhookURL, cfg.N8NTimeout)
	chatHandler := handler.NewChatHandler(sessions, limiter, webhookClient)

	srv := server.New(cfg, chatHandler, redis)

	go func() {
		addr := ":" + cfg.Port
		if err := srv.Run(addr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
