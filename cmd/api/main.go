package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/santa/internal/config"
	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/httpapi"
	"github.com/whisper/santa/internal/live"
	"github.com/whisper/santa/internal/messaging"
	"github.com/whisper/santa/internal/migrations"
	"github.com/whisper/santa/internal/ratelimit"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// --- Postgres ---
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	db, err := event.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if cfg.MigrateOnStart {
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "santa-api"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	liveConfig := live.DefaultConfig()
	liveConfig.MaxConnections = cfg.LiveMaxConnections
	hub := live.NewHub(natsClient, liveConfig)
	hub.Start()

	handler := httpapi.NewHandler(event.NewStore(db), ratelimit.NewLimiter(rdb), natsClient, hub)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Santa API starting")
	log.Printf("  http_addr:        %s", cfg.HTTPAddr)
	log.Printf("  redis_addr:       %s", cfg.RedisAddr)
	log.Printf("  nats_url:         %s", natsConfig.URL)
	log.Printf("  migrate_on_start: %v", cfg.MigrateOnStart)
	log.Printf("  live_max_conns:   %d", cfg.LiveMaxConnections)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}

	natsClient.Close()
	rdb.Close()
	db.Close()
	log.Printf("Santa API stopped")
}
