package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/santa/internal/config"
	"github.com/whisper/santa/internal/drawlock"
	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/matching"
	"github.com/whisper/santa/internal/messaging"
	"github.com/whisper/santa/internal/metrics"
)

func main() {
	log.Println("Starting Santa draw service...")

	cfg, err := config.LoadMatcher()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Postgres setup.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	db, err := event.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "santa-matcher"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Start draw service.
	svc := matching.NewService(event.NewStore(db), drawlock.NewLocker(rdb, cfg.DrawLockTTL), natsClient)
	if err := svc.Start(natsClient); err != nil {
		log.Fatalf("failed to start draw service: %v", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	log.Printf("Santa draw service running")
	log.Printf("  redis_addr:    %s", cfg.RedisAddr)
	log.Printf("  nats_url:      %s", natsConfig.URL)
	log.Printf("  draw_lock_ttl: %s", cfg.DrawLockTTL)
	log.Printf("  metrics_addr:  %s", cfg.MetricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	rdb.Close()
	db.Close()
}
