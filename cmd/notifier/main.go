package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/whisper/santa/internal/config"
	"github.com/whisper/santa/internal/messaging"
	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/notify"
)

func main() {
	log.Println("Starting Santa notifier...")

	cfg, err := config.LoadNotifier()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "santa-notifier"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Vendors are plugged in here; until then every enabled channel logs.
	senders := make(map[string]notify.Sender, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		senders[ch] = notify.LogSender{}
	}

	dispatcher := notify.NewDispatcher(senders, nil)
	if err := dispatcher.Start(natsClient); err != nil {
		log.Fatalf("failed to start notifier: %v", err)
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

	log.Printf("Santa notifier running")
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  channels:     %v", cfg.Channels)
	log.Printf("  metrics_addr: %s", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	dispatcher.Stop()
	natsClient.Close()
}
