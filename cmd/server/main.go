package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/flowstream/backend/internal/config"
	"github.com/flowstream/backend/internal/frontend"
	"github.com/flowstream/backend/internal/health"
	"github.com/flowstream/backend/internal/ledger"
	"github.com/flowstream/backend/internal/metrics"
	"github.com/flowstream/backend/internal/orchestrator"
	"github.com/flowstream/backend/internal/session"
	"github.com/flowstream/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	deposit := flag.Uint64("deposit", 0, "Start a session with this deposit on boot (demo mode)")
	flag.Parse()

	// Best-effort; a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ownerID := uuid.NewString()
	merchantID := uuid.NewString()

	client := ledger.NewMemory()
	client.Fund(ownerID, cfg.Ledger.WalletFunding)
	client.Fund(merchantID, 0)
	log.Printf("Funded demo wallet %s with %d raw units", ownerID, cfg.Ledger.WalletFunding)

	hub := session.NewHub()
	m := metrics.New()
	orch := orchestrator.New(cfg, client, hub, m, ownerID, merchantID)
	checker := health.NewChecker(cfg.Health.ProcessNames)

	server := ws.NewServer(hub, orch, checker, m, frontend.Handler(), cfg.Server.AuthToken, nil)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	if *deposit > 0 {
		go func() {
			log.Printf("Demo mode: starting session with deposit %d", *deposit)
			if err := orch.Connect(context.Background(), *deposit); err != nil {
				log.Printf("Demo session failed to start: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down, settling any active session...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orch.Disconnect(ctx); err != nil {
			log.Printf("Shutdown settlement incomplete: %v", err)
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, cfg.Server.PortAttempts, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
