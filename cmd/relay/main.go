package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/api"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/fanout"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/federation"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/push"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	listenAddr := flag.String("listen-addr", "", "HTTP/WebSocket listen address")
	storePath := flag.String("store-path", "", "Path to bbolt account database")
	relayID := flag.String("relay-id", "", "Unique relay ID (auto-generated if not provided)")
	fcmRelayURL := flag.String("fcm-relay-url", "", "FCM push relay WebSocket URL")
	apnsRelayURL := flag.String("apns-relay-url", "", "APNS push relay WebSocket URL")
	allowedOrigins := flag.String("allowed-origins", "", "Comma-separated list of allowed WebSocket origins")
	devMode := flag.Bool("dev-mode", false, "Enable development mode (allows all origins)")
	peerList := flag.String("peer", "", "Comma-separated list of federated peers (name=wss://host/federation)")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		if err := loadFileConfig(*configPath, &cfg); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	// Explicit flags override file values.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-addr":
			cfg.ListenAddr = *listenAddr
		case "store-path":
			cfg.StorePath = *storePath
		case "relay-id":
			cfg.RelayID = *relayID
		case "fcm-relay-url":
			cfg.FCMRelayURL = *fcmRelayURL
		case "apns-relay-url":
			cfg.APNSRelayURL = *apnsRelayURL
		case "allowed-origins":
			cfg.AllowedOrigins = *allowedOrigins
		case "dev-mode":
			cfg.DevMode = *devMode
		case "peer":
			peers, err := parsePeers(*peerList)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Peers = peers
		}
	})
	if flagErr != nil {
		log.Fatalf("Invalid flags: %v", flagErr)
	}

	if cfg.RelayID == "" {
		cfg.RelayID = uuid.New().String()
	}

	log.Printf("Starting relay server...")
	log.Printf("Relay ID: %s", cfg.RelayID)
	log.Printf("Listen addr: %s", cfg.ListenAddr)
	log.Printf("Store path: %s", cfg.StorePath)
	log.Printf("FCM relay: %s", cfg.FCMRelayURL)
	log.Printf("APNS relay: %s", cfg.APNSRelayURL)
	log.Printf("Peers: %d", len(cfg.Peers))
	log.Printf("Dev mode: %v", cfg.DevMode)

	accounts := store.NewBBoltAccountStore(cfg.StorePath)
	if err := accounts.Open(); err != nil {
		log.Fatalf("Failed to open account store: %v", err)
	}
	defer accounts.Close()
	log.Println("Account store opened successfully")

	clients := model.NewClientRegistry()
	wsHandler := api.NewWSHandler(accounts, clients, cfg.AllowedOrigins, cfg.DevMode)

	channelConfig := push.ChannelConfig{
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		PendingMaxAge:       cfg.PendingMaxAge,
		SweepInterval:       cfg.SweepInterval,
	}
	fcmChannel := push.NewChannel("fcm", push.WebSocketDialer(cfg.FCMRelayURL, nil), channelConfig)
	apnsChannel := push.NewChannel("apns", push.WebSocketDialer(cfg.APNSRelayURL, nil), channelConfig)

	router := push.NewRouter(fcmChannel, apnsChannel, wsHandler, accounts)
	fcmChannel.SetUnregisteredHandler(router.ClearToken)
	apnsChannel.SetUnregisteredHandler(router.ClearToken)

	fcmChannel.Start()
	apnsChannel.Start()
	log.Println("Push reliability channels started")

	peers := federation.NewClientManager(cfg.RelayID)
	for name, url := range cfg.Peers {
		log.Printf("Registering peer: %s -> %s", name, url)
		peers.AddPeer(name, url)
	}

	sender := fanout.NewSender(accounts, router, peers)
	inbound := federation.NewInboundHandler(cfg.RelayID, sender)
	healthHandler := api.NewHealthHandler(cfg.RelayID, clients)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.HandleFunc("/federation", inbound.HandleInboundPeer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("Relay ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	fcmChannel.Stop()
	apnsChannel.Stop()
	peers.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("relay stopped gracefully")
}
