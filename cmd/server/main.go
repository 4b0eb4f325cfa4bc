package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"glucosemonitor/backend/internal/config"
	"glucosemonitor/backend/internal/netinfo"
	"glucosemonitor/backend/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log.Printf("starting glucose monitor server")

	history := server.NewHistoryStore()
	hub := server.NewBroadcastHub(cfg.SubscriberBuffer)
	metrics := server.NewMetrics(history, hub)

	sinks := openSinks(cfg.Archive)
	ingestorOptions := []server.IngestorOption{server.WithMetrics(metrics)}
	apiOptions := []server.APIOption{
		server.WithMetricsEndpoint(metrics),
		server.WithIngestRateLimit(cfg.IngestRateLimit, cfg.IngestRateWindow),
		server.WithTrustedProxyHeaders(cfg.TrustProxy),
	}

	var archiver *server.Archiver
	if len(sinks) > 0 {
		archiver = server.NewArchiver(sinks, server.ArchiverConfig{QueueSize: cfg.Archive.QueueSize})
		ingestorOptions = append(ingestorOptions, server.WithArchiver(archiver))
		apiOptions = append(apiOptions, server.WithReadinessCheck(archiver.Ping))
	}

	ingestor := server.NewIngestor(history, hub, ingestorOptions...)

	var bridge *server.MQTTBridge
	if cfg.MQTT.Broker != "" {
		bridge, err = server.NewMQTTBridge(server.MQTTBridgeOptions{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
		}, ingestor)
		if err != nil {
			log.Fatalf("create mqtt bridge: %v", err)
		}
		go func() {
			if err := bridge.Start(); err != nil {
				log.Printf("mqtt bridge stopped: %v", err)
			}
		}()
		log.Printf("mqtt bridge enabled broker=%s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	} else {
		log.Printf("mqtt bridge disabled (set MQTT_BROKER to enable)")
	}

	api := server.NewAPI(history, hub, ingestor, apiOptions...)

	handler := handlers.LoggingHandler(os.Stdout, handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.CORSAllowOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(api.Handler()))

	// WriteTimeout and ReadTimeout stay unset: /ws and /api/stream are long-lived and
	// manage their own deadlines.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("glucose monitor listening on :%s", cfg.Port)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if bridge != nil {
		bridge.Close()
	}
	if archiver != nil {
		archiver.Close()
	}
}

func openSinks(cfg config.ArchiveConfig) []server.ReadingSink {
	sinks := make([]server.ReadingSink, 0, 2)

	if cfg.DatabaseURL != "" {
		setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSetup()

		archive, err := server.NewPostgresArchive(setupCtx, cfg.DatabaseURL, int32(cfg.PGMaxConns))
		if err != nil {
			log.Fatalf("create postgres archive: %v", err)
		}
		sinks = append(sinks, archive)
		log.Printf("postgres archive enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		archive, err := server.NewKafkaArchive(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("create kafka archive: %v", err)
		}
		sinks = append(sinks, archive)
		log.Printf("kafka archive enabled topic=%s", cfg.KafkaTopic)
	}

	return sinks
}

func printBanner(cfg config.Config) {
	localIP := netinfo.LocalIP()

	publicIP := ""
	if cfg.PublicIPLookup {
		lookupCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		ip, err := netinfo.PublicIP(lookupCtx, http.DefaultClient, netinfo.DefaultPublicIPURL)
		cancel()
		if err != nil {
			log.Printf("public ip lookup failed: %v", err)
		} else {
			publicIP = ip
		}
	}

	fmt.Println()
	fmt.Println("=== Server Details ===")
	fmt.Printf("Local IP: http://%s:%s\n", localIP, cfg.Port)
	if publicIP != "" {
		fmt.Printf("Public IP: http://%s:%s\n", publicIP, cfg.Port)
		fmt.Printf("Note: To use public IP, port %s must be forwarded on your router\n", cfg.Port)
	}
	fmt.Println("=====================")
	fmt.Println()
	fmt.Printf("1. Point the device at ws://%s:%s/ws\n", localIP, cfg.Port)
	fmt.Println("2. Send samples as {\"event\":\"esp32_data\",\"data\":{\"glucose\":<value>}}")
	fmt.Println("3. Open the viewer at / or poll /api/glucose_data")
	fmt.Println()
}
