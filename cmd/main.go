package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/config"
	"github.com/teamhub/realtime-gateway/internal/gateway"
	"github.com/teamhub/realtime-gateway/internal/handler"
	"github.com/teamhub/realtime-gateway/internal/hub"
	"github.com/teamhub/realtime-gateway/internal/kafka"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/internal/presence"
	"github.com/teamhub/realtime-gateway/internal/registry"
	"github.com/teamhub/realtime-gateway/internal/relay"
	"github.com/teamhub/realtime-gateway/internal/store"
	"github.com/teamhub/realtime-gateway/pkg/database"
	"github.com/teamhub/realtime-gateway/pkg/jwt"
	pkglog "github.com/teamhub/realtime-gateway/pkg/log"
	"github.com/teamhub/realtime-gateway/pkg/middleware"
	"github.com/teamhub/realtime-gateway/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "realtime-gateway"})
	logger := pkglog.L().With().Str(pkglog.FieldInstanceID, cfg.Server.InstanceID).Logger()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting realtime-gateway")

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token validator")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// Status store: SQL when enabled, otherwise in memory
	var statusStore store.StatusStore
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		statusStore, err = store.NewGormStore(db)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create status store")
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("status store ready")
	} else {
		statusStore = store.NewMemoryStore()
	}
	defer statusStore.Close()

	// Core
	reg := registry.New()
	h := hub.NewHub(hub.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	})
	broadcaster := broadcast.New(reg, h, m, broadcast.Config{SendTimeout: cfg.Broadcast.SendTimeout})
	tracker := presence.NewTracker(reg, broadcaster, statusStore, m, presence.Config{
		OfflineGracePeriod: cfg.Presence.OfflineGracePeriod,
		StoreTimeout:       cfg.Presence.StoreTimeout,
	})
	gw := gateway.New(reg, tracker, broadcaster, m, gateway.Config{TypingTTL: cfg.Presence.TypingTTL})

	ctx, cancel := context.WithCancel(context.Background())

	// Relay between gateway instances
	var (
		bus pubsub.PubSub
		rl  *relay.Relay
	)
	if cfg.Relay.Enabled {
		// each instance needs its own consumer group to see every relayed event
		cfg.Relay.Kafka.GroupID = cfg.Relay.Kafka.GroupID + "-" + cfg.Server.InstanceID
		bus, err = pubsub.NewPubSub(cfg.Relay.Config)
		if err != nil {
			cancel()
			logger.Fatal().Err(err).Str("driver", cfg.Relay.Driver).Msg("failed to create relay bus")
		}
		rl = relay.New(bus, gw, m, relay.Config{Channel: cfg.Relay.Channel, InstanceID: cfg.Server.InstanceID})
		gw.SetRelay(rl)
		go rl.Run(ctx)
		logger.Info().Str("driver", cfg.Relay.Driver).Str("channel", cfg.Relay.Channel).Msg("relay started")
	}

	// Kafka consumer for notification commands
	var kafkaConsumer *kafka.ConfluentConsumer
	if cfg.Kafka.Enabled {
		if kc, err := kafka.NewConfluentConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.Topic,
			cfg.Kafka.GroupID,
			kafka.NewGatewayHandler(gw),
			m,
		); err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka consumer, kafka commands disabled")
		} else {
			if err := kc.Start(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to start kafka consumer")
				kc.Close()
			} else {
				kafkaConsumer = kc
			}
		}
	}

	// Create handlers
	wsHandler := handler.NewWSHandler(h, gw, tokens, cfg.Server.AllowedOrigins)
	httpHandler := handler.NewHTTPHandler(gw, m)

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)
	router.HandleFunc("/health", httpHandler.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	httpHandler.RegisterRoutes(router, middleware.RequireAuth(tokens))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("realtime-gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down realtime-gateway")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		cancel() // 1. stop Kafka consumer + relay subscriber

		if kafkaConsumer != nil {
			kafkaConsumer.Close() // 2. wait for in-flight Kafka event
		}
		if rl != nil {
			<-rl.Done() // 3. wait for relay goroutine to exit
			bus.Close()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}

		h.Stop() // 4. close all WS clients

		tracker.Stop() // 5. cancel grace period and expiry timers
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("realtime-gateway stopped")
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("shutdown timed out")
	}
}
