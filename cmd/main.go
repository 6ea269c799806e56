package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"

	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/handler"
	"github.com/MrChampion2020/etokserver/internal/hub"
	"github.com/MrChampion2020/etokserver/internal/kafka"
	"github.com/MrChampion2020/etokserver/internal/repository"
	"github.com/MrChampion2020/etokserver/internal/service"
	"github.com/MrChampion2020/etokserver/internal/store"
	"github.com/MrChampion2020/etokserver/pkg/database"
	"github.com/MrChampion2020/etokserver/pkg/jwt"
	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
	"github.com/MrChampion2020/etokserver/pkg/middleware"
	"github.com/MrChampion2020/etokserver/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "etokserver",
		NodeID:      cfg.Server.NodeID,
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting etokserver")

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, domain.AllModels()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Message storage
	var messages repository.MessageRepository
	switch cfg.Storage.MessageBackend {
	case "cassandra":
		cass, err := repository.NewCassandraMessageRepository(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		if err := cass.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare cassandra schema")
		}
		messages = cass
		logger.Info().Strs("hosts", cfg.Cassandra.Hosts).Str("keyspace", cfg.Cassandra.Keyspace).Msg("messages stored in cassandra")
	default:
		messages = repository.NewGormMessageRepository(db)
	}
	defer messages.Close()

	// Durable presence
	var presenceStore store.PresenceStore
	switch cfg.Presence.Store {
	case "redis":
		presenceStore, err = store.NewRedisPresenceStore(store.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("presence stored in redis")
	default:
		presenceStore = store.NewGormPresenceStore(db)
	}
	defer presenceStore.Close()

	// Kafka producer for call records and presence changes
	var producer kafka.EventProducer
	if cfg.Kafka.Enabled {
		cp, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.CallTopic, cfg.Kafka.PresenceTopic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, events disabled")
		} else {
			producer = cp
			defer producer.Close()
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Msg("connected to kafka")
		}
	}

	// Cross-node fan-out
	ps, err := pubsub.NewPubSub(cfg.PubSub, cfg.Server.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pubsub")
	}

	hubOpts := hub.Options{
		Presence:     presenceStore,
		Events:       producer,
		WriteTimeout: cfg.Presence.WriteTimeout,
	}
	if ps != nil {
		defer ps.Close()
		// A restarted node must not keep its previous users reachable.
		if err := presenceStore.ClearNode(ctx, cfg.Server.NodeID); err != nil {
			logger.Fatal().Err(err).Msg("failed to clear stale node entries")
		}
		hubOpts.Nodes = presenceStore
		hubOpts.NodeID = cfg.Server.NodeID
	}

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket, hubOpts)
	go wsHub.Run(ctx)

	if ps != nil {
		if err := hub.NewBridge(ps, cfg.Server.NodeID, wsHub).Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start delivery bridge")
		}
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("cross-node delivery enabled")
	}

	// Initialize services
	relay := service.NewMessageRelay(messages, wsHub, cfg.Chat)
	calls := service.NewCallCoordinator(
		repository.NewGormCallRepository(db),
		repository.NewGormCallRecordRepository(db),
		wsHub,
		wsHub,
		producer,
		cfg.Call,
	)
	defer calls.Stop()
	wsHub.AddStatusListener(calls)
	presence := service.NewPresenceService(wsHub, presenceStore)

	// Identity
	auth := middleware.NewAuthenticator(nil)
	if cfg.Auth.JWTSecret != "" {
		auth = middleware.NewAuthenticator(jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	} else {
		logger.Warn().Msg("no jwt secret configured, trusting X-User-ID (development only)")
	}

	// REST API
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), pkglog.GinMiddleware(logger))
	handler.NewHTTPHandler(relay, calls, presence, auth).RegisterRoutes(engine)

	// Setup HTTP server. Gin logs its own requests.
	httpLog := pkglog.HTTPMiddleware(logger)
	wsHandler := handler.NewWSHandler(wsHub, auth, relay, calls, presence)

	router := mux.NewRouter()
	router.Handle("/ws", httpLog(http.HandlerFunc(wsHandler.HandleWebSocket)))
	router.Handle("/health", httpLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"node":   cfg.Server.NodeID,
			"hub":    wsHub.Stats(),
		})
	}))).Methods(http.MethodGet)
	router.PathPrefix("/api/").Handler(engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("etokserver listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down etokserver")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("etokserver stopped")
}
