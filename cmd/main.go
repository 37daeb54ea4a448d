package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"livecast/internal/admin"
	"livecast/internal/auth"
	"livecast/internal/config"
	"livecast/internal/directory"
	"livecast/internal/engine"
	"livecast/internal/gateway"
	"livecast/internal/hub"
	"livecast/internal/room"
	"livecast/internal/store"
	pkglog "livecast/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pkglog.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "livecast",
	})
	logger := pkglog.L()

	instanceID := uuid.New().String()
	logger.Info().Str("instance_id", instanceID).Msg("starting livecast gateway")

	// Redis backs membership, admission limits, and the cross-instance relay.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	pingCancel()
	defer redisClient.Close()
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	kv := store.NewRedisKVFromClient(redisClient)
	membership := store.NewMembership(kv, cfg.Room.RecordTTL)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	dir, err := directory.NewGormDirectory(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate directory schema")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("directory ready")

	pool, err := engine.NewPool(engine.Config{
		WorkerCount:      cfg.Engine.WorkerCount,
		ListenIP:         cfg.Engine.ListenIP,
		AnnouncedIP:      cfg.Engine.AnnouncedIP,
		RTCMinPort:       cfg.Engine.RTCMinPort,
		RTCMaxPort:       cfg.Engine.RTCMaxPort,
		SimulcastEnabled: cfg.Engine.Simulcast.Enabled,
		SimulcastLayers:  engineLayers(cfg.Engine.Simulcast.Layers),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start forwarding engine")
	}
	defer pool.Close()

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	rooms := room.NewManager(pool)
	relay := gateway.NewRelay(redisClient, wsHub, instanceID)
	limiter := gateway.NewLimiter(kv, cfg.Limits)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	svc := gateway.NewService(wsHub, rooms, membership, dir, relay, cfg.Room)
	wsHandler := gateway.NewWSHandler(wsHub, svc, verifier, limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wsServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	adminHandler := admin.NewHandler(pool, wsHub, membership, dir)
	adminServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler:      adminHandler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", wsServer.Addr).Msg("signaling gateway listening")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", adminServer.Addr).Msg("admin surface listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := relay.Run(gctx)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})

	// Periodic occupancy gauge.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := pool.Stats()
				logger.Info().
					Int("connections", wsHub.ClientCount()).
					Int("rooms", stats.Rooms).
					Int("transports", stats.Transports).
					Int("producers", stats.Producers).
					Int("consumers", stats.Consumers).
					Msg("occupancy")
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("gateway forced to shutdown")
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("admin surface forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("gateway exited with error")
	}
	logger.Info().Msg("livecast gateway stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.FilePath), gormCfg)
	default:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
}

func engineLayers(layers []config.SimulcastLayer) []engine.SimulcastLayer {
	if len(layers) == 0 {
		layers = config.DefaultSimulcastLayers()
	}
	out := make([]engine.SimulcastLayer, len(layers))
	for i, l := range layers {
		out[i] = engine.SimulcastLayer{
			RID:                   l.RID,
			ScaleResolutionDownBy: l.ScaleResolutionDownBy,
			MaxBitrate:            l.MaxBitrate,
		}
	}
	return out
}
