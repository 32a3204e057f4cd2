package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/handlers"
	"provably-fair-backend/internal/jobs"
	"provably-fair-backend/internal/logger"
	"provably-fair-backend/internal/middleware"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/monitoring"
	"provably-fair-backend/internal/services"
	"provably-fair-backend/internal/storage"
	"provably-fair-backend/internal/storage/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.Init(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	monitoring.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, limiter, err := openStore(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close()
	if limiter != nil && cfg.StoreDriver == config.StoreSQLite {
		defer limiter.Close()
	}

	edges, err := services.LoadEdgeRegistry(ctx, store, models.EdgeConfig{
		EdgeFraction:  cfg.EdgeFraction,
		MaxMultiplier: cfg.MaxMultiplier,
		GrowthRate:    cfg.GrowthRate,
	}, services.SystemClock, zlog)
	if err != nil {
		zlog.Fatal("failed to load house edge", zap.Error(err))
	}

	gameEngine := services.NewGameEngine(store, edges, cfg, services.SystemClock, zlog)
	jwtService := services.NewJWTService(cfg)

	wsHandler := handlers.NewWebSocketHandler(gameEngine, zlog)
	gameEngine.SetBroadcaster(wsHandler)

	manager := jobs.New()
	manager.Register(gameEngine.Crash.Sweeper(cfg.SweepInterval))
	jobsDone := make(chan struct{})
	go func() {
		manager.Start(ctx)
		close(jobsDone)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := handlers.RouterDeps{
		Engine:    gameEngine,
		JWT:       jwtService,
		WebSocket: wsHandler,
		Limits:    middleware.RateLimitsFromConfig(cfg),
		Log:       zlog,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	router := handlers.NewRouter(deps)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
	<-jobsDone
}

// openStore returns the configured store and, when Redis is reachable, a
// rate limiter backed by it.
func openStore(cfg *config.Config, zlog *zap.Logger) (storage.Store, *services.RedisService, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, err
		}
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		limiter, err := services.NewRedisService(cfg)
		if err != nil {
			zlog.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
			return store, nil, nil
		}
		return store, limiter, nil
	default:
		redisService, err := services.NewRedisService(cfg)
		if err != nil {
			return nil, nil, err
		}
		return redisService, redisService, nil
	}
}
