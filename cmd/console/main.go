package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"openfms/console/internal/apiclient"
	"openfms/console/internal/config"
	"openfms/console/internal/events"
	"openfms/console/internal/logger"
	"openfms/console/internal/middleware"
	"openfms/console/internal/querycache"
	"openfms/console/internal/report"
	"openfms/console/internal/server"
	"openfms/console/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logger.Sync(log)
	zap.ReplaceGlobals(log)

	log.Info("Starting OpenFMS console",
		zap.String("environment", cfg.Environment),
		zap.String("backend", cfg.BackendURL),
	)

	// Redis is optional: previews and rate-limit counters fall back to process memory
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = connectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("Connected to Redis")
	}

	// NATS is optional: without it each instance keeps its own cache
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name("openfms-console"))
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Close()
		log.Info("Connected to NATS")
	}

	cache := querycache.New(cfg.StaleTime, querycache.WithLogger(log))
	defer cache.Close()

	client, err := apiclient.New(cfg.BackendURL,
		apiclient.WithTimeout(cfg.BackendTimeout),
		apiclient.WithLogger(log),
	)
	if err != nil {
		log.Fatal("Invalid backend URL", zap.Error(err))
	}

	var (
		previews report.PreviewStore
		limiter  middleware.RateLimiter
	)
	if redisClient != nil {
		previews = report.NewRedisPreviewStore(redisClient, cfg.Report.PreviewTTL, log)
		limiter = middleware.NewRedisRateLimiter(redisClient)
	} else {
		previews = report.NewMemoryPreviewStore(cfg.Report.PreviewTTL, log)
		limiter = middleware.NewMemoryRateLimiter()
	}
	defer previews.Close()

	pipeline := report.NewPipeline(client, previews, report.Options{
		HeaderRows: cfg.Report.HeaderRows,
		PageSize:   cfg.Report.PageSize,
	}, log)
	reports := report.NewSession(pipeline)

	sessions := service.NewSessionService(client, cache, log.Named("session"))
	sessions.OnLogout(func() {
		if err := reports.Clear(context.Background()); err != nil {
			log.Warn("Failed to clear report on logout", zap.Error(err))
		}
	})

	deps := server.Deps{
		Backend:  client,
		Cache:    cache,
		Fetcher:  service.NewFetcher(client, cache, log),
		Sessions: sessions,
		Reports:  reports,
		Limiter:  limiter,
	}

	var bridge *events.Bridge
	if natsConn != nil {
		bridge = events.NewBridge(natsConn, cache, log)
		deps.Notifier = bridge
	}

	srv := server.NewServer(cfg, deps, log)
	srv.Setup()

	if bridge != nil {
		bridge.SetNoticeSink(srv.GetWSHub())
		if err := bridge.Start(); err != nil {
			log.Fatal("Failed to start NATS bridge", zap.Error(err))
		}
		defer bridge.Stop()
	}

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	log.Info("Console ready", zap.String("addr", cfg.Addr()))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}

func connectRedis(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		// 兼容 host:port 形式
		opts = &redis.Options{Addr: rawURL}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
