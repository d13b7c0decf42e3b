package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"ccbridge/internal/config"
	"ccbridge/internal/consumers"
	"ccbridge/internal/manager"
	"ccbridge/internal/model"
	"ccbridge/internal/platform/genesys"
	"ccbridge/internal/platform/twilio"
	"ccbridge/pkg/logger"
	"ccbridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional env file for local runs; real environments set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	consumer := consumers.Multi{
		consumers.Log{L: log},
		consumers.NewRedisPublisher(rdb, log),
	}

	mgr := manager.New(consumer, log)
	mgr.RegisterFactory(model.PlatformTypeGenesys, genesys.New)
	mgr.RegisterFactory(model.PlatformTypeTwilio, twilio.New)

	// Seed platforms from env config. A failing platform stays registered but
	// disconnected; it never blocks process start or the other platforms.
	for _, pc := range cfg.PlatformConfigs() {
		if err := mgr.AddPlatform(rootCtx, pc); err != nil {
			log.Warn("platform bootstrap failed", "platform_id", pc.ID, "err", err)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, mgr, cfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Error("manager shutdown failed", "err", err)
	}
}
