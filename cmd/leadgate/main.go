package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"leadgate/internal/audit"
	"leadgate/internal/config"
	"leadgate/internal/ratelimit"
	"leadgate/internal/server"
	"leadgate/internal/sheets"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store := sheets.NewClient(sheets.Credentials{
		ClientEmail: cfg.ClientEmail,
		PrivateKey:  cfg.PrivateKey,
	}, cfg.StoreTimeout)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnf("redis unavailable, rate limits are per-instance: %v", err)
			rdb = nil
		}
		cancel()
	}
	limiter := ratelimit.New(rdb, cfg.RateLimitPerMinute, time.Minute)

	srv := server.New(cfg, store, log, audit.New(cfg.AuditLogPath), limiter)

	// The store must be reachable before we take traffic.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := srv.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	cancel()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Infof("leadgate listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
