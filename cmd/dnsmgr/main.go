package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dnsmgr/dnsmgr/internal/adapters/agent"
	"github.com/dnsmgr/dnsmgr/internal/adapters/api"
	"github.com/dnsmgr/dnsmgr/internal/adapters/bindexec"
	"github.com/dnsmgr/dnsmgr/internal/adapters/lock"
	"github.com/dnsmgr/dnsmgr/internal/adapters/repository"
	"github.com/dnsmgr/dnsmgr/internal/bindfs"
	"github.com/dnsmgr/dnsmgr/internal/config"
	"github.com/dnsmgr/dnsmgr/internal/core/services"
)

func main() {
	configPath := flag.String("config", "/etc/dnsmgr/config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadManager(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := repository.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnLifetime.Std())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		if errClose := db.Close(); errClose != nil {
			logger.Warn("failed to close database", "error", errClose)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if errClose := redisClient.Close(); errClose != nil {
			logger.Warn("failed to close redis client", "error", errClose)
		}
	}()

	repo := repository.NewPostgresRepository(db, logger)
	checker := bindexec.NewChecker(logger,
		bindexec.WithNamedConf(cfg.Bind.NamedConf),
		bindexec.WithBinaries(cfg.Bind.CheckZone, cfg.Bind.CheckConf, cfg.Bind.Rndc),
	)
	store := &bindfs.Store{
		DataDir:   cfg.Bind.DataDir,
		ConfDir:   cfg.Bind.ConfDir,
		ZonesConf: cfg.Bind.ZonesConf,
	}

	synth := services.NewSynthesizer()
	zoneSvc := services.NewZoneService(repo, checker, synth, cfg.Bind.ScratchDir, logger)
	targets := agent.NewTargetFactory(store, checker, cfg.Agents.Timeout.Std(), cfg.Agents.InsecureSkipVerify)
	publishLock := lock.NewRedisLock(redisClient)
	publisher := services.NewPublisher(repo, synth, checker, targets, publishLock, cfg.Bind.ScratchDir, cfg.Bind.DataDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background diagnostics sweep.
	go func() {
		ticker := time.NewTicker(cfg.Monitor.SweepInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := publisher.SweepDiagnostics(ctx); err != nil {
					logger.Error("diagnostics sweep failed", "error", err)
				}
			}
		}
	}()

	apiHandler := api.NewAPIHandler(zoneSvc, repo, publisher, logger)
	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("management API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
