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

	"github.com/dnsmgr/dnsmgr/internal/adapters/bindexec"
	"github.com/dnsmgr/dnsmgr/internal/agentd"
	"github.com/dnsmgr/dnsmgr/internal/bindfs"
	"github.com/dnsmgr/dnsmgr/internal/config"
)

func main() {
	configPath := flag.String("config", "/etc/dnsmgr/agent.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := &bindfs.Store{
		DataDir:   cfg.Bind.DataDir,
		ConfDir:   cfg.Bind.ConfDir,
		ZonesConf: cfg.Bind.ZonesConf,
	}
	checker := bindexec.NewChecker(logger,
		bindexec.WithNamedConf(cfg.Bind.NamedConf),
		bindexec.WithBinaries(cfg.Bind.CheckZone, cfg.Bind.CheckConf, cfg.Bind.Rndc),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := agentd.NewServer(store, checker, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Run(ctx, addr, cfg.Token, cfg.AllowedNets, cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
		log.Fatalf("agent failed: %v", err)
	}
}
