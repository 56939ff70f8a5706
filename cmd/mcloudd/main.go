package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modera/mfcloud/bus"
	"github.com/modera/mfcloud/config"
	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/deployment"
	"github.com/modera/mfcloud/internal/mlog"
	"github.com/modera/mfcloud/kv"
	"github.com/modera/mfcloud/store"
	"github.com/modera/mfcloud/task"
	"github.com/modera/mfcloud/ticket"
	"github.com/modera/mfcloud/transport"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcloudd: %v\n", err)
		os.Exit(1)
	}

	mlog.Init(mlog.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	log := mlog.WithComponent("main")

	store_ := kv.NewClient(cfg.RedisAddr)
	defer store_.Close()

	containers, err := container.NewEngine(cfg.DockerHost)
	if err != nil {
		log.Error().Err(err).Msg("docker client unavailable")
		os.Exit(1)
	}

	b := bus.New()
	reg := ticket.NewRegistry(b, store_)

	apps := store.New(store_)
	deployments := deployment.New(store_)
	engine := task.NewEngine(b, apps, containers, deployments, store_, cfg.HomeDir, cfg.Btrfs, cfg.DNSSearchSuffix)
	engine.Register(reg)

	srv := transport.New(transport.Config{Starter: reg})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.ListenAndServe() }()
	log.Info().Str("addr", cfg.ListenAddr).Msg("mcloudd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve error")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}
