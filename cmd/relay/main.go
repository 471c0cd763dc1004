package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/astromechza/canvas-sync/pkg/config"
	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		logx.L.Error(err.Error())
		_ = logx.L.Sync()
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to a yaml config file (default $CANVAS_CONFIG)")
	addrVar := flag.String("addr", "", "the address to listen on, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Server.Addr = *addrVar
	}
	if err := logx.Init(logx.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return err
	}
	defer func() { _ = logx.L.Sync() }()

	registry := relay.NewRegistry(relay.OptionsFromConfig(cfg.Relay))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           relay.NewHandler(registry, cfg.Relay.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sup := suture.New("canvas-relay", suture.Spec{
		EventHook: func(e suture.Event) {
			logx.L.Warn("supervisor event", zap.String("event", e.String()), zap.Any("details", e.Map()))
		},
		Timeout: cfg.Server.ShutdownTimeout,
	})
	sup.Add(relay.NewService(registry, cfg.Relay.DumpDir))
	sup.Add(relay.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logx.L.Info("relay listening", zap.String("addr", cfg.Server.Addr))
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logx.L.Info("relay stopped")
	return nil
}
