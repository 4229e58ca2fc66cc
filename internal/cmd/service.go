// Package cmd wires the gateway together: storage, bus, runtimes, HTTP
// server, config watcher, and the interactive OAuth login flow.
package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/api"
	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/core"
	"github.com/yszxh/gproxy/internal/logging"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/storage"
	"github.com/yszxh/gproxy/internal/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

// StartService runs the gateway until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) {
	logging.SetupBaseLogger(cfg.Debug)
	if err := logging.ConfigureLogOutput(cfg.RequestLog, cfg.LogDir); err != nil {
		log.Warnf("failed to configure log output: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	states, err := oauth.OpenStateStore(cfg.StatePath)
	if err != nil {
		log.Fatalf("failed to open oauth state store: %v", err)
	}
	defer func() { _ = states.Close() }()

	bus := storage.NewBus(store)
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if errBus := bus.Run(ctx); errBus != nil {
			log.Errorf("storage bus stopped: %v", errBus)
		}
	}()

	gateway := core.New(store, bus, cfg)
	if err = gateway.Reload(ctx); err != nil {
		log.Fatalf("failed to load provider runtimes: %v", err)
	}

	server := api.NewServer(cfg, gateway, states)

	if configPath != "" {
		watcher, errWatch := config.NewWatcher(configPath, func(next *config.Config) {
			applyMutableConfig(cfg, next)
			logging.SetupBaseLogger(cfg.Debug)
			if errReload := gateway.Reload(context.Background()); errReload != nil {
				log.Errorf("reload after config change failed: %v", errReload)
			}
		})
		if errWatch != nil {
			log.Warnf("config watcher unavailable: %v", errWatch)
		} else {
			go func() {
				if errStart := watcher.Start(ctx); errStart != nil {
					log.Errorf("config watcher stopped: %v", errStart)
				}
			}()
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
		if err != nil {
			log.Errorf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Stop(shutdownCtx); err != nil {
		log.Errorf("server shutdown failed: %v", err)
	}
	stop()
	<-busDone
}

// applyMutableConfig copies the hot-reloadable fields into the live config.
// Listen address and database paths require a restart.
func applyMutableConfig(live, next *config.Config) {
	live.Debug = next.Debug
	live.RequestLog = next.RequestLog
	live.RedactSensitive = next.RedactSensitive
	live.ProxyURL = next.ProxyURL
	live.AdminKey = next.AdminKey
	live.APIKeys = next.APIKeys
}
