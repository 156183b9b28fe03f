// Command coordinator runs one coordinator node: the WebSocket dispatch
// core on one listener and the server directory on another.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/config"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/directory"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/hub"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/logging"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("coordinator exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.Production())
	slog.SetDefault(logger)
	logger.Info("starting coordinator",
		"environment", cfg.Environment,
		"listen", cfg.ListenAddr,
		"directory", cfg.DirectoryAddr,
		"chunks", cfg.ChunksEnabled,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	node := metrics.NewNode(registry)

	h := hub.New(hub.Options{Config: cfg, Logger: logger, Metrics: node})
	wsServer := hub.NewServer(h, cfg.AllowedOrigins, logger)

	store, err := directory.OpenBoltStore(cfg.DirectoryDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	dir, err := directory.NewService(directory.Options{
		Config:  cfg,
		Store:   store,
		Logger:  logger,
		Metrics: node,
	})
	if err != nil {
		return err
	}

	coordMux := http.NewServeMux()
	coordMux.Handle("/ws", wsServer)
	coordMux.HandleFunc("/healthz", healthHandler(h))

	dirMux := http.NewServeMux()
	dirMux.Handle("/servers", dir)
	dirMux.Handle("/servers/", dir)
	dirMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	coordSrv := &http.Server{Addr: cfg.ListenAddr, Handler: coordMux}
	dirSrv := &http.Server{Addr: cfg.DirectoryAddr, Handler: dirMux}

	background := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Maintain(background)
		return nil
	})
	g.Go(func() error {
		dir.Run(background)
		return nil
	})
	g.Go(func() error {
		logger.Info("coordinator listening", "addr", cfg.ListenAddr)
		if err := coordSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("directory listening", "addr", cfg.DirectoryAddr)
		if err := dirSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		close(background)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = coordSrv.Shutdown(shutdownCtx)
		_ = dirSrv.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func healthHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"stats":  h.Stats(),
		})
	}
}
