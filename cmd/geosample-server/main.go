package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twpayne/go-geosample/internal/config"
	"github.com/twpayne/go-geosample/internal/logging"
	"github.com/twpayne/go-geosample/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	s, err := server.New(server.Options{
		GridCacheSize:      cfg.Cache.Grids,
		ProjectorCacheSize: cfg.Cache.Projectors,
		DisplayCRS:         cfg.Display.CRS,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		Logger:             slog.Default(),
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		slog.Info("geosample server starting", "addr", cfg.Server.Addr, "displayCRS", cfg.Display.CRS)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
