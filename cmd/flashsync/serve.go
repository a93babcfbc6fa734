package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/flashsync/internal/api"
	"github.com/hyperengineering/flashsync/internal/repository"
	"github.com/hyperengineering/flashsync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference flashcard API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	db := store.NewSQLiteStore(cfg.Database.Path)
	if err := db.Init(ctx); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	version, err := db.Version(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("read schema version: %w", err)
	}
	slog.Info("store initialized", "component", "serve", "path", cfg.Database.Path, "schema_version", version)

	handler := api.NewHandler(repository.New(db), cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:      cfg.Server.CORSOrigins,
		DeletesPerMinute: cfg.RateLimit.DeletesPerMinute,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "component", "serve", "address", addr)
		// Any error other than ErrServerClosed is a real failure and triggers shutdown.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "component", "serve", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated", "component", "serve")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "component", "serve", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("store close error", "component", "serve", "error", err)
	}

	slog.Info("shutdown complete", "component", "serve")
	return nil
}
