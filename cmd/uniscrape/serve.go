package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/uniscrape/internal/api"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled price watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}

	deps := api.Deps{
		Depository:    a.depository,
		History:       a.history,
		Wishlists:     a.wishlists,
		Subscriptions: a.watcher,
		Normalizer:    a.normalizer,
		Tokens: api.TokenService{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Duration: cfg.Auth.TokenTTL,
		},
		Logger: logger,
	}
	// Optional collaborators stay nil interfaces so their routes answer 503.
	if a.sessions != nil {
		deps.Sessions = a.sessions
	}
	if a.amazon != nil {
		deps.Amazon = a.amazon
	}
	if a.ebay != nil {
		deps.Ebay = a.ebay
	}

	router := api.NewRouter(api.NewHandlers(deps), api.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        a.metrics.Handler(),
		Health: func() map[string]interface{} {
			h := map[string]interface{}{
				"store":   cfg.Store.Driver,
				"browser": a.pool != nil,
				"ebay":    a.ebay != nil,
				"watcher": cfg.Watcher.Enabled,
			}
			if a.pool != nil {
				h["activeSessions"] = a.pool.ActiveSessions()
			}
			return h
		},
	})

	var watcherDone <-chan struct{}
	if cfg.Watcher.Enabled {
		watcherDone, err = a.watcher.Start(ctx, cfg.Watcher.Schedule)
		if err != nil {
			a.Close(context.Background())
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting uniscrape server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err = <-serverErr:
		if err != nil {
			logger.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("Server forced to shutdown", "error", shutdownErr)
	}
	stop()
	if watcherDone != nil {
		select {
		case <-watcherDone:
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Warn("Watcher run still in progress at shutdown")
		}
	}
	a.Close(shutdownCtx)

	logger.Info("Server exited")
	return err
}
