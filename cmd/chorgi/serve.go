package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chorgi/internal/calendar"
	"github.com/dukerupert/chorgi/internal/credential"
	"github.com/dukerupert/chorgi/internal/database"
	"github.com/dukerupert/chorgi/internal/identity"
	"github.com/dukerupert/chorgi/internal/kv"
	"github.com/dukerupert/chorgi/internal/server"
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), app)
		},
	}
}

func runServe(parent context.Context, app *App) error {
	cfg, logger := app.cfg, app.logger

	if err := cfg.RequireGoogle(); err != nil {
		return err
	}

	secret := cfg.Google.ClientSecret
	if secret == "" {
		vault, err := app.openVault()
		if err != nil {
			logger.Warn("keyring unavailable", "error", err)
		} else if secret, err = vault.Resolve("", credential.GoogleClientSecretKey); err != nil {
			return fmt.Errorf("read client secret: %w", err)
		}
	}
	if secret == "" {
		logger.Warn("google client secret not set; sign-in will fail", "key", credential.GoogleClientSecretKey)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := calendar.NewGateway(calendar.Config{Location: time.Local}, calendar.LogReporter{Logger: logger.With("component", "calendar")})
	go func() {
		if err := gateway.Init(ctx); err != nil {
			logger.Error("calendar gateway init", "error", err)
			return
		}
		logger.Info("calendar gateway ready")
	}()

	srv := server.New(server.Options{
		Store: kv.NewSQLiteStore(db),
		Provider: identity.NewProvider(identity.ProviderConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: secret,
			RedirectURL:  cfg.Google.RedirectURL,
		}),
		Calendar:      gateway,
		Location:      time.Local,
		AdminPINHash:  cfg.AdminPINHash,
		IdleTimeout:   cfg.IdleTimeout,
		SecureCookies: strings.HasPrefix(cfg.Google.RedirectURL, "https://"),
	}, logger)
	if cfg.AdminPINHash == "" {
		logger.Warn("admin_pin_hash not set; child removal over HTTP is disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		logger.Info("chorgi starting", "addr", cfg.Addr(), "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	srv.Sessions().CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
