package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/backup"
	"github.com/dukerupert/ticketeer/internal/config"
	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/email"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/logging"
	"github.com/dukerupert/ticketeer/internal/server"
)

const (
	cleanupInterval = time.Hour
	shutdownTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runServe(ctx, cfg, logger); err != nil {
				errutil.LogError(logger, "server stopped", err)
				return err
			}
			return nil
		},
	}
}

// newNotifier mails reset codes through Postmark. Only dev mode, which
// Validate requires when no token is set, falls back to logging them.
func newNotifier(cfg *config.Config, logger *slog.Logger) auth.Notifier {
	client := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if client.Configured() {
		return client
	}
	logger.Warn("dev mode without postmark token, reset codes will be logged")
	return email.NewLogNotifier(logger)
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return oops.Code(errutil.CodeDependency).With("path", cfg.DatabasePath()).Wrapf(err, "open database")
	}
	defer db.Close()

	srv, err := server.New(db, server.Options{
		JWTSecret:        cfg.JWTSecret,
		TicketSecret:     cfg.TicketSecret,
		SessionTTL:       cfg.SessionTTL,
		OTPTTL:           cfg.OTPTTL,
		ResetTTL:         cfg.ResetTTL,
		AllowAdminSignup: cfg.AllowAdminSignup,
		AllowedOrigins:   cfg.AllowedOrigins,
		TrustedProxies:   cfg.TrustedProxies,
		Notifier:         newNotifier(cfg, logger),
	}, logger)
	if err != nil {
		return err
	}

	var backups *backup.Manager
	if cfg.BackupInterval > 0 {
		if backups, err = backup.NewManager(backupConfig(cfg), db, logger); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("ticketeer running", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.With("addr", httpServer.Addr).Wrapf(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			if err := srv.Cleanup(gctx); err != nil {
				errutil.LogError(logger, "cleanup failed", err)
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if backups != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.BackupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				if _, err := snapshot(gctx, backups, cfg.BackupRetention, logger); err != nil {
					errutil.LogError(logger, "scheduled backup failed", err)
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
