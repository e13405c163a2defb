package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/config"
	qurlhttp "github.com/qurlsh/qurl/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the qurl HTTP server with the background expiry sweeper.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	serveCmd.Flags().String("base-url", "", "public base URL used in generated links")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.base_url", serveCmd.Flags().Lookup("base-url"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	entries, secrets, closeStore, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStore()

	locks := qurl.NewLockTable()

	limits := qurl.RetentionLimits{
		DefaultTTL:       cfg.Retention.DefaultTTL,
		MaxTTL:           cfg.Retention.MaxTTL,
		DefaultDownloads: cfg.Retention.DefaultDownloads,
		MaxDownloads:     cfg.Retention.MaxDownloads,
	}

	gate := qurl.NewGate(entries, locks, limits, slog.Default())
	vault := qurl.NewVault(secrets, locks, slog.Default())

	if cfg.Sweep.Enabled {
		sweeper := qurl.NewSweeper(entries, secrets, locks, cfg.Sweep.Interval, cfg.Retention.SecretTTL, slog.Default())
		go sweeper.Run(ctx)
	}

	handlerConfig := qurlhttp.HandlerConfig{
		BaseURL:       cfg.Server.BaseURL,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		RateLimit:     cfg.RateLimit,
		CORS:          cfg.CORS,
	}

	handler := qurlhttp.NewHandler(&handlerConfig, gate, vault)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "base_url", cfg.Server.BaseURL, "backend", cfg.Storage.Backend)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
