package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired entries once and exit",
	Long: `Run a single expiry sweep over the storage namespace.

It deletes every entry past its expiry time and every secret older than
the configured secret window, then exits. The serve command runs the
same sweep on a timer; this command exists for cron-style deployments
and for recovering disk space while the server is down.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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
	sweeper := qurl.NewSweeper(entries, secrets, locks, cfg.Sweep.Interval, cfg.Retention.SecretTTL, slog.Default())

	slog.Info("starting sweep", "backend", cfg.Storage.Backend)

	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	slog.Info("sweep complete", "removed", removed)
	return nil
}
