package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "qurl",
	Short:   "Ephemeral file and secret sharing server",
	Long: `qurl is a terminal-friendly sharing server: uploads get an
unguessable link governed by an expiry time, a download budget and an
optional password, after which they are permanently deleted. One-time
secrets are encrypted with a key the server never stores.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		readConfig(cmd)
		setupLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("storage-backend", "", "storage backend: files, sqlite (env: QURL_STORAGE_BACKEND)")
	rootCmd.PersistentFlags().String("storage-path", "", "upload directory for the files backend (env: QURL_STORAGE_PATH)")
	rootCmd.PersistentFlags().String("storage-dsn", "", "database path for the sqlite backend (env: QURL_STORAGE_DSN)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
