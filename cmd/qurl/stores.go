package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/config"
	"github.com/qurlsh/qurl/filesystem"
	"github.com/qurlsh/qurl/sqlite"
)

// openStores constructs the entry and secret stores for the configured
// backend. The returned close function releases the backend's handle.
func openStores(ctx context.Context, cfg *config.Config) (qurl.EntryStore, qurl.SecretStore, func(), error) {
	switch cfg.Storage.Backend {
	case "files":
		if err := os.MkdirAll(cfg.Storage.Path, 0o750); err != nil {
			return nil, nil, nil, fmt.Errorf("create storage directory: %w", err)
		}

		root, err := os.OpenRoot(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open storage root: %w", err)
		}

		closeFn := func() {
			if err := root.Close(); err != nil {
				slog.Warn("close storage root", "err", err)
			}
		}
		return filesystem.NewStore(root), filesystem.NewSecrets(root), closeFn, nil

	case "sqlite":
		db, err := sqlite.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, nil, err
		}

		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}

		closeFn := func() {
			if err := db.Close(); err != nil {
				slog.Warn("close database", "err", err)
			}
		}
		return db.Entries(), db.Secrets(), closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
