// Package sqlite persists entries and secrets in a single SQLite file
// via database/sql. It is the alternate substrate behind the same store
// interfaces as the filesystem backend; single-row statements give the
// per-entry atomicity the contracts require.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qurlsh/qurl"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps a SQLite connection and hands out the entry and secret stores
// backed by it.
type DB struct {
	db *sql.DB
}

// Connect opens the SQLite database at dsn and verifies the connection.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// The modernc driver serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent request handlers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{db: db}, nil
}

// Migrate creates the required tables when absent.
func (d *DB) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id                  TEXT PRIMARY KEY,
		display_name        TEXT NOT NULL,
		blob                BLOB NOT NULL,
		expiry_time         REAL NOT NULL DEFAULT 0,
		remaining_downloads INTEGER NOT NULL DEFAULT 1,
		password_hash       TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS secrets (
		id         TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		created_at TEXT NOT NULL
	);`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Entries returns the qurl.EntryStore view of the database.
func (d *DB) Entries() *Store {
	return &Store{db: d.db}
}

// Secrets returns the qurl.SecretStore view of the database.
func (d *DB) Secrets() *Secrets {
	return &Secrets{db: d.db}
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Store implements qurl.EntryStore on the entries table.
type Store struct {
	db *sql.DB
}

var _ qurl.EntryStore = (*Store)(nil)

func (s *Store) Create(ctx context.Context, name string, blob io.Reader, meta qurl.Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !qurl.IsValidName(name) {
		return "", fmt.Errorf("create: %w: bad name", qurl.ErrInvalidInput)
	}

	data, err := io.ReadAll(blob)
	if err != nil {
		return "", storageErr("read content", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for attempt := 0; attempt < 3; attempt++ {
		id := newID(8)
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO entries (id, display_name, blob, expiry_time, remaining_downloads, password_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, name, data, meta.ExpiryTime, meta.RemainingDownloads, meta.PasswordHash, now,
		)
		if err == nil {
			return id, nil
		}
		if !isUniqueViolation(err) {
			return "", storageErr("insert entry", err)
		}
	}

	return "", storageErr("allocate id", errors.New("exhausted retries"))
}

func (s *Store) Info(ctx context.Context, id, name string) (qurl.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return qurl.EntryInfo{}, err
	}

	var (
		info      qurl.EntryInfo
		size      int64
		createdAt string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT expiry_time, remaining_downloads, password_hash, length(blob), created_at
		FROM entries WHERE id = ? AND display_name = ?`, id, name,
	).Scan(&info.Meta.ExpiryTime, &info.Meta.RemainingDownloads, &info.Meta.PasswordHash, &size, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return qurl.EntryInfo{}, qurl.ErrNotFound
		}
		return qurl.EntryInfo{}, storageErr("get entry", err)
	}

	info.Size = size
	info.ModTime, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return qurl.EntryInfo{}, storageErr("parse created_at", err)
	}

	return info, nil
}

func (s *Store) OpenBlob(ctx context.Context, id, name string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM entries WHERE id = ? AND display_name = ?`, id, name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, qurl.ErrNotFound
		}
		return nil, 0, storageErr("get blob", err)
	}

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *Store) UpdateMeta(ctx context.Context, id, name string, meta qurl.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET expiry_time = ?, remaining_downloads = ?, password_hash = ?
		WHERE id = ? AND display_name = ?`,
		meta.ExpiryTime, meta.RemainingDownloads, meta.PasswordHash, id, name,
	)
	if err != nil {
		return storageErr("update metadata", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update metadata", err)
	}
	if n == 0 {
		return qurl.ErrNotFound
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return storageErr("delete entry", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]qurl.EntryRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, created_at FROM entries`)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []qurl.EntryRef
	for rows.Next() {
		var ref qurl.EntryRef
		var createdAt string
		if err := rows.Scan(&ref.ID, &ref.Name, &createdAt); err != nil {
			return nil, storageErr("scan entry", err)
		}
		ref.ModTime, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, storageErr("parse created_at", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list entries", err)
	}

	return refs, nil
}

// Secrets implements qurl.SecretStore on the secrets table.
type Secrets struct {
	db *sql.DB
}

var _ qurl.SecretStore = (*Secrets)(nil)

func (s *Secrets) Put(ctx context.Context, ciphertext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for attempt := 0; attempt < 3; attempt++ {
		id := newID(12)
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO secrets (id, ciphertext, created_at) VALUES (?, ?, ?)`,
			id, ciphertext, now,
		)
		if err == nil {
			return id, nil
		}
		if !isUniqueViolation(err) {
			return "", storageErr("insert secret", err)
		}
	}

	return "", storageErr("allocate id", errors.New("exhausted retries"))
}

func (s *Secrets) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT ciphertext FROM secrets WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, qurl.ErrNotFound
		}
		return nil, storageErr("get secret", err)
	}

	return data, nil
}

func (s *Secrets) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id); err != nil {
		return storageErr("delete secret", err)
	}
	return nil
}

func (s *Secrets) List(ctx context.Context) ([]qurl.SecretRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at FROM secrets`)
	if err != nil {
		return nil, storageErr("list secrets", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []qurl.SecretRef
	for rows.Next() {
		var ref qurl.SecretRef
		var createdAt string
		if err := rows.Scan(&ref.ID, &createdAt); err != nil {
			return nil, storageErr("scan secret", err)
		}
		ref.ModTime, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, storageErr("parse created_at", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list secrets", err)
	}

	return refs, nil
}

func newID(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:n]
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", qurl.ErrStorage, op, err)
}
