// Package filesystem persists entries and secrets as plain files under a
// sandboxed root directory. Creation stages the blob and its metadata
// record in a hidden temp directory and renames it into place, so an
// entry is atomically visible or absent. Deleting an entry whose blob is
// open elsewhere relies on unlink-while-open semantics; the in-flight
// read completes untouched.
//
// Layout:
//
//	<root>/<id>/<name>           blob
//	<root>/<id>/<name>.meta      JSON metadata record
//	<root>/secrets/<id>/secret.enc
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qurlsh/qurl"
)

const (
	secretsDir  = "secrets"
	secretsFile = "secret.enc"
	metaSuffix  = ".meta"
	tmpPrefix   = ".t"

	entryIDLen  = 8
	secretIDLen = 12
)

// Store implements qurl.EntryStore over a directory tree. The root
// provides sandboxed file operations preventing path traversal.
type Store struct {
	root *os.Root
}

var _ qurl.EntryStore = (*Store)(nil)

// NewStore creates a Store rooted at root.
func NewStore(root *os.Root) *Store {
	return &Store{root: root}
}

// Create stages the blob and metadata in a temp directory and renames it
// to the freshly allocated id, making the entry visible in one step.
func (s *Store) Create(ctx context.Context, name string, blob io.Reader, meta qurl.Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !qurl.IsValidName(name) {
		return "", fmt.Errorf("create: %w: bad name", qurl.ErrInvalidInput)
	}

	tmpDir := tmpDirName()
	if err := s.root.Mkdir(tmpDir, 0o755); err != nil {
		return "", storageErr("create temp dir", err)
	}

	success := false
	defer func() {
		if !success {
			if rmErr := s.root.RemoveAll(tmpDir); rmErr != nil {
				slog.Warn("failed to remove temp dir", "dir", tmpDir, "err", rmErr)
			}
		}
	}()

	if err := writeFile(ctx, s.root, filepath.Join(tmpDir, name), &ctxReader{ctx: ctx, r: blob}); err != nil {
		return "", err
	}

	rec, err := json.Marshal(meta)
	if err != nil {
		return "", storageErr("encode metadata", err)
	}
	if err := writeFile(ctx, s.root, filepath.Join(tmpDir, name+metaSuffix), strings.NewReader(string(rec))); err != nil {
		return "", err
	}

	id, err := s.claimID(tmpDir, newID(entryIDLen))
	if err != nil {
		return "", err
	}

	success = true
	return id, nil
}

// Info returns the entry's metadata record plus the blob's size and
// modification time. A present blob with no metadata record is a legacy
// entry: the zero Metadata triggers the policy engine's last-modified
// fallback.
func (s *Store) Info(ctx context.Context, id, name string) (qurl.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return qurl.EntryInfo{}, err
	}

	if !qurl.IsValidID(id) || !qurl.IsValidName(name) {
		return qurl.EntryInfo{}, qurl.ErrNotFound
	}

	fi, err := s.root.Stat(filepath.Join(id, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return qurl.EntryInfo{}, qurl.ErrNotFound
		}
		return qurl.EntryInfo{}, storageErr("stat blob", err)
	}

	info := qurl.EntryInfo{ModTime: fi.ModTime(), Size: fi.Size()}

	rec, err := readFile(s.root, filepath.Join(id, name+metaSuffix))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return info, nil
	case err != nil:
		return qurl.EntryInfo{}, storageErr("read metadata", err)
	}

	if err := json.Unmarshal(rec, &info.Meta); err != nil {
		return qurl.EntryInfo{}, storageErr("decode metadata", err)
	}

	return info, nil
}

// OpenBlob opens the blob for reading. The open handle survives a
// concurrent delete of the entry.
func (s *Store) OpenBlob(ctx context.Context, id, name string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	if !qurl.IsValidID(id) || !qurl.IsValidName(name) {
		return nil, 0, qurl.ErrNotFound
	}

	f, err := s.root.Open(filepath.Join(id, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, qurl.ErrNotFound
		}
		return nil, 0, storageErr("open blob", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, storageErr("stat blob", err)
	}

	return f, fi.Size(), nil
}

// UpdateMeta atomically replaces the metadata record via a temp file and
// rename.
func (s *Store) UpdateMeta(ctx context.Context, id, name string, meta qurl.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !qurl.IsValidID(id) || !qurl.IsValidName(name) {
		return qurl.ErrNotFound
	}

	if _, err := s.root.Stat(filepath.Join(id, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return qurl.ErrNotFound
		}
		return storageErr("stat blob", err)
	}

	rec, err := json.Marshal(meta)
	if err != nil {
		return storageErr("encode metadata", err)
	}

	tmpFile := tmpDirName()
	if err := writeFile(ctx, s.root, tmpFile, strings.NewReader(string(rec))); err != nil {
		return err
	}

	if err := s.root.Rename(tmpFile, filepath.Join(id, name+metaSuffix)); err != nil {
		if rmErr := s.root.Remove(tmpFile); rmErr != nil {
			slog.Warn("failed to remove temp file", "err", rmErr)
		}
		return storageErr("replace metadata", err)
	}

	return nil
}

// Delete removes the entry directory and everything in it. Deleting an
// absent id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !qurl.IsValidID(id) {
		return nil
	}

	if err := s.root.RemoveAll(id); err != nil {
		return storageErr("delete entry", err)
	}
	return nil
}

// List enumerates all entry directories, skipping the secrets namespace
// and staging directories.
func (s *Store) List(ctx context.Context) ([]qurl.EntryRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs, err := fs.ReadDir(s.root.FS(), ".")
	if err != nil {
		return nil, storageErr("list entries", err)
	}

	var refs []qurl.EntryRef
	for _, dir := range dirs {
		if !dir.IsDir() || dir.Name() == secretsDir || strings.HasPrefix(dir.Name(), tmpPrefix) {
			continue
		}

		name, modTime, err := s.blobOf(dir.Name())
		if err != nil {
			slog.Warn("skipping unreadable entry", "id", dir.Name(), "err", err)
			continue
		}
		if name == "" {
			continue
		}

		refs = append(refs, qurl.EntryRef{ID: dir.Name(), Name: name, ModTime: modTime})
	}

	return refs, nil
}

// blobOf locates the single blob file inside an entry directory.
func (s *Store) blobOf(id string) (string, time.Time, error) {
	files, err := fs.ReadDir(s.root.FS(), id)
	if err != nil {
		return "", time.Time{}, err
	}

	for _, f := range files {
		if f.IsDir() || strings.HasSuffix(f.Name(), metaSuffix) {
			continue
		}
		fi, err := f.Info()
		if err != nil {
			return "", time.Time{}, err
		}
		return f.Name(), fi.ModTime(), nil
	}

	return "", time.Time{}, nil
}

// Secrets implements qurl.SecretStore under the same root, in the
// reserved secrets/ namespace.
type Secrets struct {
	root *os.Root
}

var _ qurl.SecretStore = (*Secrets)(nil)

// NewSecrets creates a Secrets store rooted at root.
func NewSecrets(root *os.Root) *Secrets {
	return &Secrets{root: root}
}

// Put persists a secret's ciphertext under a fresh id, staged and renamed
// like an entry.
func (s *Secrets) Put(ctx context.Context, ciphertext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.root.MkdirAll(secretsDir, 0o755); err != nil {
		return "", storageErr("create secrets dir", err)
	}

	tmpDir := tmpDirName()
	if err := s.root.Mkdir(tmpDir, 0o755); err != nil {
		return "", storageErr("create temp dir", err)
	}

	success := false
	defer func() {
		if !success {
			if rmErr := s.root.RemoveAll(tmpDir); rmErr != nil {
				slog.Warn("failed to remove temp dir", "dir", tmpDir, "err", rmErr)
			}
		}
	}()

	if err := writeFile(ctx, s.root, filepath.Join(tmpDir, secretsFile), strings.NewReader(string(ciphertext))); err != nil {
		return "", err
	}

	id := newID(secretIDLen)
	if err := s.root.Rename(tmpDir, filepath.Join(secretsDir, id)); err != nil {
		return "", storageErr("publish secret", err)
	}

	success = true
	return id, nil
}

// Get returns a secret's ciphertext.
func (s *Secrets) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !qurl.IsValidID(id) {
		return nil, qurl.ErrNotFound
	}

	data, err := readFile(s.root, filepath.Join(secretsDir, id, secretsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, qurl.ErrNotFound
		}
		return nil, storageErr("read secret", err)
	}

	return data, nil
}

// Delete removes a secret. Idempotent.
func (s *Secrets) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !qurl.IsValidID(id) {
		return nil
	}

	if err := s.root.RemoveAll(filepath.Join(secretsDir, id)); err != nil {
		return storageErr("delete secret", err)
	}
	return nil
}

// List enumerates all stored secrets.
func (s *Secrets) List(ctx context.Context) ([]qurl.SecretRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs, err := fs.ReadDir(s.root.FS(), secretsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("list secrets", err)
	}

	var refs []qurl.SecretRef
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		fi, err := s.root.Stat(filepath.Join(secretsDir, dir.Name(), secretsFile))
		if err != nil {
			slog.Warn("skipping unreadable secret", "id", dir.Name(), "err", err)
			continue
		}
		refs = append(refs, qurl.SecretRef{ID: dir.Name(), ModTime: fi.ModTime()})
	}

	return refs, nil
}

// claimID renames the staged directory to an entry id, retrying with a
// fresh id on collision. Collisions are astronomically rare but renaming
// onto a live entry must never clobber it.
func (s *Store) claimID(tmpDir, id string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := s.root.Stat(id); err == nil {
			id = newID(entryIDLen)
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", storageErr("stat entry", err)
		}

		if err := s.root.Rename(tmpDir, id); err != nil {
			return "", storageErr("publish entry", err)
		}
		return id, nil
	}

	return "", storageErr("allocate id", errors.New("exhausted retries"))
}

// writeFile writes content to path with an fsync before returning, the
// same discipline as the staged-then-renamed blob itself.
func writeFile(ctx context.Context, root *os.Root, path string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := root.Create(path)
	if err != nil {
		return storageErr("create file", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		return storageErr("write file", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return storageErr("sync file", err)
	}

	if err := f.Close(); err != nil {
		return storageErr("close file", err)
	}

	return nil
}

func readFile(root *os.Root, path string) ([]byte, error) {
	f, err := root.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close file", "path", path, "err", closeErr)
		}
	}()

	return io.ReadAll(f)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func newID(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:n]
}

func tmpDirName() string {
	return tmpPrefix + uuid.New().String()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", qurl.ErrStorage, op, err)
}
