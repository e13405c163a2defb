package qurl

import (
	"context"
	"io"
	"time"
)

// Metadata is the mutable retention record co-located with an entry's blob.
// It is the JSON document persisted next to the blob by the filesystem
// backend, so field names are part of the on-disk format.
type Metadata struct {
	// ExpiryTime is the absolute expiry as unix seconds. Zero means the
	// record predates expiry support and the store's last-modified time
	// plus 24h applies instead.
	ExpiryTime float64 `json:"expiry_time,omitempty"`
	// RemainingDownloads is the download budget. It only ever decreases;
	// the entry is deleted by the same operation that would take it to 0.
	RemainingDownloads int `json:"remaining_downloads"`
	// PasswordHash is an optional bcrypt digest gating reads.
	PasswordHash string `json:"password_hash,omitempty"`
}

// HasExpiry reports whether the record carries an explicit expiry time.
func (m Metadata) HasExpiry() bool {
	return m.ExpiryTime != 0
}

// ExpiresAt converts the unix-seconds expiry into a time.Time.
func (m Metadata) ExpiresAt() time.Time {
	sec := int64(m.ExpiryTime)
	nsec := int64((m.ExpiryTime - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// EntryInfo is what a store reports about a live entry without opening
// its blob.
type EntryInfo struct {
	Meta    Metadata
	ModTime time.Time
	Size    int64
}

// EntryRef identifies one stored entry during a sweep.
type EntryRef struct {
	ID      string
	Name    string
	ModTime time.Time
}

// SecretRef identifies one stored secret during a sweep.
type SecretRef struct {
	ID      string
	ModTime time.Time
}

// EntryStore persists entries: a blob plus a metadata record, addressed by
// an opaque id. Implementations must make Create atomically visible (an
// entry is either fully present or absent), keep Delete idempotent, and
// scope consistency to single entries. Callers serialize mutations per id
// through a LockTable; stores do not lock.
//
// All methods accept a context for cancellation and timeout control.
type EntryStore interface {
	// Create allocates a fresh unguessable id and persists blob and
	// metadata as a single logical unit. The caller must not assume
	// partial success on error.
	Create(ctx context.Context, name string, blob io.Reader, meta Metadata) (string, error)

	// Info returns the entry's metadata and storage modification time, or
	// ErrNotFound.
	Info(ctx context.Context, id, name string) (EntryInfo, error)

	// OpenBlob opens the entry's blob for reading along with its size.
	// The reader stays valid even if the entry is deleted while open.
	OpenBlob(ctx context.Context, id, name string) (io.ReadCloser, int64, error)

	// UpdateMeta replaces the metadata record, or returns ErrNotFound.
	UpdateMeta(ctx context.Context, id, name string, meta Metadata) error

	// Delete removes the entry and everything under it. Deleting an
	// already-deleted id is not an error.
	Delete(ctx context.Context, id string) error

	// List enumerates all live entries for the sweeper.
	List(ctx context.Context) ([]EntryRef, error)
}

// SecretStore persists one-time secrets: opaque ciphertext with no
// metadata beyond existence. The decryption key is never part of the
// record.
type SecretStore interface {
	// Put allocates a fresh id and persists the ciphertext.
	Put(ctx context.Context, ciphertext []byte) (string, error)

	// Get returns the ciphertext, or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete removes the secret. Idempotent.
	Delete(ctx context.Context, id string) error

	// List enumerates all live secrets for the sweeper.
	List(ctx context.Context) ([]SecretRef, error)
}
