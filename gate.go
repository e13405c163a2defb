package qurl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/qurlsh/qurl/cryptox"
)

// RetentionLimits is the server-side clamp applied to client-supplied
// retention parameters at upload time.
type RetentionLimits struct {
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	DefaultDownloads int
	MaxDownloads     int
}

// DefaultRetentionLimits mirrors the service's advertised limits: TTL up
// to seven days, at most a hundred downloads.
func DefaultRetentionLimits() RetentionLimits {
	return RetentionLimits{
		DefaultTTL:       DefaultTTL,
		MaxTTL:           7 * 24 * time.Hour,
		DefaultDownloads: 1,
		MaxDownloads:     100,
	}
}

// UploadOptions carries the parsed retention parameters of one upload.
type UploadOptions struct {
	TTL       time.Duration
	Downloads int
	Password  string
}

// Gate orchestrates client requests against the entry store and the
// retention policy engine. It owns no storage; every mutation of a given
// id runs behind that id's lock in the shared table.
type Gate struct {
	store  EntryStore
	locks  *LockTable
	limits RetentionLimits
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a Gate over store. locks is shared with the sweeper so
// reads and sweeps of the same id serialize.
func NewGate(store EntryStore, locks *LockTable, limits RetentionLimits, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  store,
		locks:  locks,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Upload creates a new entry with retention metadata derived from opts,
// clamped to the gate's limits, and returns its id.
func (g *Gate) Upload(ctx context.Context, name string, content io.Reader, opts UploadOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	if name == "" {
		return "", fmt.Errorf("upload: %w: name cannot be empty", ErrInvalidInput)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = g.limits.DefaultTTL
	}
	if g.limits.MaxTTL > 0 && ttl > g.limits.MaxTTL {
		ttl = g.limits.MaxTTL
	}

	downloads := opts.Downloads
	if downloads < 1 {
		downloads = g.limits.DefaultDownloads
	}
	if g.limits.MaxDownloads > 0 && downloads > g.limits.MaxDownloads {
		downloads = g.limits.MaxDownloads
	}

	meta := Metadata{
		ExpiryTime:         float64(g.now().Add(ttl).UnixNano()) / float64(time.Second),
		RemainingDownloads: downloads,
	}

	if opts.Password != "" {
		digest, err := cryptox.HashPassword(opts.Password)
		if err != nil {
			// bcrypt refuses passwords over 72 bytes; that is a bad
			// request, not a server fault.
			return "", fmt.Errorf("upload: %w: %v", ErrInvalidInput, err)
		}
		meta.PasswordHash = digest
	}

	id, err := g.store.Create(ctx, name, content, meta)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	g.logger.Info("entry created", "id", id, "name", name, "ttl", ttl, "downloads", downloads, "gated", meta.PasswordHash != "")
	return id, nil
}

// Download is a granted read in flight. The caller streams Content to the
// client and then calls Commit, which applies the read's consequence
// (persisted decrement or deletion) and releases the entry's lock. The
// lock is held for the whole serve so a concurrent read of the same id
// with a budget of one cannot also be granted.
type Download struct {
	Name    string
	Size    int64
	Content io.ReadCloser

	gate        *Gate
	id          string
	consequence Consequence
	newCount    int
	meta        Metadata
	release     func()
	once        sync.Once
}

// Commit closes the content, applies the post-read consequence and
// releases the per-id lock. It is applied regardless of whether delivery
// succeeded, matching burn-on-attempt semantics, and at most once; extra
// calls are no-ops. Failures are logged, not surfaced: the bytes were
// already released to the client.
func (d *Download) Commit() {
	d.once.Do(func() {
		defer d.release()

		if err := d.Content.Close(); err != nil {
			d.gate.logger.Warn("close blob", "id", d.id, "err", err)
		}

		// The request context may already be canceled by a client
		// disconnect; the consequence must still land.
		ctx, cancel := context.WithTimeout(context.Background(), consequenceTimeout)
		defer cancel()

		switch d.consequence {
		case ConsequenceDecrement:
			meta := d.meta
			meta.RemainingDownloads = d.newCount
			if err := d.gate.store.UpdateMeta(ctx, d.id, d.Name, meta); err != nil {
				d.gate.logger.Error("persist decrement", "id", d.id, "err", err)
				return
			}
			d.gate.logger.Info("entry served", "id", d.id, "remaining", d.newCount)
		case ConsequenceDeleteAfterRead:
			if err := d.gate.store.Delete(ctx, d.id); err != nil {
				d.gate.logger.Error("delete after read", "id", d.id, "err", err)
				return
			}
			d.gate.logger.Info("entry served and deleted", "id", d.id)
		}
	})
}

const consequenceTimeout = 30 * time.Second

// Open runs the access state machine for one read request. password is
// the submitted credential; passwordSet distinguishes "no credential"
// (challenge) from "empty credential" (mismatch).
//
// It returns ErrNotFound for absent, expired or exhausted entries alike,
// ErrPasswordRequired when a gated entry got no credential, and
// ErrUnauthorized on a mismatch; neither failure consumes budget. On
// success the caller owns the returned Download and must Commit it.
func (g *Gate) Open(ctx context.Context, id, name, password string, passwordSet bool) (*Download, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	release := g.locks.Acquire(id)
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	info, err := g.store.Info(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	// Expiry is decided before the credential is even looked at: an
	// expired entry is gone no matter what was submitted, and must not
	// betray through a password error that it ever existed.
	now := g.now()
	decision := Evaluate(info.Meta, info.ModTime, false, now)
	switch decision.Outcome {
	case OutcomeExpired:
		if err := g.store.Delete(ctx, id); err != nil {
			g.logger.Error("delete expired entry", "id", id, "err", err)
		} else {
			g.logger.Info("entry expired during access", "id", id)
		}
		return nil, fmt.Errorf("open %s: %w", id, ErrNotFound)
	case OutcomePasswordRequired:
		if !passwordSet {
			return nil, fmt.Errorf("open %s: %w", id, ErrPasswordRequired)
		}
		if !cryptox.CheckPassword(info.Meta.PasswordHash, password) {
			g.logger.Warn("password mismatch", "id", id)
			return nil, fmt.Errorf("open %s: %w", id, ErrUnauthorized)
		}
		decision = Evaluate(info.Meta, info.ModTime, true, now)
	}

	content, size, err := g.store.OpenBlob(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	ok = true
	return &Download{
		Name:        name,
		Size:        size,
		Content:     content,
		gate:        g,
		id:          id,
		consequence: decision.Consequence,
		newCount:    decision.NewCount,
		meta:        info.Meta,
		release:     release,
	}, nil
}

// Peek reads an entry's blob without consuming its download budget. It
// still enforces expiry. Used by the pretty-print viewer, which reuses
// upload storage but is not lifecycle-managed the same way.
func (g *Gate) Peek(ctx context.Context, id, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}

	release := g.locks.Acquire(id)
	defer release()

	info, err := g.store.Info(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", id, err)
	}

	decision := Evaluate(info.Meta, info.ModTime, true, g.now())
	if decision.Outcome == OutcomeExpired {
		if err := g.store.Delete(ctx, id); err != nil {
			g.logger.Error("delete expired entry", "id", id, "err", err)
		}
		return nil, fmt.Errorf("peek %s: %w", id, ErrNotFound)
	}

	content, _, err := g.store.OpenBlob(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", id, err)
	}
	defer func() {
		if closeErr := content.Close(); closeErr != nil {
			g.logger.Warn("close blob", "id", id, "err", closeErr)
		}
	}()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w: %v", id, ErrStorage, err)
	}

	return data, nil
}

// Exists reports whether an entry is present, without evaluating policy
// or consuming budget. The QR endpoint uses it as a liveness check.
func (g *Gate) Exists(ctx context.Context, id, name string) bool {
	_, err := g.store.Info(ctx, id, name)
	return err == nil
}
