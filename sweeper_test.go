package qurl_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/filesystem"
)

func newSweepFixture(t *testing.T) (string, *qurl.Gate, *filesystem.Store, *filesystem.Secrets, *qurl.LockTable) {
	t.Helper()

	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	store := filesystem.NewStore(root)
	secrets := filesystem.NewSecrets(root)
	locks := qurl.NewLockTable()
	gate := qurl.NewGate(store, locks, qurl.DefaultRetentionLimits(), discardLogger())
	return dir, gate, store, secrets, locks
}

func TestSweeper_RemovesExpiredEntries(t *testing.T) {
	_, gate, store, _, locks := newSweepFixture(t)
	ctx := context.Background()

	expired := mustUpload(t, gate, "old.txt", "old", qurl.UploadOptions{TTL: time.Millisecond})
	fresh := mustUpload(t, gate, "new.txt", "new", qurl.UploadOptions{TTL: time.Hour})
	time.Sleep(10 * time.Millisecond)

	sweeper := qurl.NewSweeper(store, nil, locks, time.Hour, time.Hour, discardLogger())

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Info(ctx, expired, "old.txt")
	assert.ErrorIs(t, err, qurl.ErrNotFound)

	info, err := store.Info(ctx, fresh, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Meta.RemainingDownloads)
}

func TestSweeper_SweepIsIdempotent(t *testing.T) {
	_, gate, store, _, locks := newSweepFixture(t)
	ctx := context.Background()

	mustUpload(t, gate, "old.txt", "old", qurl.UploadOptions{TTL: time.Millisecond})
	time.Sleep(10 * time.Millisecond)

	sweeper := qurl.NewSweeper(store, nil, locks, time.Hour, time.Hour, discardLogger())

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestSweeper_EmptyNamespace(t *testing.T) {
	_, _, store, _, locks := newSweepFixture(t)

	sweeper := qurl.NewSweeper(store, nil, locks, time.Hour, time.Hour, discardLogger())

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestSweeper_RemovesStaleSecrets(t *testing.T) {
	dir, _, store, secrets, locks := newSweepFixture(t)
	ctx := context.Background()

	stale, err := secrets.Put(ctx, []byte("old ciphertext"))
	require.NoError(t, err)
	fresh, err := secrets.Put(ctx, []byte("new ciphertext"))
	require.NoError(t, err)

	// Age the stale secret's file past the retention window.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "secrets", stale, "secret.enc"), old, old))

	sweeper := qurl.NewSweeper(store, secrets, locks, time.Hour, 24*time.Hour, discardLogger())

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = secrets.Get(ctx, stale)
	assert.ErrorIs(t, err, qurl.ErrNotFound)

	_, err = secrets.Get(ctx, fresh)
	assert.NoError(t, err)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	_, _, store, _, locks := newSweepFixture(t)

	sweeper := qurl.NewSweeper(store, nil, locks, 10*time.Millisecond, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
