package qurl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qurlsh/qurl/cryptox"
)

// Vault stores one-time-read encrypted secrets. The plaintext is sealed
// with a fresh key at store time; only the ciphertext is persisted and
// the key is returned to the creator exactly once.
//
// Retrieval burns on attempt: a lookup hit deletes the ciphertext before
// decryption is even tried, so at most one retrieval attempt ever reaches
// live ciphertext. The cost, accepted deliberately, is that an attacker
// holding the id but a wrong key destroys a secret they cannot read.
type Vault struct {
	store  SecretStore
	locks  *LockTable
	logger *slog.Logger
}

// NewVault creates a Vault over store, sharing the process lock table.
func NewVault(store SecretStore, locks *LockTable, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{store: store, locks: locks, logger: logger}
}

// Store seals plaintext under a fresh AES-256 key, persists the
// ciphertext and returns the new id along with the encoded key. No copy
// of the key survives this call server-side.
func (v *Vault) Store(ctx context.Context, plaintext []byte) (id, key string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", fmt.Errorf("store secret: %w", err)
	}

	if len(plaintext) == 0 {
		return "", "", fmt.Errorf("store secret: %w: no content", ErrInvalidInput)
	}

	rawKey, err := cryptox.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("store secret: %w", err)
	}

	ciphertext, err := cryptox.Encrypt(rawKey, plaintext)
	if err != nil {
		return "", "", fmt.Errorf("store secret: %w", err)
	}

	id, err = v.store.Put(ctx, ciphertext)
	if err != nil {
		return "", "", fmt.Errorf("store secret: %w", err)
	}

	v.logger.Info("secret created", "id", id)
	return id, cryptox.EncodeKey(rawKey), nil
}

// Retrieve looks up a secret by id and attempts decryption with the
// supplied key. If the id is absent it returns ErrNotFound. If present,
// the ciphertext is deleted first and unconditionally; a failed
// decryption returns ErrDecryptFailed with the secret already gone.
func (v *Vault) Retrieve(ctx context.Context, id, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieve secret: %w", err)
	}

	release := v.locks.Acquire(secretLockKey(id))
	defer release()

	ciphertext, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieve secret %s: %w", id, err)
	}

	// Burn before decrypting. A delete failure leaves the ciphertext
	// recoverable, which would break the at-most-once guarantee, so it
	// aborts the retrieval.
	if err := v.store.Delete(ctx, id); err != nil {
		v.logger.Error("burn secret", "id", id, "err", err)
		return nil, fmt.Errorf("retrieve secret %s: %w", id, err)
	}
	v.logger.Info("secret burned", "id", id)

	rawKey, err := cryptox.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("retrieve secret %s: %w", id, ErrDecryptFailed)
	}

	plaintext, err := cryptox.Decrypt(rawKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("retrieve secret %s: %w", id, ErrDecryptFailed)
	}

	return plaintext, nil
}

// secretLockKey namespaces secret ids in the shared lock table so they
// cannot collide with entry ids.
func secretLockKey(id string) string {
	return "secrets/" + id
}
