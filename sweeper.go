package qurl

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper periodically scans the whole namespace and reclaims entries the
// retention policy deems expired, independently of read traffic. It also
// reclaims secrets older than the vault's fixed window.
//
// A sweep takes each entry's lock only for the evaluation and deletion of
// that one entry, so a long scan never blocks uploads or reads of other
// entries. Per-entry failures are logged and skipped; the next scheduled
// pass retries them.
type Sweeper struct {
	store     EntryStore
	secrets   SecretStore
	locks     *LockTable
	interval  time.Duration
	secretTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a Sweeper sharing the gate's lock table. secrets may
// be nil when no vault is deployed. secretTTL <= 0 defaults to 24h.
func NewSweeper(store EntryStore, secrets SecretStore, locks *LockTable, interval, secretTTL time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if secretTTL <= 0 {
		secretTTL = legacyWindow
	}
	return &Sweeper{
		store:     store,
		secrets:   secrets,
		locks:     locks,
		interval:  interval,
		secretTTL: secretTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Sweeper) sweepLogged(ctx context.Context) {
	start := s.now()
	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "err", err)
		return
	}
	if removed > 0 {
		s.logger.Info("sweep complete", "removed", removed, "duration", time.Since(start))
	}
}

// Sweep performs one full pass and returns how many objects it removed.
// Running it twice over an unchanged namespace deletes the same set once;
// the second pass is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	refs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	removed := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return removed, fmt.Errorf("sweep: %w", err)
		}
		if s.sweepEntry(ctx, ref) {
			removed++
		}
	}

	if s.secrets != nil {
		n, err := s.sweepSecrets(ctx)
		removed += n
		if err != nil {
			return removed, fmt.Errorf("sweep: %w", err)
		}
	}

	return removed, nil
}

// sweepEntry evaluates and, if expired, deletes one entry under its lock.
// Reports whether the entry was removed.
func (s *Sweeper) sweepEntry(ctx context.Context, ref EntryRef) bool {
	release := s.locks.Acquire(ref.ID)
	defer release()

	info, err := s.store.Info(ctx, ref.ID, ref.Name)
	if err != nil {
		// A concurrent read may have exhausted the entry between List
		// and here; that is not an error worth logging loudly.
		s.logger.Debug("sweep: entry vanished", "id", ref.ID)
		return false
	}

	decision := Evaluate(info.Meta, info.ModTime, true, s.now())
	if decision.Outcome != OutcomeExpired {
		return false
	}

	if err := s.store.Delete(ctx, ref.ID); err != nil {
		s.logger.Error("sweep: delete failed", "id", ref.ID, "err", err)
		return false
	}

	s.logger.Info("sweep: removed expired entry", "id", ref.ID)
	return true
}

func (s *Sweeper) sweepSecrets(ctx context.Context) (int, error) {
	refs, err := s.secrets.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.secretTTL)
	removed := 0

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !ref.ModTime.Before(cutoff) {
			continue
		}

		release := s.locks.Acquire(secretLockKey(ref.ID))
		if err := s.secrets.Delete(ctx, ref.ID); err != nil {
			s.logger.Error("sweep: secret delete failed", "id", ref.ID, "err", err)
		} else {
			s.logger.Info("sweep: removed stale secret", "id", ref.ID)
			removed++
		}
		release()
	}

	return removed, nil
}
