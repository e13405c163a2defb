package qurl

import "sync"

// LockTable provides per-id mutual exclusion for entry mutations. All
// metadata mutations and the final delete for a given id must run behind
// its lock; entries are independent, so no cross-id ordering exists.
//
// Locks are reference counted and dropped from the table once the last
// holder releases, so the table stays proportional to in-flight requests
// rather than growing with every id the process has ever seen. The table
// holds no persistent state and is safe to lose on restart.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewLockTable returns an empty lock table. One table is shared by the
// gate, the sweeper and the vault so they serialize against each other.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*entryLock)}
}

// Acquire blocks until the lock for id is held and returns the release
// function. Release must be called exactly once.
func (t *LockTable) Acquire(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &entryLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

// Len reports the number of ids currently tracked.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
