package qurl

import "time"

// Outcome is the verdict of a single policy evaluation.
type Outcome int

const (
	// OutcomeExpired means the entry is past its expiry and must be
	// deleted without revealing content.
	OutcomeExpired Outcome = iota
	// OutcomePasswordRequired means the entry is gated and the caller has
	// not yet supplied a verified password.
	OutcomePasswordRequired
	// OutcomeGrant means the content may be served; the decision carries
	// the consequence to apply once it has been.
	OutcomeGrant
)

// Consequence is the mutation a granted read must apply after serving.
type Consequence int

const (
	// ConsequenceNone applies to non-grant outcomes.
	ConsequenceNone Consequence = iota
	// ConsequenceDecrement persists the decremented download budget.
	ConsequenceDecrement
	// ConsequenceDeleteAfterRead deletes the entry outright; the budget
	// never reaches an observable zero.
	ConsequenceDeleteAfterRead
)

// Decision is the result of evaluating an entry's retention metadata.
type Decision struct {
	Outcome     Outcome
	Consequence Consequence
	// NewCount is the budget to persist when Consequence is
	// ConsequenceDecrement.
	NewCount int
}

// legacyWindow is the retention applied to records with no expiry time at
// all, measured from the store's last-modified time. Compatibility
// fallback, not a general policy.
const legacyWindow = 24 * time.Hour

// Evaluate is the retention policy engine: a pure function of an entry's
// metadata and the current time. modTime is the storage-level
// last-modified time, consulted only when the record carries no expiry.
// passwordVerified reports whether the caller already presented a
// credential matching the record's digest; verification itself is the
// caller's concern.
func Evaluate(meta Metadata, modTime time.Time, passwordVerified bool, now time.Time) Decision {
	if meta.HasExpiry() {
		if now.After(meta.ExpiresAt()) {
			return Decision{Outcome: OutcomeExpired}
		}
	} else if now.After(modTime.Add(legacyWindow)) {
		return Decision{Outcome: OutcomeExpired}
	}

	if meta.PasswordHash != "" && !passwordVerified {
		return Decision{Outcome: OutcomePasswordRequired}
	}

	// Absent or zero budgets behave like a budget of one.
	remaining := meta.RemainingDownloads
	if remaining < 1 {
		remaining = 1
	}

	if remaining > 1 {
		return Decision{
			Outcome:     OutcomeGrant,
			Consequence: ConsequenceDecrement,
			NewCount:    remaining - 1,
		}
	}

	return Decision{Outcome: OutcomeGrant, Consequence: ConsequenceDeleteAfterRead}
}
