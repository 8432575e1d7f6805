package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation marks a malformed or out-of-bound action payload,
	// rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrInvariant marks a post-apply check failure (price simplex broken,
	// replay-vs-cache mismatch). Fatal for that timeline's in-memory state;
	// the engine forces a reload from the ledger.
	ErrInvariant = errors.New("invariant violation")

	// ErrDeadlineRace marks an extraction that arrived after detonation.
	// The action is late, not wrong; it is rejected and never retried.
	ErrDeadlineRace = errors.New("incident already detonated")

	// ErrCollaborator marks an unavailable external collaborator. The
	// affected heartbeat tick is skipped, never fabricated.
	ErrCollaborator = errors.New("collaborator unavailable")

	ErrParadoxActive    = errors.New("paradox already active")
	ErrNoParadox        = errors.New("no active paradox")
	ErrNotCarrier       = errors.New("actor is not the designated carrier")
	ErrTimelineArchived = errors.New("timeline is not active")
	ErrLockHeld         = errors.New("lock already held")
)
