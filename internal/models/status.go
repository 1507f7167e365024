package models

import (
	"fmt"

	"github.com/aminsaedi/navaar/internal/shared"
)

// Status is a track record's position in its sync lifecycle.
//
// Records move strictly forward through
// pending -> identifying -> searching -> syncing -> {synced | failed | duplicate},
// with the single backward edge failed -> pending for retries. Stages may be
// skipped forward (a pull record goes pending -> syncing directly), never
// revisited.
type Status string

const (
	StatusPending     Status = "pending"
	StatusIdentifying Status = "identifying"
	StatusSearching   Status = "searching"
	StatusSyncing     Status = "syncing"
	StatusSynced      Status = "synced"
	StatusFailed      Status = "failed"
	StatusDuplicate   Status = "duplicate"
)

var validStatuses = map[Status]bool{
	StatusPending:     true,
	StatusIdentifying: true,
	StatusSearching:   true,
	StatusSyncing:     true,
	StatusSynced:      true,
	StatusFailed:      true,
	StatusDuplicate:   true,
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusIdentifying, StatusSearching, StatusSyncing, StatusSynced, StatusFailed, StatusDuplicate},
	StatusIdentifying: {StatusSearching, StatusSyncing, StatusFailed},
	StatusSearching:   {StatusSyncing, StatusFailed, StatusDuplicate},
	StatusSyncing:     {StatusSynced, StatusFailed, StatusDuplicate},
	StatusFailed:      {StatusPending},
	StatusSynced:      {},
	StatusDuplicate:   {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// Terminal reports whether a record in this status has finished its lifecycle.
// Failed records are terminal until an explicit retry resets them to pending.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusFailed || s == StatusDuplicate
}

// CanTransition reports whether the state machine permits moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error wrapping [shared.ErrInvalidTransition]
// when the move from s to next is not permitted. Callers treat that error as a
// programming fault, not a per-record failure.
func (s Status) ValidateTransition(next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidTransition, next)
	}
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, s, next)
	}
	return nil
}

func (s Status) String() string {
	return string(s)
}
