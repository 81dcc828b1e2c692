package brackets

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrStructure           = errors.New("invalid bracket structure")
	ErrValidation          = errors.New("bracket validation failed")
	ErrAdvancementConflict = errors.New("advancement conflict")
	ErrPersistence         = errors.New("bracket persistence failed")
)

// StructureError reports an invalid capacity or a corrupted topology. It is
// fatal: no partial bracket is produced alongside it.
type StructureError struct {
	Capacity int
	Reason   string
}

func (e *StructureError) Error() string {
	if e.Capacity != 0 {
		return fmt.Sprintf("%s: capacity %d: %s", ErrStructure, e.Capacity, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrStructure, e.Reason)
}

func (e *StructureError) Is(target error) bool {
	return target == ErrStructure
}

// ValidationError rejects an operation without any state change.
type ValidationError struct {
	MatchID  int
	Reason   string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.MatchID != 0 {
		msg = fmt.Sprintf("match %d: %s", e.MatchID, msg)
	}
	if e.Expected != "" || e.Actual != "" {
		msg = fmt.Sprintf("%s (expected %s, got %s)", msg, e.Expected, e.Actual)
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErr(matchID int, reason string) *ValidationError {
	return &ValidationError{MatchID: matchID, Reason: reason}
}

// AdvancementConflict means the target slot already holds a different entrant.
// It is surfaced for manual reconciliation and never resolved automatically.
type AdvancementConflict struct {
	SourceMatchID int `json:"source_match_id"`
	TargetMatchID int `json:"target_match_id"`
	Position      int `json:"position"`
	Existing      int `json:"existing_entrant_id"`
	Incoming      int `json:"incoming_entrant_id"`
}

func (e *AdvancementConflict) Error() string {
	return fmt.Sprintf("%s: match %d cannot advance entrant %d into match %d slot %d, which holds entrant %d",
		ErrAdvancementConflict, e.SourceMatchID, e.Incoming, e.TargetMatchID, e.Position, e.Existing)
}

func (e *AdvancementConflict) Is(target error) bool {
	return target == ErrAdvancementConflict
}

// PersistenceError wraps a failed store operation. The whole logical
// operation it belongs to must be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
