package services

import (
	"errors"

	"github.com/Dosada05/bracket-engine/brackets"
)

// Shared service errors, mapped to HTTP statuses by the handlers.
var (
	ErrValidationFailed       = errors.New("validation failed")
	ErrTournamentNameRequired = errors.New("tournament name is required")
	ErrEntrantKindInvalid     = errors.New("entrant kind must be 'individual' or 'pair'")
	ErrEntrantKindMismatch    = errors.New("entrant kind does not match the tournament")
	ErrGenerationModeInvalid  = errors.New("generation mode must be 'full' or 'incremental'")
	ErrSeedingPolicyInvalid   = errors.New("unknown seeding policy")
	ErrSeedPositionInvalid    = errors.New("seed position must be positive")

	ErrTournamentNotFound = errors.New("tournament not found")
	ErrMatchNotFound      = errors.New("match not found")

	ErrRegistrationConflict = errors.New("seed position is already taken in this tournament")
	ErrRegistrationClosed   = errors.New("registration is closed once the bracket is built")
	ErrBracketAlreadyBuilt  = errors.New("bracket has already been built")
	ErrBracketNotBuilt      = errors.New("bracket has not been built yet")
	ErrConcurrentUpdate     = errors.New("bracket changed concurrently, retry the operation")
)

// isDomainError reports errors that already carry their meaning and must not
// be wrapped as persistence failures.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrValidationFailed, ErrTournamentNameRequired, ErrEntrantKindInvalid,
		ErrEntrantKindMismatch, ErrGenerationModeInvalid, ErrSeedingPolicyInvalid,
		ErrSeedPositionInvalid, ErrTournamentNotFound, ErrMatchNotFound,
		ErrRegistrationConflict, ErrRegistrationClosed, ErrBracketAlreadyBuilt,
		ErrBracketNotBuilt, ErrConcurrentUpdate,
		brackets.ErrStructure, brackets.ErrValidation, brackets.ErrAdvancementConflict,
		brackets.ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
