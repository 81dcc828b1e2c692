package repositories

import (
	"context"
	"errors"

	"github.com/Dosada05/bracket-engine/models"
)

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrTournamentConflict     = errors.New("tournament state changed concurrently")
	ErrRegistrationConflict   = errors.New("registration conflicts with an existing one")
	ErrRegistrationInvalid    = errors.New("registration references an invalid tournament")
	ErrMatchNotFound          = errors.New("match not found")
	ErrMatchConflict          = errors.New("match changed since it was read")
	ErrMatchTournamentInvalid = errors.New("match tournament conflict or invalid")
)

type TournamentRepository interface {
	Create(ctx context.Context, t *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	// MarkBracketBuilt fixes capacity, kind, mode and policy. It fails with
	// ErrTournamentConflict when the bracket was already built.
	MarkBracketBuilt(ctx context.Context, t *models.Tournament) error
	// SetChampion records the champion once; a second call is a no-op that
	// reports false.
	SetChampion(ctx context.Context, tournamentID, entrantID int) (bool, error)
	ListInProgress(ctx context.Context) ([]*models.Tournament, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, r *models.Registration) error
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Registration, error)
}

type MatchRepository interface {
	// ListByTournament returns matches ordered by round then number.
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	// InsertMatches stores matches carrying provisional (non-positive) ids.
	// Real ids are assigned and every edge pointing at a provisional id is
	// rewritten. The returned ids follow the input order.
	InsertMatches(ctx context.Context, tournamentID int, matches []*models.Match) ([]int, error)
	// InsertRoundIfAbsent claims (tournamentID, round) and inserts the round
	// with its source links. It reports false, inserting nothing, when the
	// round already exists.
	InsertRoundIfAbsent(ctx context.Context, tournamentID, round int, matches []*models.Match, links []RoundLink) (bool, error)
	// Update applies a compare-and-set patch, returning ErrMatchConflict when
	// an expectation fails and ErrMatchNotFound for an unknown id.
	Update(ctx context.Context, matchID int, patch models.MatchPatch) error
}

// RoundLink sets the forward edge of an existing match to a match of the
// round being inserted, identified by its provisional id.
type RoundLink struct {
	SourceMatchID int
	TargetMatchID int
	Position      int
}

// Store groups the repositories. Repositories returned from the Store passed
// to InTx's callback run inside one transaction: any error rolls all of them back.
type Store interface {
	Tournaments() TournamentRepository
	Registrations() RegistrationRepository
	Matches() MatchRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

// isProvisional reports whether id was assigned by the bracket builder.
func isProvisional(id int) bool {
	return id <= 0
}

// resolveEdges rewrites provisional edge ids through idMap and keeps real ids.
func resolveEdge(id *int, idMap map[int]int) *int {
	if id == nil {
		return nil
	}
	if !isProvisional(*id) {
		return models.IntPtr(*id)
	}
	real, ok := idMap[*id]
	if !ok {
		return nil
	}
	return models.IntPtr(real)
}
