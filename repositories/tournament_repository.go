package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Dosada05/bracket-engine/models"
)

var tournamentColumns = []string{
	"id", "name", "entrant_kind", "capacity", "total_rounds", "generation_mode",
	"seeding_policy", "bracket_built_at", "champion_entrant_id", "created_at",
}

type postgresTournamentRepository struct {
	exec SQLExecutor
}

func NewPostgresTournamentRepository(exec SQLExecutor) TournamentRepository {
	return &postgresTournamentRepository{exec: exec}
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (name, entrant_kind, capacity, total_rounds, generation_mode, seeding_policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.exec.QueryRowContext(ctx, query,
		t.Name, t.EntrantKind, t.Capacity, t.TotalRounds, t.GenerationMode, t.SeedingPolicy,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tournament: %w", err)
	}
	return nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	query, args, err := psql.Select(tournamentColumns...).From("tournaments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tournament query: %w", err)
	}

	t, err := scanTournament(r.exec.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament by id %d: %w", id, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTournament(row rowScanner) (*models.Tournament, error) {
	var t models.Tournament
	var kind, mode, policy string
	var builtAt sql.NullTime
	var champion sql.NullInt64
	err := row.Scan(
		&t.ID, &t.Name, &kind, &t.Capacity, &t.TotalRounds, &mode,
		&policy, &builtAt, &champion, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.EntrantKind = models.EntrantKind(kind)
	t.GenerationMode = models.GenerationMode(mode)
	t.SeedingPolicy = policy
	if builtAt.Valid {
		ts := builtAt.Time
		t.BracketBuiltAt = &ts
	}
	t.ChampionEntrantID = intFromNull(champion)
	return &t, nil
}

func (r *postgresTournamentRepository) MarkBracketBuilt(ctx context.Context, t *models.Tournament) error {
	query := `
		UPDATE tournaments
		SET capacity = $1, total_rounds = $2, entrant_kind = $3, generation_mode = $4,
		    seeding_policy = $5, bracket_built_at = NOW()
		WHERE id = $6 AND bracket_built_at IS NULL
		RETURNING bracket_built_at`

	var builtAt sql.NullTime
	err := r.exec.QueryRowContext(ctx, query,
		t.Capacity, t.TotalRounds, t.EntrantKind, t.GenerationMode, t.SeedingPolicy, t.ID,
	).Scan(&builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		found, existsErr := exists(ctx, r.exec, "tournaments", t.ID)
		if existsErr != nil {
			return existsErr
		}
		if !found {
			return ErrTournamentNotFound
		}
		return ErrTournamentConflict
	}
	if err != nil {
		return fmt.Errorf("failed to mark bracket built for tournament %d: %w", t.ID, err)
	}
	ts := builtAt.Time
	t.BracketBuiltAt = &ts
	return nil
}

func (r *postgresTournamentRepository) SetChampion(ctx context.Context, tournamentID, entrantID int) (bool, error) {
	query := `UPDATE tournaments SET champion_entrant_id = $1 WHERE id = $2 AND champion_entrant_id IS NULL`
	result, err := r.exec.ExecContext(ctx, query, entrantID, tournamentID)
	if err != nil {
		return false, fmt.Errorf("failed to set champion for tournament %d: %w", tournamentID, err)
	}
	if err := checkAffectedRows(result, ErrTournamentConflict); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrTournamentConflict) {
		return false, err
	}

	found, err := exists(ctx, r.exec, "tournaments", tournamentID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, ErrTournamentNotFound
	}
	return false, nil
}

func (r *postgresTournamentRepository) ListInProgress(ctx context.Context) ([]*models.Tournament, error) {
	query, args, err := psql.Select(tournamentColumns...).
		From("tournaments").
		Where(sq.NotEq{"bracket_built_at": nil}).
		Where(sq.Eq{"champion_entrant_id": nil}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build in-progress query: %w", err)
	}

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query in-progress tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		t, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", scanErr)
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament rows iteration: %w", err)
	}
	return tournaments, nil
}
