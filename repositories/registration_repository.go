package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Dosada05/bracket-engine/models"
)

type postgresRegistrationRepository struct {
	exec SQLExecutor
}

func NewPostgresRegistrationRepository(exec SQLExecutor) RegistrationRepository {
	return &postgresRegistrationRepository{exec: exec}
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	if reg.Entrant.Competitor == nil {
		return fmt.Errorf("%w: entrant is required", models.ErrEntrantMembersInvalid)
	}
	members, err := json.Marshal(reg.Entrant.Competitor.Members())
	if err != nil {
		return fmt.Errorf("failed to encode entrant members: %w", err)
	}

	query := `
		INSERT INTO registrations (tournament_id, kind, display_name, members, seed_position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = r.exec.QueryRowContext(ctx, query,
		reg.TournamentID,
		reg.Entrant.Kind(),
		reg.Entrant.DisplayName,
		members,
		nullableInt(reg.SeedPosition),
	).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		if code, constraint, ok := pqErrorCode(err); ok {
			switch {
			case code == pqUniqueViolation && constraint == "registrations_tournament_id_seed_position_key":
				return ErrRegistrationConflict
			case code == pqForeignKeyViolation && constraint == "registrations_tournament_id_fkey":
				return ErrRegistrationInvalid
			}
		}
		return fmt.Errorf("failed to create registration: %w", err)
	}
	reg.Entrant.ID = reg.ID
	return nil
}

// ListByTournament returns registrations in insertion order.
func (r *postgresRegistrationRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Registration, error) {
	query, args, err := psql.Select("id", "tournament_id", "kind", "display_name", "members", "seed_position", "created_at").
		From("registrations").
		Where(sq.Eq{"tournament_id": tournamentID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build registration query: %w", err)
	}

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	regs := make([]*models.Registration, 0)
	for rows.Next() {
		var reg models.Registration
		var kind string
		var rawMembers []byte
		var seedPosition sql.NullInt64
		if scanErr := rows.Scan(&reg.ID, &reg.TournamentID, &kind, &reg.Entrant.DisplayName, &rawMembers, &seedPosition, &reg.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", scanErr)
		}
		var members []models.Member
		if err := json.Unmarshal(rawMembers, &members); err != nil {
			return nil, fmt.Errorf("failed to decode members of registration %d: %w", reg.ID, err)
		}
		competitor, err := models.NewCompetitor(models.EntrantKind(kind), members)
		if err != nil {
			return nil, fmt.Errorf("registration %d: %w", reg.ID, err)
		}
		reg.Entrant.ID = reg.ID
		reg.Entrant.Competitor = competitor
		reg.SeedPosition = intFromNull(seedPosition)
		regs = append(regs, &reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during registration rows iteration: %w", err)
	}
	return regs, nil
}
