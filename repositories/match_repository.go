package repositories

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Dosada05/bracket-engine/models"
)

var matchColumns = []string{
	"id", "tournament_id", "round", "number", "uid",
	"slot1_state", "slot1_entrant_id", "slot2_state", "slot2_entrant_id",
	"status", "winner_entrant_id", "score", "is_bye",
	"feeds_to_match_id", "feeds_to_position", "previous_match1_id", "previous_match2_id",
	"created_at", "updated_at",
}

type postgresMatchRepository struct {
	exec SQLExecutor
}

func NewPostgresMatchRepository(exec SQLExecutor) MatchRepository {
	return &postgresMatchRepository{exec: exec}
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	query, args, err := psql.Select(matchColumns...).
		From("matches").
		Where(sq.Eq{"tournament_id": tournamentID}).
		OrderBy("round ASC", "number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build match list query: %w", err)
	}

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func scanMatch(rows *sql.Rows) (*models.Match, error) {
	var m models.Match
	var slot1State, slot2State, status string
	var slot1, slot2, winner sql.NullInt64
	var feedsTo, feedsPos, prev1, prev2 sql.NullInt64
	var score sql.NullString
	err := rows.Scan(
		&m.ID, &m.TournamentID, &m.Round, &m.Number, &m.UID,
		&slot1State, &slot1, &slot2State, &slot2,
		&status, &winner, &score, &m.IsBye,
		&feedsTo, &feedsPos, &prev1, &prev2,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Slot1 = slotFromColumns(slot1State, slot1)
	m.Slot2 = slotFromColumns(slot2State, slot2)
	m.Status = models.MatchStatus(status)
	m.WinnerID = intFromNull(winner)
	if score.Valid {
		s := score.String
		m.Score = &s
	}
	m.FeedsToMatchID = intFromNull(feedsTo)
	m.FeedsToPosition = intFromNull(feedsPos)
	m.PreviousMatch1ID = intFromNull(prev1)
	m.PreviousMatch2ID = intFromNull(prev2)
	return &m, nil
}

// InsertMatches persists in two passes: rows first, then the edges that
// pointed at provisional ids. Run it inside a transaction.
func (r *postgresMatchRepository) InsertMatches(ctx context.Context, tournamentID int, matches []*models.Match) ([]int, error) {
	type edges struct {
		feedsTo, prev1, prev2 *int
	}
	original := make([]edges, len(matches))
	idMap := make(map[int]int, len(matches))
	rounds := make(map[int]bool)

	for i, m := range matches {
		original[i] = edges{feedsTo: m.FeedsToMatchID, prev1: m.PreviousMatch1ID, prev2: m.PreviousMatch2ID}
		m.TournamentID = tournamentID
		rounds[m.Round] = true

		query, args, err := psql.Insert("matches").
			Columns(
				"tournament_id", "round", "number", "uid",
				"slot1_state", "slot1_entrant_id", "slot2_state", "slot2_entrant_id",
				"status", "winner_entrant_id", "score", "is_bye",
				"feeds_to_match_id", "feeds_to_position", "previous_match1_id", "previous_match2_id",
			).
			Values(
				tournamentID, m.Round, m.Number, m.UID,
				slotState(m.Slot1), nullableInt(m.Slot1.EntrantID), slotState(m.Slot2), nullableInt(m.Slot2.EntrantID),
				m.Status, nullableInt(m.WinnerID), m.Score, m.IsBye,
				nullableInt(resolveEdge(m.FeedsToMatchID, idMap)), nullableInt(m.FeedsToPosition),
				nullableInt(resolveEdge(m.PreviousMatch1ID, idMap)), nullableInt(resolveEdge(m.PreviousMatch2ID, idMap)),
			).
			Suffix("RETURNING id, created_at, updated_at").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build match insert: %w", err)
		}

		provisional := m.ID
		if err := r.exec.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, r.handleMatchError(fmt.Errorf("failed to insert match %s: %w", m.UID, err))
		}
		if isProvisional(provisional) {
			idMap[provisional] = m.ID
		}
	}

	for i, m := range matches {
		e := original[i]
		m.FeedsToMatchID = resolveEdge(e.feedsTo, idMap)
		m.PreviousMatch1ID = resolveEdge(e.prev1, idMap)
		m.PreviousMatch2ID = resolveEdge(e.prev2, idMap)
		if !pointsAtProvisional(e.feedsTo) && !pointsAtProvisional(e.prev1) && !pointsAtProvisional(e.prev2) {
			continue
		}

		query, args, err := psql.Update("matches").
			Set("feeds_to_match_id", nullableInt(m.FeedsToMatchID)).
			Set("feeds_to_position", nullableInt(m.FeedsToPosition)).
			Set("previous_match1_id", nullableInt(m.PreviousMatch1ID)).
			Set("previous_match2_id", nullableInt(m.PreviousMatch2ID)).
			Where(sq.Eq{"id": m.ID}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build match link update: %w", err)
		}
		result, err := r.exec.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to link match %d: %w", m.ID, err)
		}
		if err := checkAffectedRows(result, ErrMatchNotFound); err != nil {
			return nil, err
		}
	}

	for round := range rounds {
		if _, err := r.claimRound(ctx, tournamentID, round); err != nil {
			return nil, err
		}
	}

	ids := make([]int, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids, nil
}

func pointsAtProvisional(id *int) bool {
	return id != nil && isProvisional(*id)
}

func (r *postgresMatchRepository) claimRound(ctx context.Context, tournamentID, round int) (bool, error) {
	query, args, err := psql.Insert("bracket_rounds").
		Columns("tournament_id", "round").
		Values(tournamentID, round).
		Suffix("ON CONFLICT (tournament_id, round) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build round claim: %w", err)
	}
	result, err := r.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return false, r.handleMatchError(fmt.Errorf("failed to claim round %d of tournament %d: %w", round, tournamentID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresMatchRepository) InsertRoundIfAbsent(ctx context.Context, tournamentID, round int, matches []*models.Match, links []RoundLink) (bool, error) {
	claimed, err := r.claimRound(ctx, tournamentID, round)
	if err != nil || !claimed {
		return false, err
	}

	provisional := make(map[int]*models.Match, len(matches))
	for _, m := range matches {
		provisional[m.ID] = m
	}
	if _, err := r.InsertMatches(ctx, tournamentID, matches); err != nil {
		return false, err
	}

	for _, l := range links {
		target, ok := provisional[l.TargetMatchID]
		if !ok {
			return false, fmt.Errorf("link from match %d targets unknown match %d", l.SourceMatchID, l.TargetMatchID)
		}
		query, args, err := psql.Update("matches").
			Set("feeds_to_match_id", target.ID).
			Set("feeds_to_position", l.Position).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": l.SourceMatchID, "tournament_id": tournamentID, "feeds_to_match_id": nil}).
			ToSql()
		if err != nil {
			return false, fmt.Errorf("failed to build source link update: %w", err)
		}
		result, err := r.exec.ExecContext(ctx, query, args...)
		if err != nil {
			return false, fmt.Errorf("failed to link source match %d: %w", l.SourceMatchID, err)
		}
		if err := checkAffectedRows(result, ErrMatchConflict); err != nil {
			return false, err
		}
	}
	return true, nil
}

// buildMatchUpdate renders a compare-and-set UPDATE: Set fields become SET
// clauses, Expect fields become WHERE conditions.
func buildMatchUpdate(matchID int, p models.MatchPatch) (string, []interface{}, error) {
	q := psql.Update("matches").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": matchID})

	if p.Status != nil {
		q = q.Set("status", string(*p.Status))
	}
	if p.WinnerID != nil {
		q = q.Set("winner_entrant_id", *p.WinnerID)
	}
	if p.Score != nil {
		q = q.Set("score", *p.Score)
	}
	if p.Slot1 != nil {
		q = q.Set("slot1_state", string(slotState(*p.Slot1))).Set("slot1_entrant_id", nullableInt(p.Slot1.EntrantID))
	}
	if p.Slot2 != nil {
		q = q.Set("slot2_state", string(slotState(*p.Slot2))).Set("slot2_entrant_id", nullableInt(p.Slot2.EntrantID))
	}
	if p.FeedsToMatchID != nil {
		q = q.Set("feeds_to_match_id", *p.FeedsToMatchID)
	}
	if p.FeedsToPosition != nil {
		q = q.Set("feeds_to_position", *p.FeedsToPosition)
	}

	if p.ExpectStatus != nil {
		q = q.Where(sq.Eq{"status": string(*p.ExpectStatus)})
	}
	if p.ExpectWinnerID != nil {
		q = q.Where(sq.Eq{"winner_entrant_id": nullableInt(*p.ExpectWinnerID)})
	}
	if p.ExpectSlot1 != nil {
		q = q.Where(slotCondition("slot1", *p.ExpectSlot1))
	}
	if p.ExpectSlot2 != nil {
		q = q.Where(slotCondition("slot2", *p.ExpectSlot2))
	}
	return q.ToSql()
}

func slotCondition(prefix string, s models.Slot) sq.Eq {
	if s.Filled() {
		return sq.Eq{prefix + "_entrant_id": *s.EntrantID}
	}
	return sq.Eq{prefix + "_state": string(slotState(s)), prefix + "_entrant_id": nil}
}

func (r *postgresMatchRepository) Update(ctx context.Context, matchID int, patch models.MatchPatch) error {
	query, args, err := buildMatchUpdate(matchID, patch)
	if err != nil {
		return fmt.Errorf("failed to build match update: %w", err)
	}
	result, err := r.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return r.handleMatchError(fmt.Errorf("failed to update match %d: %w", matchID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	found, err := exists(ctx, r.exec, "matches", matchID)
	if err != nil {
		return err
	}
	if !found {
		return ErrMatchNotFound
	}
	return ErrMatchConflict
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	code, constraint, ok := pqErrorCode(err)
	if !ok {
		return err
	}
	switch {
	case code == pqForeignKeyViolation && constraint == "matches_tournament_id_fkey":
		return fmt.Errorf("%w: %v", ErrMatchTournamentInvalid, err)
	case code == pqUniqueViolation && constraint == "matches_tournament_id_round_number_key":
		return fmt.Errorf("%w: %v", ErrMatchConflict, err)
	}
	return err
}
