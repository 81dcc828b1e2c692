package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/Dosada05/bracket-engine/models"
)

type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func checkAffectedRows(result sql.Result, notFoundError error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundError
	}
	return nil
}

func pqErrorCode(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// nullableInt converts an optional id into a driver value; squirrel renders a
// nil value in sq.Eq as IS NULL.
func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func slotState(s models.Slot) models.SlotState {
	if s.State == "" {
		return models.SlotEmpty
	}
	return s.State
}

func slotFromColumns(state string, entrantID sql.NullInt64) models.Slot {
	s := models.Slot{State: models.SlotState(state)}
	if entrantID.Valid {
		id := int(entrantID.Int64)
		s.EntrantID = &id
	}
	if s.State == "" {
		s.State = models.SlotEmpty
	}
	return s
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	id := int(v.Int64)
	return &id
}

func exists(ctx context.Context, exec SQLExecutor, table string, id int) (bool, error) {
	query, args, err := psql.Select("1").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = exec.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s %d: %w", table, id, err)
	}
	return true, nil
}
