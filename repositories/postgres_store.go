package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type postgresStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger

	tournaments   TournamentRepository
	registrations RegistrationRepository
	matches       MatchRepository
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) Store {
	return newPostgresStore(db, nil, logger)
}

func newPostgresStore(db *sql.DB, tx *sql.Tx, logger *slog.Logger) *postgresStore {
	var exec SQLExecutor = db
	if tx != nil {
		exec = tx
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &postgresStore{
		db:            db,
		tx:            tx,
		logger:        logger,
		tournaments:   NewPostgresTournamentRepository(exec),
		registrations: NewPostgresRegistrationRepository(exec),
		matches:       NewPostgresMatchRepository(exec),
	}
}

func (s *postgresStore) Tournaments() TournamentRepository     { return s.tournaments }
func (s *postgresStore) Registrations() RegistrationRepository { return s.registrations }
func (s *postgresStore) Matches() MatchRepository              { return s.matches }

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *postgresStore) InTx(ctx context.Context, fn func(tx Store) error) (txErr error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr), slog.Any("cause", txErr))
				txErr = fmt.Errorf("transaction processing error: %w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	txErr = fn(newPostgresStore(s.db, tx, s.logger))
	return txErr
}
