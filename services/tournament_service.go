package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/bracket-engine/models"
	"github.com/Dosada05/bracket-engine/repositories"
)

type CreateTournamentInput struct {
	Name        string             `json:"name"`
	EntrantKind models.EntrantKind `json:"entrant_kind"`
}

type RegisterInput struct {
	DisplayName  string          `json:"display_name"`
	Members      []models.Member `json:"members"`
	SeedPosition *int            `json:"seed_position,omitempty"`
}

type TournamentService interface {
	CreateTournament(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error)
	GetTournament(ctx context.Context, id int) (*models.Tournament, error)
	Register(ctx context.Context, tournamentID int, input RegisterInput) (*models.Registration, error)
	ListRegistrations(ctx context.Context, tournamentID int) ([]*models.Registration, error)
}

type tournamentService struct {
	store  repositories.Store
	logger *slog.Logger
}

func NewTournamentService(store repositories.Store, logger *slog.Logger) TournamentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &tournamentService{store: store, logger: logger}
}

func (s *tournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrTournamentNameRequired
	}
	kind := input.EntrantKind
	if kind == "" {
		kind = models.EntrantIndividual
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrEntrantKindInvalid, kind)
	}

	t := &models.Tournament{Name: name, EntrantKind: kind}
	if err := s.store.Tournaments().Create(ctx, t); err != nil {
		return nil, handleRepositoryError("create tournament", err)
	}
	s.logger.InfoContext(ctx, "tournament created",
		slog.Int("tournament_id", t.ID),
		slog.String("entrant_kind", string(kind)),
	)
	return t, nil
}

func (s *tournamentService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.store.Tournaments().GetByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError("get tournament", err)
	}
	return t, nil
}

// Register adds an entrant of the tournament's kind. Registration closes once
// the bracket is built.
func (s *tournamentService) Register(ctx context.Context, tournamentID int, input RegisterInput) (*models.Registration, error) {
	if input.SeedPosition != nil && *input.SeedPosition < 1 {
		return nil, ErrSeedPositionInvalid
	}

	var reg *models.Registration
	err := s.store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetByID(ctx, tournamentID)
		if err != nil {
			return handleRepositoryError("get tournament", err)
		}
		if t.BracketBuilt() {
			return ErrRegistrationClosed
		}
		competitor, err := models.NewCompetitor(t.EntrantKind, input.Members)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}

		reg = &models.Registration{
			TournamentID: tournamentID,
			Entrant: models.Entrant{
				DisplayName: strings.TrimSpace(input.DisplayName),
				Competitor:  competitor,
			},
			SeedPosition: input.SeedPosition,
		}
		if err := tx.Registrations().Create(ctx, reg); err != nil {
			return handleRepositoryError("create registration", err)
		}
		return nil
	})
	if err != nil {
		return nil, txError("register entrant", err)
	}

	s.logger.InfoContext(ctx, "entrant registered",
		slog.Int("tournament_id", tournamentID),
		slog.Int("entrant_id", reg.ID),
	)
	return reg, nil
}

func (s *tournamentService) ListRegistrations(ctx context.Context, tournamentID int) ([]*models.Registration, error) {
	if _, err := s.store.Tournaments().GetByID(ctx, tournamentID); err != nil {
		return nil, handleRepositoryError("get tournament", err)
	}
	regs, err := s.store.Registrations().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, handleRepositoryError("list registrations", err)
	}
	return regs, nil
}
