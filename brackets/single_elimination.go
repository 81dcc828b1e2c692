package brackets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Dosada05/bracket-engine/models"
)

type SingleEliminationGenerator struct {
	logger *slog.Logger
}

func NewSingleEliminationGenerator(logger *slog.Logger) BracketGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SingleEliminationGenerator{logger: logger}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket builds the topology for the tournament's capacity, seeds the
// registrations into round 1 and resolves byes. In incremental mode only
// round 1 is produced.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*GeneratedBracket, error) {
	t := params.Tournament
	if t == nil {
		return nil, &ValidationError{Reason: "tournament is required"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.GenerationMode != "" && !t.GenerationMode.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown generation mode %q", t.GenerationMode)}
	}

	// The roster bounds the capacity, so seeding is checked before any match
	// is allocated.
	seeding, err := AssignSeeds(params.Registrations, t.Capacity, SeedingOptions{
		Policy: params.Policy,
		Kind:   t.EntrantKind,
		Rand:   params.Rand,
	})
	if err != nil {
		return nil, err
	}

	var matches []*models.Match
	if t.GenerationMode == models.GenerationIncremental {
		matches, _, err = BuildRound(t.Capacity, 1, nil)
	} else {
		matches, err = BuildStructure(t.Capacity)
	}
	if err != nil {
		return nil, err
	}

	bracket, err := NewBracket(t.Capacity, matches)
	if err != nil {
		return nil, err
	}
	if err := ApplySeeding(bracket, seeding); err != nil {
		return nil, err
	}

	for _, m := range bracket.Matches() {
		m.TournamentID = t.ID
	}

	g.logger.Debug("bracket generated",
		slog.Int("tournament_id", t.ID),
		slog.Int("capacity", t.Capacity),
		slog.String("policy", string(seeding.Policy)),
		slog.Int("byes", seeding.ByeCount),
		slog.Int("matches", len(bracket.Matches())),
	)

	return &GeneratedBracket{Matches: bracket.Matches(), Seeding: seeding}, nil
}
