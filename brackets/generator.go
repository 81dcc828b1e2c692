package brackets

import (
	"context"
	"math/rand"

	"github.com/Dosada05/bracket-engine/models"
)

type GenerateBracketParams struct {
	Tournament    *models.Tournament
	Registrations []*models.Registration
	Policy        SeedingPolicy
	Rand          *rand.Rand
}

// GeneratedBracket holds matches with provisional ids, ready to be inserted.
type GeneratedBracket struct {
	Matches []*models.Match
	Seeding *SeedingResult
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) (*GeneratedBracket, error)

	GetName() string
}
