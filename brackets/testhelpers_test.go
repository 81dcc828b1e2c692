package brackets

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/models"
)

// individuals returns n registrations with ids 1..n and ranking equal to the id,
// so entrant i is seed i.
func individuals(n int) []*models.Registration {
	regs := make([]*models.Registration, n)
	for i := range regs {
		id := i + 1
		regs[i] = &models.Registration{
			ID: id,
			Entrant: models.Entrant{
				ID:         id,
				Competitor: models.Individual{Member: models.Member{Name: fmt.Sprintf("Player %d", id), Ranking: float64(id)}},
			},
		}
	}
	return regs
}

func fullBracket(t *testing.T, capacity int) *Bracket {
	t.Helper()
	matches, err := BuildStructure(capacity)
	require.NoError(t, err)
	b, err := NewBracket(capacity, matches)
	require.NoError(t, err)
	return b
}

func seededBracket(t *testing.T, capacity int, regs []*models.Registration, policy SeedingPolicy) *Bracket {
	t.Helper()
	b := fullBracket(t, capacity)
	result, err := AssignSeeds(regs, capacity, SeedingOptions{Policy: policy})
	require.NoError(t, err)
	require.NoError(t, ApplySeeding(b, result))
	return b
}

func matchByUID(t *testing.T, b *Bracket, uid string) *models.Match {
	t.Helper()
	for _, m := range b.Matches() {
		if m.UID == uid {
			return m
		}
	}
	t.Fatalf("match %s not found", uid)
	return nil
}

func complete(t *testing.T, b *Bracket, uid string, winner int) {
	t.Helper()
	m := matchByUID(t, b, uid)
	require.NoError(t, ValidateCompletion(b, m.ID))
	plan, err := CompleteMatch(b, m.ID, winner, nil)
	require.NoError(t, err)
	require.NoError(t, b.Apply(plan))
}

func entrantOf(s models.Slot) int {
	if !s.Filled() {
		return 0
	}
	return *s.EntrantID
}
