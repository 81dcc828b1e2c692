package brackets

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/models"
)

func TestValidateCompletion_RoundOrder(t *testing.T) {
	b := seededBracket(t, 8, individuals(6), "")
	r2m1 := matchByUID(t, b, "R2M1")
	require.Equal(t, models.MatchStatusScheduled, r2m1.Status)

	err := ValidateCompletion(b, r2m1.ID)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, r2m1.ID, verr.MatchID)
	assert.Equal(t, "scheduled", verr.Actual)

	complete(t, b, "R1M3", 3)
	complete(t, b, "R1M4", 4)
	assert.NoError(t, ValidateCompletion(b, r2m1.ID))
}

func TestCheckSourcesCompleted(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	final := b.Final()

	assert.True(t, errors.Is(CheckSourcesCompleted(b, final), ErrValidation))

	complete(t, b, "R1M1", 1)
	complete(t, b, "R1M2", 2)
	assert.NoError(t, CheckSourcesCompleted(b, final))
}

func TestCheckAdvancedSlots_NonWinner(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	complete(t, b, "R1M1", 1)

	final := b.Final()
	final.Slot1 = models.EntrantSlot(3)

	err := CheckAdvancedSlots(b, final)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "entrant:1", verr.Expected)
	assert.Equal(t, "entrant:3", verr.Actual)
	assert.Error(t, ValidateBracket(b))
}

func TestCheckAdvancedSlots_FilledBeforeSourceCompleted(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	final := b.Final()
	final.Slot2 = models.EntrantSlot(2)

	assert.True(t, errors.Is(CheckAdvancedSlots(b, final), ErrValidation))
}

func TestPendingAdvancements(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	complete(t, b, "R1M1", 1)
	assert.Empty(t, PendingAdvancements(b))

	r1m2 := matchByUID(t, b, "R1M2")
	r1m2.Status = models.MatchStatusCompleted
	r1m2.WinnerID = models.IntPtr(4)

	pending := PendingAdvancements(b)
	require.Len(t, pending, 1)
	assert.Equal(t, r1m2.ID, pending[0].ID)

	plan, err := CompleteMatch(b, r1m2.ID, 4, nil)
	require.NoError(t, err)
	assert.False(t, plan.Completes)
	require.NotNil(t, plan.Advance)
	assert.True(t, plan.Advance.Schedule)
	require.NoError(t, b.Apply(plan))
	assert.Empty(t, PendingAdvancements(b))
}

func TestAdvancementConflicts(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	assert.Empty(t, AdvancementConflicts(b))

	complete(t, b, "R1M1", 1)
	assert.Empty(t, AdvancementConflicts(b))

	r1m1 := matchByUID(t, b, "R1M1")
	final := b.Final()
	final.Slot1 = models.EntrantSlot(3)

	conflicts := AdvancementConflicts(b)
	require.Len(t, conflicts, 1)
	assert.Equal(t, r1m1.ID, conflicts[0].SourceMatchID)
	assert.Equal(t, final.ID, conflicts[0].TargetMatchID)
	assert.Equal(t, 1, conflicts[0].Position)
	assert.Equal(t, 3, conflicts[0].Existing)
	assert.Equal(t, 1, conflicts[0].Incoming)
	assert.True(t, errors.Is(conflicts[0], ErrAdvancementConflict))
	assert.Empty(t, PendingAdvancements(b))
}

func TestValidateBracket_UnknownStatus(t *testing.T) {
	b := seededBracket(t, 4, individuals(4), "")
	require.NoError(t, ValidateBracket(b))

	matchByUID(t, b, "R1M2").Status = "abandoned"
	err := ValidateBracket(b)
	require.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), `unknown status "abandoned"`)
}

// Every roster size of every capacity up to 32 is played to the end by
// completing randomly chosen open matches, earlier rounds included or not.
func TestValidateCompletion_RoundOrderHoldsForAnyOrder(t *testing.T) {
	for _, capacity := range []int{2, 4, 8, 16, 32} {
		for entrants := max(2, capacity/2); entrants <= capacity; entrants++ {
			t.Run(fmt.Sprintf("%d_of_%d", entrants, capacity), func(t *testing.T) {
				rng := rand.New(rand.NewSource(int64(capacity*1000 + entrants)))
				b := seededBracket(t, capacity, individuals(entrants), "")

				for attempts := 0; !b.Final().Completed(); attempts++ {
					require.Less(t, attempts, 100*capacity, "bracket never finished")

					var open []*models.Match
					for _, m := range b.Matches() {
						if !m.Completed() {
							open = append(open, m)
						}
					}
					m := open[rng.Intn(len(open))]

					if err := ValidateCompletion(b, m.ID); err != nil {
						require.True(t, errors.Is(err, ErrValidation), "match %s: %v", m.UID, err)
						continue
					}
					for r := 1; r < m.Round; r++ {
						require.True(t, b.RoundComplete(r), "%s accepted with round %d open", m.UID, r)
					}

					winner := entrantOf(m.Slot1)
					if rng.Intn(2) == 1 && m.Slot2.Filled() {
						winner = entrantOf(m.Slot2)
					}
					plan, err := CompleteMatch(b, m.ID, winner, nil)
					require.NoError(t, err, m.UID)
					require.NoError(t, b.Apply(plan), m.UID)
					require.NoError(t, ValidateBracket(b), m.UID)
				}
				assert.NotNil(t, b.Champion())
			})
		}
	}
}
