package brackets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/models"
)

func TestBuildStructure_Topology(t *testing.T) {
	matches, err := BuildStructure(8)
	require.NoError(t, err)
	require.Len(t, matches, 7)

	b, err := NewBracket(8, matches)
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalRounds)
	assert.Len(t, b.Round(1), 4)
	assert.Len(t, b.Round(2), 2)
	assert.Len(t, b.Round(3), 1)

	for i, m := range matches {
		assert.Equal(t, -(i + 1), m.ID, "provisional ids are round-major")
		assert.Equal(t, models.MatchStatusPending, m.Status)
	}

	r1m2 := matchByUID(t, b, "R1M2")
	r1m3 := matchByUID(t, b, "R1M3")
	r2m1 := matchByUID(t, b, "R2M1")
	r2m2 := matchByUID(t, b, "R2M2")

	require.NotNil(t, r1m2.FeedsToMatchID)
	assert.Equal(t, r2m1.ID, *r1m2.FeedsToMatchID)
	assert.Equal(t, 2, *r1m2.FeedsToPosition)
	assert.Equal(t, r2m2.ID, *r1m3.FeedsToMatchID)
	assert.Equal(t, 1, *r1m3.FeedsToPosition)
	assert.Equal(t, r1m2.ID, *r2m1.PreviousMatch2ID)

	assert.Equal(t, models.SlotEmpty, r1m2.Slot1.State)
	assert.Equal(t, models.SlotPlaceholder, r2m1.Slot1.State)
	assert.Nil(t, b.Final().FeedsToMatchID)
}

func TestBuildStructure_MatchCount(t *testing.T) {
	for _, capacity := range []int{2, 4, 8, 16, 32, 64, 128} {
		matches, err := BuildStructure(capacity)
		require.NoError(t, err)
		assert.Len(t, matches, capacity-1)

		b, err := NewBracket(capacity, matches)
		require.NoError(t, err)
		for r := 1; r <= b.TotalRounds; r++ {
			assert.Len(t, b.Round(r), capacity>>r, "capacity %d round %d", capacity, r)
			assert.Equal(t, capacity>>r, MatchesInRound(capacity, r))
		}
		assert.Empty(t, b.Round(b.TotalRounds+1))
	}
}

func TestBuildStructure_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{-4, 0, 1, 3, 6, 12} {
		matches, err := BuildStructure(capacity)
		assert.Nil(t, matches)
		assert.True(t, errors.Is(err, ErrStructure), "capacity %d", capacity)
	}
}

func TestBuildRound_FromCompletedSources(t *testing.T) {
	round1, links, err := BuildRound(4, 1, nil)
	require.NoError(t, err)
	require.Len(t, round1, 2)
	assert.Empty(t, links)
	for i, m := range round1 {
		m.ID = 10 + i
	}

	_, _, err = BuildRound(4, 2, round1)
	assert.True(t, errors.Is(err, ErrValidation), "sources must be completed")

	round1[0].Status, round1[0].WinnerID = models.MatchStatusCompleted, models.IntPtr(3)
	round1[1].Status, round1[1].WinnerID = models.MatchStatusCompleted, models.IntPtr(2)

	round2, links, err := BuildRound(4, 2, round1)
	require.NoError(t, err)
	require.Len(t, round2, 1)
	final := round2[0]
	assert.Equal(t, 3, entrantOf(final.Slot1))
	assert.Equal(t, 2, entrantOf(final.Slot2))
	assert.Equal(t, models.MatchStatusScheduled, final.Status)
	assert.Equal(t, []Link{
		{SourceMatchID: 10, TargetMatchID: final.ID, Position: 1},
		{SourceMatchID: 11, TargetMatchID: final.ID, Position: 2},
	}, links)
}

func TestBuildRound_RejectsLinkedSources(t *testing.T) {
	matches, err := BuildStructure(4)
	require.NoError(t, err)
	_, _, err = BuildRound(4, 2, matches[:2])
	assert.True(t, errors.Is(err, ErrStructure))
}

func TestNewBracket_DetectsBrokenEdges(t *testing.T) {
	matches, err := BuildStructure(4)
	require.NoError(t, err)
	matches[0].FeedsToPosition = models.IntPtr(2)

	_, err = NewBracket(4, matches)
	assert.True(t, errors.Is(err, ErrStructure))
}

func TestNewBracket_PartialRounds(t *testing.T) {
	round1, _, err := BuildRound(8, 1, nil)
	require.NoError(t, err)

	b, err := NewBracket(8, round1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.LastRound())
	assert.Nil(t, b.Final())

	_, err = NewBracket(8, round1[:3])
	assert.True(t, errors.Is(err, ErrStructure))
}
