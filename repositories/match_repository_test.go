package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/models"
)

func TestBuildMatchUpdate_CompareAndSet(t *testing.T) {
	scheduled := models.MatchStatusScheduled
	completed := models.MatchStatusCompleted
	var noWinner *int
	s1, s2 := models.EntrantSlot(3), models.EntrantSlot(4)
	winner := 3
	score := "21-15"

	query, args, err := buildMatchUpdate(7, models.MatchPatch{
		ExpectStatus:   &scheduled,
		ExpectWinnerID: &noWinner,
		ExpectSlot1:    &s1,
		ExpectSlot2:    &s2,
		Status:         &completed,
		WinnerID:       &winner,
		Score:          &score,
	})
	require.NoError(t, err)

	assert.Contains(t, query, "UPDATE matches SET updated_at = NOW(), status = $1, winner_entrant_id = $2, score = $3")
	assert.Contains(t, query, "id = $4")
	assert.Contains(t, query, "status = $5")
	assert.Contains(t, query, "winner_entrant_id IS NULL")
	assert.Contains(t, query, "slot1_entrant_id = $6")
	assert.Contains(t, query, "slot2_entrant_id = $7")
	assert.Equal(t, []interface{}{"completed", 3, "21-15", 7, "scheduled", 3, 4}, args)
}

func TestBuildMatchUpdate_OpenSlotCondition(t *testing.T) {
	placeholder := models.PlaceholderSlot()
	slot := models.EntrantSlot(9)

	query, args, err := buildMatchUpdate(2, models.MatchPatch{ExpectSlot2: &placeholder, Slot2: &slot})
	require.NoError(t, err)

	assert.Contains(t, query, "slot2_state = $1, slot2_entrant_id = $2")
	assert.Contains(t, query, "slot2_entrant_id IS NULL")
	assert.Contains(t, args, "placeholder")
	assert.Equal(t, "entrant", args[0])
	assert.Equal(t, 9, args[1])
}
