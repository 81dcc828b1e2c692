package brackets

import (
	"errors"
	"fmt"

	"github.com/Dosada05/bracket-engine/models"
)

// ErrStaleMatch is returned when a plan's expectations no longer hold for the
// match it targets.
var ErrStaleMatch = errors.New("match changed since it was read")

// SlotWrite places a winner into the slot of a downstream match.
type SlotWrite struct {
	MatchID      int
	Position     int
	Expect       models.Slot
	ExpectStatus models.MatchStatus
	Slot         models.Slot

	// Schedule is set when the write fills the last open slot.
	Schedule bool
}

// Plan is the result of completing a match: the completion itself and at most
// one advancement write, each guarded by what was observed when it was built.
type Plan struct {
	MatchID  int
	WinnerID int
	Score    *string

	ExpectStatus   models.MatchStatus
	ExpectWinnerID *int
	ExpectSlot1    models.Slot
	ExpectSlot2    models.Slot

	// Completes is false when the match already has this winner.
	Completes bool
	Advance   *SlotWrite
}

// Noop reports a replay that changes nothing.
func (p Plan) Noop() bool {
	return !p.Completes && p.Advance == nil
}

// Patch binds a compare-and-set update to a match id.
type Patch struct {
	MatchID int
	Patch   models.MatchPatch
}

// Patches turns the plan into ordered store updates: the completion first,
// then the downstream slot.
func (p Plan) Patches() []Patch {
	var out []Patch
	if p.Completes {
		expectStatus := p.ExpectStatus
		expectWinner := p.ExpectWinnerID
		s1, s2 := p.ExpectSlot1, p.ExpectSlot2
		status := models.MatchStatusCompleted
		winner := p.WinnerID
		out = append(out, Patch{
			MatchID: p.MatchID,
			Patch: models.MatchPatch{
				ExpectStatus:   &expectStatus,
				ExpectWinnerID: &expectWinner,
				ExpectSlot1:    &s1,
				ExpectSlot2:    &s2,
				Status:         &status,
				WinnerID:       &winner,
				Score:          p.Score,
			},
		})
	}
	if w := p.Advance; w != nil {
		expect := w.Expect
		slot := w.Slot
		expectStatus := w.ExpectStatus
		patch := models.MatchPatch{ExpectStatus: &expectStatus}
		if w.Position == 1 {
			patch.ExpectSlot1 = &expect
			patch.Slot1 = &slot
		} else {
			patch.ExpectSlot2 = &expect
			patch.Slot2 = &slot
		}
		if w.Schedule {
			status := models.MatchStatusScheduled
			patch.Status = &status
		}
		out = append(out, Patch{MatchID: w.MatchID, Patch: patch})
	}
	return out
}

// CompleteMatch records winnerID as the winner of matchID and plans its
// advancement along the forward edge. It does not mutate b.
//
// Completing an already completed match with the same winner is a no-op
// (apart from repairing a missing advancement). A different winner is
// accepted only while the old winner has not been advanced.
func CompleteMatch(b *Bracket, matchID, winnerID int, score *string) (Plan, error) {
	m, ok := b.Match(matchID)
	if !ok {
		return Plan{}, validationErr(matchID, "match is not part of this bracket")
	}
	if !m.HasEntrant(winnerID) {
		return Plan{}, &ValidationError{
			MatchID:  matchID,
			Reason:   "winner is not an entrant of the match",
			Expected: fmt.Sprintf("%s or %s", m.Slot1, m.Slot2),
			Actual:   fmt.Sprintf("entrant:%d", winnerID),
		}
	}
	bothFilled := m.Slot1.Filled() && m.Slot2.Filled()
	byeFilled := m.IsBye && m.Slot1.Filled() != m.Slot2.Filled()
	if !bothFilled && !byeFilled {
		return Plan{}, &ValidationError{
			MatchID:  matchID,
			Reason:   "match slots are not filled",
			Expected: "two entrants or a bye",
			Actual:   fmt.Sprintf("%s / %s", m.Slot1, m.Slot2),
		}
	}

	plan := Plan{
		MatchID:        matchID,
		WinnerID:       winnerID,
		Score:          score,
		ExpectStatus:   m.Status,
		ExpectWinnerID: m.WinnerID,
		ExpectSlot1:    m.Slot1,
		ExpectSlot2:    m.Slot2,
		Completes:      !(m.Completed() && m.WinnerID != nil && *m.WinnerID == winnerID),
	}

	if m.FeedsToMatchID == nil {
		return plan, nil
	}
	target, ok := b.Match(*m.FeedsToMatchID)
	if !ok || m.FeedsToPosition == nil {
		return Plan{}, &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d feeds an unknown match", matchID)}
	}
	position := *m.FeedsToPosition
	current := target.SlotAt(position)
	switch {
	case current.Holds(winnerID):
	case current.Open():
		write := &SlotWrite{
			MatchID:      target.ID,
			Position:     position,
			Expect:       current,
			ExpectStatus: target.Status,
			Slot:         models.EntrantSlot(winnerID),
		}
		if target.SlotAt(3-position).Filled() && target.Status == models.MatchStatusPending {
			write.Schedule = true
		}
		plan.Advance = write
	default:
		return Plan{}, &AdvancementConflict{
			SourceMatchID: matchID,
			TargetMatchID: target.ID,
			Position:      position,
			Existing:      *current.EntrantID,
			Incoming:      winnerID,
		}
	}
	return plan, nil
}

// Apply executes a plan against the arena, checking the same expectations a
// store would. Nothing is changed when any of them fails.
func (b *Bracket) Apply(plan Plan) error {
	patches := plan.Patches()
	for _, p := range patches {
		m, ok := b.matches[p.MatchID]
		if !ok {
			return validationErr(p.MatchID, "match is not part of this bracket")
		}
		if !p.Patch.Matches(m) {
			return fmt.Errorf("%w: match %d", ErrStaleMatch, p.MatchID)
		}
	}
	for _, p := range patches {
		p.Patch.Apply(b.matches[p.MatchID])
	}
	return nil
}
