package brackets

import (
	"errors"
	"fmt"

	"github.com/Dosada05/bracket-engine/models"
)

// CheckRoundOrder rejects completing a match while any match of an earlier
// round is still open.
func CheckRoundOrder(b *Bracket, m *models.Match) error {
	for r := 1; r < m.Round; r++ {
		for _, prev := range b.Round(r) {
			if !prev.Completed() {
				return &ValidationError{
					MatchID:  m.ID,
					Reason:   fmt.Sprintf("round %d is not finished", r),
					Expected: fmt.Sprintf("%s completed", prev.UID),
					Actual:   string(prev.Status),
				}
			}
		}
	}
	return nil
}

// CheckSourcesCompleted requires both source matches to be completed before m
// is completed.
func CheckSourcesCompleted(b *Bracket, m *models.Match) error {
	for position := 1; position <= 2; position++ {
		back := m.PreviousMatchID(position)
		if back == nil {
			continue
		}
		src, ok := b.Match(*back)
		if !ok {
			return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d slot %d has an unknown source", m.ID, position)}
		}
		if !src.Completed() {
			return &ValidationError{
				MatchID:  m.ID,
				Reason:   fmt.Sprintf("source match %s is not completed", src.UID),
				Expected: string(models.MatchStatusCompleted),
				Actual:   string(src.Status),
			}
		}
	}
	return nil
}

// CheckAdvancedSlots requires every filled slot fed by a source match to hold
// that source's winner.
func CheckAdvancedSlots(b *Bracket, m *models.Match) error {
	for position := 1; position <= 2; position++ {
		back := m.PreviousMatchID(position)
		slot := m.SlotAt(position)
		if back == nil || !slot.Filled() {
			continue
		}
		src, ok := b.Match(*back)
		if !ok {
			return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d slot %d has an unknown source", m.ID, position)}
		}
		if !src.Completed() || src.WinnerID == nil {
			return &ValidationError{
				MatchID:  m.ID,
				Reason:   fmt.Sprintf("slot %d is filled before %s was completed", position, src.UID),
				Expected: "empty slot",
				Actual:   slot.String(),
			}
		}
		if *src.WinnerID != *slot.EntrantID {
			return &ValidationError{
				MatchID:  m.ID,
				Reason:   fmt.Sprintf("slot %d does not hold the winner of %s", position, src.UID),
				Expected: fmt.Sprintf("entrant:%d", *src.WinnerID),
				Actual:   slot.String(),
			}
		}
	}
	return nil
}

// ValidateCompletion runs the progression guards for completing matchID. It
// never changes the bracket.
func ValidateCompletion(b *Bracket, matchID int) error {
	m, ok := b.Match(matchID)
	if !ok {
		return validationErr(matchID, "match is not part of this bracket")
	}
	if err := CheckRoundOrder(b, m); err != nil {
		return err
	}
	if err := CheckSourcesCompleted(b, m); err != nil {
		return err
	}
	return CheckAdvancedSlots(b, m)
}

// ValidateBracket checks the state invariants of every match and joins all
// violations found.
func ValidateBracket(b *Bracket) error {
	var errs []error
	for _, m := range b.Matches() {
		if !m.Status.Valid() {
			errs = append(errs, validationErr(m.ID, fmt.Sprintf("unknown status %q", m.Status)))
		}
		if m.Completed() {
			if m.WinnerID == nil || !m.HasEntrant(*m.WinnerID) {
				errs = append(errs, validationErr(m.ID, "completed match has no winner among its entrants"))
			}
		} else if m.WinnerID != nil {
			errs = append(errs, validationErr(m.ID, "open match has a winner"))
		}
		if m.Status == models.MatchStatusScheduled && !(m.Slot1.Filled() && m.Slot2.Filled()) {
			errs = append(errs, validationErr(m.ID, "scheduled match has an open slot"))
		}
		if m.IsBye && (m.Round != 1 || m.Slot1.Filled() == m.Slot2.Filled()) {
			errs = append(errs, validationErr(m.ID, "bye must be a first-round match with exactly one entrant"))
		}
		if m.Slot1.Filled() && m.Slot2.Filled() && *m.Slot1.EntrantID == *m.Slot2.EntrantID {
			errs = append(errs, validationErr(m.ID, "entrant occupies both slots"))
		}
		if err := CheckAdvancedSlots(b, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PendingAdvancements lists completed matches whose winner has not reached
// the downstream slot yet. Reconciliation replays them.
func PendingAdvancements(b *Bracket) []*models.Match {
	var out []*models.Match
	for _, m := range b.Matches() {
		if !m.Completed() || m.WinnerID == nil || m.FeedsToMatchID == nil || m.FeedsToPosition == nil {
			continue
		}
		target, ok := b.Match(*m.FeedsToMatchID)
		if !ok {
			continue
		}
		if target.SlotAt(*m.FeedsToPosition).Open() {
			out = append(out, m)
		}
	}
	return out
}

// AdvancementConflicts lists completed matches whose downstream slot holds an
// entrant other than their winner.
func AdvancementConflicts(b *Bracket) []*AdvancementConflict {
	var out []*AdvancementConflict
	for _, m := range b.Matches() {
		if !m.Completed() || m.WinnerID == nil || m.FeedsToMatchID == nil || m.FeedsToPosition == nil {
			continue
		}
		target, ok := b.Match(*m.FeedsToMatchID)
		if !ok {
			continue
		}
		slot := target.SlotAt(*m.FeedsToPosition)
		if slot.Filled() && *slot.EntrantID != *m.WinnerID {
			out = append(out, &AdvancementConflict{
				SourceMatchID: m.ID,
				TargetMatchID: target.ID,
				Position:      *m.FeedsToPosition,
				Existing:      *slot.EntrantID,
				Incoming:      *m.WinnerID,
			})
		}
	}
	return out
}
