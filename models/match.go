package models

import (
	"fmt"
	"time"
)

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusCompleted MatchStatus = "completed"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusPending, MatchStatusScheduled, MatchStatusCompleted:
		return true
	}
	return false
}

// SlotState describes what a match slot currently holds.
type SlotState string

const (
	SlotEmpty       SlotState = "empty"
	SlotEntrant     SlotState = "entrant"
	SlotPlaceholder SlotState = "placeholder" // awaiting the winner of a source match
)

type Slot struct {
	State     SlotState `json:"state"`
	EntrantID *int      `json:"entrant_id,omitempty"`
}

func EmptySlot() Slot {
	return Slot{State: SlotEmpty}
}

func PlaceholderSlot() Slot {
	return Slot{State: SlotPlaceholder}
}

func EntrantSlot(entrantID int) Slot {
	id := entrantID
	return Slot{State: SlotEntrant, EntrantID: &id}
}

// Filled reports whether the slot references an entrant.
func (s Slot) Filled() bool {
	return s.State == SlotEntrant && s.EntrantID != nil
}

// Open reports whether advancement may write into the slot.
func (s Slot) Open() bool {
	return s.State == "" || s.State == SlotEmpty || s.State == SlotPlaceholder
}

func (s Slot) Holds(entrantID int) bool {
	return s.Filled() && *s.EntrantID == entrantID
}

func (s Slot) Equal(other Slot) bool {
	if s.Filled() || other.Filled() {
		return s.Filled() && other.Filled() && *s.EntrantID == *other.EntrantID
	}
	return s.normalized() == other.normalized()
}

func (s Slot) normalized() SlotState {
	if s.State == "" {
		return SlotEmpty
	}
	return s.State
}

func (s Slot) String() string {
	if s.Filled() {
		return fmt.Sprintf("entrant:%d", *s.EntrantID)
	}
	return string(s.normalized())
}

// Match is one node of a single-elimination bracket. Edges to other matches
// are ids resolved through the bracket arena, never pointers.
type Match struct {
	ID           int         `json:"id"`
	TournamentID int         `json:"tournament_id"`
	Round        int         `json:"round"`
	Number       int         `json:"number"`
	UID          string      `json:"uid"`
	Slot1        Slot        `json:"slot1"`
	Slot2        Slot        `json:"slot2"`
	Status       MatchStatus `json:"status"`
	WinnerID     *int        `json:"winner_id,omitempty"`
	Score        *string     `json:"score,omitempty"`
	IsBye        bool        `json:"is_bye"`

	FeedsToMatchID   *int `json:"feeds_to_match_id,omitempty"`
	FeedsToPosition  *int `json:"feeds_to_position,omitempty"`
	PreviousMatch1ID *int `json:"previous_match1_id,omitempty"`
	PreviousMatch2ID *int `json:"previous_match2_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func MatchUID(round, number int) string {
	return fmt.Sprintf("R%dM%d", round, number)
}

// SlotAt returns slot 1 or 2.
func (m *Match) SlotAt(position int) Slot {
	if position == 2 {
		return m.Slot2
	}
	return m.Slot1
}

func (m *Match) SetSlot(position int, slot Slot) {
	if position == 2 {
		m.Slot2 = slot
		return
	}
	m.Slot1 = slot
}

// PreviousMatchID returns the back-edge feeding the given slot position.
func (m *Match) PreviousMatchID(position int) *int {
	if position == 2 {
		return m.PreviousMatch2ID
	}
	return m.PreviousMatch1ID
}

func (m *Match) HasEntrant(entrantID int) bool {
	return m.Slot1.Holds(entrantID) || m.Slot2.Holds(entrantID)
}

func (m *Match) Completed() bool {
	return m.Status == MatchStatusCompleted
}

// Clone returns a deep copy; pointer fields are not shared with the original.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.Slot1 = cloneSlot(m.Slot1)
	c.Slot2 = cloneSlot(m.Slot2)
	c.WinnerID = cloneInt(m.WinnerID)
	c.FeedsToMatchID = cloneInt(m.FeedsToMatchID)
	c.FeedsToPosition = cloneInt(m.FeedsToPosition)
	c.PreviousMatch1ID = cloneInt(m.PreviousMatch1ID)
	c.PreviousMatch2ID = cloneInt(m.PreviousMatch2ID)
	if m.Score != nil {
		s := *m.Score
		c.Score = &s
	}
	return &c
}

func cloneSlot(s Slot) Slot {
	return Slot{State: s.State, EntrantID: cloneInt(s.EntrantID)}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}

// MatchPatch is a compare-and-set update. Expect* fields are conditions on the
// stored row; nil means "don't care". Set fields are applied only when every
// condition holds.
type MatchPatch struct {
	ExpectStatus   *MatchStatus
	ExpectWinnerID **int
	ExpectSlot1    *Slot
	ExpectSlot2    *Slot

	Status          *MatchStatus
	WinnerID        *int
	Score           *string
	Slot1           *Slot
	Slot2           *Slot
	FeedsToMatchID  *int
	FeedsToPosition *int
}

// Apply copies the Set fields of the patch onto m.
func (p MatchPatch) Apply(m *Match) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.WinnerID != nil {
		m.WinnerID = cloneInt(p.WinnerID)
	}
	if p.Score != nil {
		s := *p.Score
		m.Score = &s
	}
	if p.Slot1 != nil {
		m.Slot1 = cloneSlot(*p.Slot1)
	}
	if p.Slot2 != nil {
		m.Slot2 = cloneSlot(*p.Slot2)
	}
	if p.FeedsToMatchID != nil {
		m.FeedsToMatchID = cloneInt(p.FeedsToMatchID)
	}
	if p.FeedsToPosition != nil {
		m.FeedsToPosition = cloneInt(p.FeedsToPosition)
	}
}

// Matches reports whether m satisfies every Expect condition of the patch.
func (p MatchPatch) Matches(m *Match) bool {
	if p.ExpectStatus != nil && m.Status != *p.ExpectStatus {
		return false
	}
	if p.ExpectWinnerID != nil {
		want := *p.ExpectWinnerID
		switch {
		case want == nil && m.WinnerID != nil:
			return false
		case want != nil && (m.WinnerID == nil || *m.WinnerID != *want):
			return false
		}
	}
	if p.ExpectSlot1 != nil && !m.Slot1.Equal(*p.ExpectSlot1) {
		return false
	}
	if p.ExpectSlot2 != nil && !m.Slot2.Equal(*p.ExpectSlot2) {
		return false
	}
	return true
}
