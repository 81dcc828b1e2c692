package brackets

import (
	"fmt"
	"sort"

	"github.com/Dosada05/bracket-engine/models"
)

// Link is a forward edge the store must set on an already persisted source
// match once the round it feeds has been inserted.
type Link struct {
	SourceMatchID int
	TargetMatchID int
	Position      int
}

// TotalRounds validates capacity and returns log2(capacity).
func TotalRounds(capacity int) (int, error) {
	if capacity < 2 {
		return 0, &StructureError{Capacity: capacity, Reason: "capacity must be at least 2"}
	}
	rounds := models.TotalRoundsFor(capacity)
	if rounds == 0 {
		return 0, &StructureError{Capacity: capacity, Reason: "capacity must be a power of two"}
	}
	return rounds, nil
}

// MatchesInRound is capacity / 2^round.
func MatchesInRound(capacity, round int) int {
	return capacity >> uint(round)
}

// FeedTarget returns the next-round match number and slot position fed by
// match number n.
func FeedTarget(number int) (targetNumber, position int) {
	targetNumber = (number + 1) / 2
	position = 1
	if number%2 == 0 {
		position = 2
	}
	return targetNumber, position
}

// BuildStructure creates every match of every round with provisional ids
// (-1, -2, ... in round-major order) and wires forward and backward edges.
// Round-1 slots are empty, later slots are placeholders awaiting a winner.
func BuildStructure(capacity int) ([]*models.Match, error) {
	totalRounds, err := TotalRounds(capacity)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Match, 0, capacity-1)
	byKey := make(map[string]*models.Match, capacity-1)
	nextID := -1
	for r := 1; r <= totalRounds; r++ {
		for n := 1; n <= MatchesInRound(capacity, r); n++ {
			m := newMatch(nextID, r, n)
			nextID--
			matches = append(matches, m)
			byKey[m.UID] = m
		}
	}

	for _, m := range matches {
		if m.Round == totalRounds {
			continue
		}
		targetNumber, position := FeedTarget(m.Number)
		target, ok := byKey[models.MatchUID(m.Round+1, targetNumber)]
		if !ok {
			return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("missing target for %s", m.UID)}
		}
		link(m, target, position)
	}
	return matches, nil
}

// BuildRound creates a single round for incremental generation. Round 1 comes
// back with empty slots and no edges. For a later round, sources must be the
// complete and fully completed previous round; slots are filled from the
// source winners and the returned links must be set on the sources.
func BuildRound(capacity, round int, sources []*models.Match) ([]*models.Match, []Link, error) {
	totalRounds, err := TotalRounds(capacity)
	if err != nil {
		return nil, nil, err
	}
	if round < 1 || round > totalRounds {
		return nil, nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("round %d outside 1..%d", round, totalRounds)}
	}

	count := MatchesInRound(capacity, round)
	matches := make([]*models.Match, 0, count)
	for n := 1; n <= count; n++ {
		m := newMatch(-n, round, n)
		if round > 1 {
			m.Slot1 = models.EmptySlot()
			m.Slot2 = models.EmptySlot()
		}
		matches = append(matches, m)
	}
	if round == 1 {
		if len(sources) != 0 {
			return nil, nil, &StructureError{Capacity: capacity, Reason: "round 1 has no source matches"}
		}
		return matches, nil, nil
	}

	want := MatchesInRound(capacity, round-1)
	if len(sources) != want {
		return nil, nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("round %d needs %d source matches, got %d", round, want, len(sources))}
	}
	seen := make(map[int]bool, len(sources))
	links := make([]Link, 0, len(sources))
	for _, src := range sources {
		switch {
		case src.Round != round-1:
			return nil, nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("source %s is not in round %d", src.UID, round-1)}
		case src.Number < 1 || src.Number > want || seen[src.Number]:
			return nil, nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("source %s has an invalid or duplicate number", src.UID)}
		case src.FeedsToMatchID != nil:
			return nil, nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("source %s already feeds match %d", src.UID, *src.FeedsToMatchID)}
		}
		seen[src.Number] = true
		if !src.Completed() || src.WinnerID == nil {
			return nil, nil, &ValidationError{MatchID: src.ID, Reason: "source match is not completed", Expected: string(models.MatchStatusCompleted), Actual: string(src.Status)}
		}

		targetNumber, position := FeedTarget(src.Number)
		target := matches[targetNumber-1]
		if position == 1 {
			target.PreviousMatch1ID = models.IntPtr(src.ID)
		} else {
			target.PreviousMatch2ID = models.IntPtr(src.ID)
		}
		target.SetSlot(position, models.EntrantSlot(*src.WinnerID))
		links = append(links, Link{SourceMatchID: src.ID, TargetMatchID: target.ID, Position: position})
	}
	for _, m := range matches {
		if m.Slot1.Filled() && m.Slot2.Filled() {
			m.Status = models.MatchStatusScheduled
		}
	}
	return matches, links, nil
}

func newMatch(id, round, number int) *models.Match {
	m := &models.Match{
		ID:     id,
		Round:  round,
		Number: number,
		UID:    models.MatchUID(round, number),
		Status: models.MatchStatusPending,
		Slot1:  models.EmptySlot(),
		Slot2:  models.EmptySlot(),
	}
	if round > 1 {
		m.Slot1 = models.PlaceholderSlot()
		m.Slot2 = models.PlaceholderSlot()
	}
	return m
}

func link(source, target *models.Match, position int) {
	source.FeedsToMatchID = models.IntPtr(target.ID)
	source.FeedsToPosition = models.IntPtr(position)
	if position == 1 {
		target.PreviousMatch1ID = models.IntPtr(source.ID)
	} else {
		target.PreviousMatch2ID = models.IntPtr(source.ID)
	}
}

// Bracket is an id-indexed arena over a tournament's matches.
type Bracket struct {
	Capacity    int
	TotalRounds int

	matches map[int]*models.Match
	rounds  map[int][]*models.Match
}

// NewBracket indexes matches and verifies the topology: full rounds present
// contiguously from round 1, and every forward edge the inverse of exactly one
// back edge. The bracket owns the given matches.
func NewBracket(capacity int, matches []*models.Match) (*Bracket, error) {
	totalRounds, err := TotalRounds(capacity)
	if err != nil {
		return nil, err
	}
	b := &Bracket{
		Capacity:    capacity,
		TotalRounds: totalRounds,
		matches:     make(map[int]*models.Match, len(matches)),
		rounds:      make(map[int][]*models.Match),
	}
	for _, m := range matches {
		if m == nil {
			continue
		}
		if _, dup := b.matches[m.ID]; dup {
			return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("duplicate match id %d", m.ID)}
		}
		if m.Round < 1 || m.Round > totalRounds {
			return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("match %d has round %d outside 1..%d", m.ID, m.Round, totalRounds)}
		}
		b.matches[m.ID] = m
		b.rounds[m.Round] = append(b.rounds[m.Round], m)
	}
	if len(b.rounds[1]) == 0 {
		return nil, &StructureError{Capacity: capacity, Reason: "round 1 is missing"}
	}

	for r := 1; r <= totalRounds; r++ {
		round := b.rounds[r]
		if len(round) == 0 {
			if len(b.rounds[r+1]) > 0 {
				return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("round %d is missing but round %d exists", r, r+1)}
			}
			continue
		}
		want := MatchesInRound(capacity, r)
		if len(round) != want {
			return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("round %d has %d matches, want %d", r, len(round), want)}
		}
		sort.Slice(round, func(i, j int) bool { return round[i].Number < round[j].Number })
		for i, m := range round {
			if m.Number != i+1 {
				return nil, &StructureError{Capacity: capacity, Reason: fmt.Sprintf("round %d match numbers are not 1..%d", r, want)}
			}
		}
	}

	if err := b.checkEdges(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bracket) checkEdges() error {
	for _, m := range b.Matches() {
		if m.FeedsToMatchID != nil {
			target, ok := b.matches[*m.FeedsToMatchID]
			if !ok {
				return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d feeds unknown match %d", m.ID, *m.FeedsToMatchID)}
			}
			wantNumber, wantPosition := FeedTarget(m.Number)
			if target.Round != m.Round+1 || target.Number != wantNumber || m.FeedsToPosition == nil || *m.FeedsToPosition != wantPosition {
				return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d has a misplaced forward edge", m.ID)}
			}
			back := target.PreviousMatchID(wantPosition)
			if back == nil || *back != m.ID {
				return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d forward edge has no matching back edge on match %d", m.ID, target.ID)}
			}
		} else if b.HasRound(m.Round + 1) {
			return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d has no forward edge although round %d exists", m.ID, m.Round+1)}
		}

		for position := 1; position <= 2; position++ {
			back := m.PreviousMatchID(position)
			if back == nil {
				if m.Round > 1 {
					return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d slot %d has no source match", m.ID, position)}
				}
				continue
			}
			source, ok := b.matches[*back]
			if !ok || source.FeedsToMatchID == nil || *source.FeedsToMatchID != m.ID ||
				source.FeedsToPosition == nil || *source.FeedsToPosition != position {
				return &StructureError{Capacity: b.Capacity, Reason: fmt.Sprintf("match %d slot %d back edge is not the inverse of a forward edge", m.ID, position)}
			}
		}
	}
	return nil
}

func (b *Bracket) Match(id int) (*models.Match, bool) {
	m, ok := b.matches[id]
	return m, ok
}

// Round returns the matches of round r ordered by number.
func (b *Bracket) Round(r int) []*models.Match {
	return b.rounds[r]
}

func (b *Bracket) HasRound(r int) bool {
	return len(b.rounds[r]) > 0
}

// LastRound is the highest round currently materialized.
func (b *Bracket) LastRound() int {
	last := 0
	for r := 1; r <= b.TotalRounds; r++ {
		if b.HasRound(r) {
			last = r
		}
	}
	return last
}

func (b *Bracket) RoundComplete(r int) bool {
	round := b.rounds[r]
	if len(round) == 0 {
		return false
	}
	for _, m := range round {
		if !m.Completed() {
			return false
		}
	}
	return true
}

// Final returns the single match of the last round, if it exists yet.
func (b *Bracket) Final() *models.Match {
	round := b.rounds[b.TotalRounds]
	if len(round) != 1 {
		return nil
	}
	return round[0]
}

// Champion is the winner of a completed final.
func (b *Bracket) Champion() *int {
	final := b.Final()
	if final == nil || !final.Completed() || final.WinnerID == nil {
		return nil
	}
	v := *final.WinnerID
	return &v
}

// Matches returns all matches ordered by round then number.
func (b *Bracket) Matches() []*models.Match {
	out := make([]*models.Match, 0, len(b.matches))
	for r := 1; r <= b.TotalRounds; r++ {
		out = append(out, b.rounds[r]...)
	}
	return out
}

// Clone deep-copies the arena so plans can be tried without touching b.
func (b *Bracket) Clone() *Bracket {
	c := &Bracket{
		Capacity:    b.Capacity,
		TotalRounds: b.TotalRounds,
		matches:     make(map[int]*models.Match, len(b.matches)),
		rounds:      make(map[int][]*models.Match, len(b.rounds)),
	}
	for _, m := range b.Matches() {
		cm := m.Clone()
		c.matches[cm.ID] = cm
		c.rounds[cm.Round] = append(c.rounds[cm.Round], cm)
	}
	return c
}
