package brackets

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/Dosada05/bracket-engine/models"
)

// SeedingPolicy selects how round-1 slots are filled. Policies are never
// mixed: a full-field policy given a short roster is rejected.
type SeedingPolicy string

const (
	// PolicyMirrored is the canonical full-field policy: 1v3/2v4 up to
	// capacity 4, the classical seed table above that.
	PolicyMirrored SeedingPolicy = "mirrored"

	// PolicyByeHandicap gives the best entrants byes and mirror-pairs the rest.
	PolicyByeHandicap SeedingPolicy = "bye_handicap"

	// PolicyBestVsWorst is the legacy shift/pop pairing (1vN, 2vN-1, ...).
	PolicyBestVsWorst SeedingPolicy = "best_vs_worst"

	// PolicyRandom is the legacy shuffle followed by sequential pairs.
	PolicyRandom SeedingPolicy = "random"
)

func (p SeedingPolicy) Valid() bool {
	switch p {
	case PolicyMirrored, PolicyByeHandicap, PolicyBestVsWorst, PolicyRandom:
		return true
	}
	return false
}

// FullFieldOnly reports whether the policy needs registrations == capacity.
func (p SeedingPolicy) FullFieldOnly() bool {
	return p != PolicyByeHandicap
}

// DefaultPolicy picks the mirrored policy for a full field and the bye policy
// otherwise.
func DefaultPolicy(registrations, capacity int) SeedingPolicy {
	if registrations < capacity {
		return PolicyByeHandicap
	}
	return PolicyMirrored
}

// Seed is an entrant with its 1-based seed number.
type Seed struct {
	EntrantID int     `json:"entrant_id"`
	Seed      int     `json:"seed"`
	Ranking   float64 `json:"ranking"`
}

// Assignment fills one round-1 match. A nil Slot2 is a bye.
type Assignment struct {
	MatchNumber int   `json:"match_number"`
	Slot1       Seed  `json:"slot1"`
	Slot2       *Seed `json:"slot2,omitempty"`
}

func (a Assignment) Bye() bool {
	return a.Slot2 == nil
}

type SeedingResult struct {
	Policy      SeedingPolicy `json:"policy"`
	ByeCount    int           `json:"bye_count"`
	Assignments []Assignment  `json:"assignments"`
}

// Byes returns the bye assignments in match order.
func (r *SeedingResult) Byes() []Assignment {
	byes := make([]Assignment, 0, r.ByeCount)
	for _, a := range r.Assignments {
		if a.Bye() {
			byes = append(byes, a)
		}
	}
	return byes
}

type SeedingOptions struct {
	Policy SeedingPolicy

	// Kind, when set, must match every registration.
	Kind models.EntrantKind

	// Rand drives PolicyRandom; a time-seeded source is used when nil.
	Rand *rand.Rand
}

// SeedOrder ranks registrations. Explicit seed positions win when any are
// present (positioned entrants first, the rest in registration order);
// otherwise entrants are sorted by effective ranking, ties by registration order.
func SeedOrder(registrations []*models.Registration) ([]Seed, error) {
	regs := make([]*models.Registration, 0, len(registrations))
	for _, r := range registrations {
		if r == nil {
			continue
		}
		if r.Entrant.Competitor == nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("registration %d has no entrant", r.ID)}
		}
		regs = append(regs, r)
	}
	sort.SliceStable(regs, func(i, j int) bool {
		if !regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].CreatedAt.Before(regs[j].CreatedAt)
		}
		return regs[i].ID < regs[j].ID
	})

	positioned := false
	positions := make(map[int]int)
	for _, r := range regs {
		if r.SeedPosition == nil {
			continue
		}
		positioned = true
		if other, dup := positions[*r.SeedPosition]; dup {
			return nil, &ValidationError{
				Reason:   fmt.Sprintf("seed position %d is used by registrations %d and %d", *r.SeedPosition, other, r.ID),
				Expected: "unique seed positions",
				Actual:   fmt.Sprintf("duplicate position %d", *r.SeedPosition),
			}
		}
		positions[*r.SeedPosition] = r.ID
	}

	if positioned {
		sort.SliceStable(regs, func(i, j int) bool {
			pi, pj := regs[i].SeedPosition, regs[j].SeedPosition
			switch {
			case pi != nil && pj != nil:
				return *pi < *pj
			case pi != nil:
				return true
			default:
				return false
			}
		})
	} else {
		sort.SliceStable(regs, func(i, j int) bool {
			return regs[i].Entrant.EffectiveRanking() < regs[j].Entrant.EffectiveRanking()
		})
	}

	seeds := make([]Seed, len(regs))
	for i, r := range regs {
		seeds[i] = Seed{EntrantID: r.EntrantID(), Seed: i + 1, Ranking: r.Entrant.EffectiveRanking()}
	}
	return seeds, nil
}

// SeedTable returns the classical draw order for capacity: seed i is placed
// against seed capacity+1-i, recursively, so seeds 1 and 2 can only meet in
// the final. For 8 the line order is 1,8,4,5,2,7,3,6.
func SeedTable(capacity int) []int {
	order := []int{1}
	for len(order) < capacity {
		n := len(order) * 2
		next := make([]int, 0, n)
		for _, s := range order {
			next = append(next, s, n+1-s)
		}
		order = next
	}
	return order
}

// AssignSeeds computes the round-1 assignments for the selected policy.
func AssignSeeds(registrations []*models.Registration, capacity int, opts SeedingOptions) (*SeedingResult, error) {
	if _, err := TotalRounds(capacity); err != nil {
		return nil, err
	}
	count := 0
	for _, r := range registrations {
		if r == nil {
			continue
		}
		count++
		if opts.Kind != "" && r.Entrant.Kind() != opts.Kind {
			return nil, &ValidationError{
				Reason:   fmt.Sprintf("registration %d has the wrong entrant kind", r.ID),
				Expected: string(opts.Kind),
				Actual:   string(r.Entrant.Kind()),
			}
		}
	}
	if count < 2 {
		return nil, &ValidationError{Reason: "not enough entrants", Expected: "at least 2", Actual: fmt.Sprint(count)}
	}
	if count > capacity {
		return nil, &ValidationError{Reason: "too many entrants for capacity", Expected: fmt.Sprintf("at most %d", capacity), Actual: fmt.Sprint(count)}
	}
	if count*2 < capacity {
		return nil, &ValidationError{
			Reason:   "too few entrants: a first-round match would have no entrant",
			Expected: fmt.Sprintf("at least %d", capacity/2),
			Actual:   fmt.Sprint(count),
		}
	}

	policy := opts.Policy
	if policy == "" {
		policy = DefaultPolicy(count, capacity)
	}
	if !policy.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown seeding policy %q", policy)}
	}
	if policy.FullFieldOnly() && count != capacity {
		return nil, &ValidationError{
			Reason:   fmt.Sprintf("policy %s requires a full field", policy),
			Expected: fmt.Sprint(capacity),
			Actual:   fmt.Sprint(count),
		}
	}

	seeds, err := SeedOrder(registrations)
	if err != nil {
		return nil, err
	}

	result := &SeedingResult{Policy: policy}
	switch policy {
	case PolicyMirrored:
		result.Assignments = mirroredPairs(seeds, capacity)
	case PolicyBestVsWorst:
		result.Assignments = pairOutsideIn(seeds, 1)
	case PolicyRandom:
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		shuffled := append([]Seed(nil), seeds...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for i := 0; i < len(shuffled); i += 2 {
			s2 := shuffled[i+1]
			result.Assignments = append(result.Assignments, Assignment{MatchNumber: i/2 + 1, Slot1: shuffled[i], Slot2: &s2})
		}
	case PolicyByeHandicap:
		byeCount := capacity - count
		result.ByeCount = byeCount
		for i := 0; i < byeCount; i++ {
			result.Assignments = append(result.Assignments, Assignment{MatchNumber: i + 1, Slot1: seeds[i]})
		}
		result.Assignments = append(result.Assignments, pairOutsideIn(seeds[byeCount:], byeCount+1)...)
	}
	return result, nil
}

// mirroredPairs: capacity <= 4 uses match 1 = seed 1 v seed 3 and the last
// match = seed 2 v seed 4; larger fields follow the seed table.
func mirroredPairs(seeds []Seed, capacity int) []Assignment {
	if capacity == 2 {
		s2 := seeds[1]
		return []Assignment{{MatchNumber: 1, Slot1: seeds[0], Slot2: &s2}}
	}
	if capacity == 4 {
		s3, s4 := seeds[2], seeds[3]
		return []Assignment{
			{MatchNumber: 1, Slot1: seeds[0], Slot2: &s3},
			{MatchNumber: 2, Slot1: seeds[1], Slot2: &s4},
		}
	}
	table := SeedTable(capacity)
	out := make([]Assignment, 0, capacity/2)
	for i := 0; i < len(table); i += 2 {
		s2 := seeds[table[i+1]-1]
		out = append(out, Assignment{MatchNumber: i/2 + 1, Slot1: seeds[table[i]-1], Slot2: &s2})
	}
	return out
}

// pairOutsideIn pairs best remaining with worst remaining, numbering matches
// from firstMatch.
func pairOutsideIn(seeds []Seed, firstMatch int) []Assignment {
	out := make([]Assignment, 0, len(seeds)/2)
	for i, j := 0, len(seeds)-1; i < j; i, j = i+1, j-1 {
		s2 := seeds[j]
		out = append(out, Assignment{MatchNumber: firstMatch + i, Slot1: seeds[i], Slot2: &s2})
	}
	return out
}

// ApplySeeding writes assignments into the bracket's round-1 matches. Paired
// matches become scheduled; byes are completed with their sole entrant as
// winner and advanced when the match already feeds a later round.
func ApplySeeding(b *Bracket, result *SeedingResult) error {
	round := b.Round(1)
	if len(result.Assignments) != len(round) {
		return &ValidationError{
			Reason:   "seeding does not cover every first-round match",
			Expected: fmt.Sprint(len(round)),
			Actual:   fmt.Sprint(len(result.Assignments)),
		}
	}
	for _, a := range result.Assignments {
		if a.MatchNumber < 1 || a.MatchNumber > len(round) {
			return &ValidationError{Reason: fmt.Sprintf("assignment for unknown first-round match %d", a.MatchNumber)}
		}
		m := round[a.MatchNumber-1]
		if m.Status != models.MatchStatusPending || m.Slot1.Filled() || m.Slot2.Filled() {
			return &ValidationError{MatchID: m.ID, Reason: "first-round match is already seeded"}
		}
		m.Slot1 = models.EntrantSlot(a.Slot1.EntrantID)
		if a.Bye() {
			m.IsBye = true
			m.Slot2 = models.EmptySlot()
			continue
		}
		m.Slot2 = models.EntrantSlot(a.Slot2.EntrantID)
		m.Status = models.MatchStatusScheduled
	}

	for _, a := range result.Byes() {
		m := round[a.MatchNumber-1]
		plan, err := CompleteMatch(b, m.ID, a.Slot1.EntrantID, nil)
		if err != nil {
			return err
		}
		if err := b.Apply(plan); err != nil {
			return err
		}
	}
	return nil
}
