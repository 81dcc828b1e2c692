package models

import (
	"math/bits"
	"time"
)

// GenerationMode controls whether all rounds are created up front or one at a
// time by reconciliation.
type GenerationMode string

const (
	GenerationFull        GenerationMode = "full"
	GenerationIncremental GenerationMode = "incremental"
)

func (m GenerationMode) Valid() bool {
	return m == GenerationFull || m == GenerationIncremental
}

// Tournament is a single-elimination competition. Capacity, EntrantKind,
// GenerationMode and SeedingPolicy are fixed once BracketBuiltAt is set.
type Tournament struct {
	ID                int            `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	EntrantKind       EntrantKind    `json:"entrant_kind" db:"entrant_kind"`
	Capacity          int            `json:"capacity" db:"capacity"`
	TotalRounds       int            `json:"total_rounds" db:"total_rounds"`
	GenerationMode    GenerationMode `json:"generation_mode,omitempty" db:"generation_mode"`
	SeedingPolicy     string         `json:"seeding_policy,omitempty" db:"seeding_policy"`
	BracketBuiltAt    *time.Time     `json:"bracket_built_at,omitempty" db:"bracket_built_at"`
	ChampionEntrantID *int           `json:"champion_entrant_id,omitempty" db:"champion_entrant_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

func (t *Tournament) BracketBuilt() bool {
	return t.BracketBuiltAt != nil
}

func (t *Tournament) Finished() bool {
	return t.ChampionEntrantID != nil
}

// TotalRoundsFor returns log2(capacity) for a power-of-two capacity, or 0.
func TotalRoundsFor(capacity int) int {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return 0
	}
	return bits.TrailingZeros(uint(capacity))
}
