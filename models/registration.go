package models

import "time"

// Registration attaches an Entrant to a Tournament. The entrant id is the
// registration id. SeedPosition, when set, overrides ranking-based seeding.
type Registration struct {
	ID           int       `json:"id"`
	TournamentID int       `json:"tournament_id"`
	Entrant      Entrant   `json:"entrant"`
	SeedPosition *int      `json:"seed_position,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Registration) EntrantID() int {
	return r.ID
}
