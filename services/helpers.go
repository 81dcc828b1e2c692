package services

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Dosada05/bracket-engine/brackets"
	"github.com/Dosada05/bracket-engine/models"
	"github.com/Dosada05/bracket-engine/repositories"
)

type EntrantView struct {
	ID           int                `json:"id"`
	Name         string             `json:"name"`
	Kind         models.EntrantKind `json:"kind"`
	Ranking      float64            `json:"ranking"`
	SeedPosition *int               `json:"seed_position,omitempty"`
}

type MatchView struct {
	MatchID         int                `json:"match_id"`
	UID             string             `json:"uid"`
	Round           int                `json:"round"`
	Number          int                `json:"number"`
	Status          models.MatchStatus `json:"status"`
	IsBye           bool               `json:"is_bye"`
	Slot1           models.Slot        `json:"slot1"`
	Slot2           models.Slot        `json:"slot2"`
	Entrant1        *EntrantView       `json:"entrant1,omitempty"`
	Entrant2        *EntrantView       `json:"entrant2,omitempty"`
	WinnerID        *int               `json:"winner_id,omitempty"`
	Score           *string            `json:"score,omitempty"`
	FeedsToMatchID  *int               `json:"feeds_to_match_id,omitempty"`
	FeedsToPosition *int               `json:"feeds_to_position,omitempty"`
}

type RoundView struct {
	Round   int         `json:"round"`
	Matches []MatchView `json:"matches"`
}

// BracketView is the read model served by GetBracket, cached in redis and
// archived once the tournament has a champion.
type BracketView struct {
	Tournament *models.Tournament `json:"tournament"`
	Entrants   []EntrantView      `json:"entrants"`
	Rounds     []RoundView        `json:"rounds"`
	Champion   *EntrantView       `json:"champion,omitempty"`
}

// Match finds a match of the view by id.
func (v *BracketView) Match(id int) (MatchView, bool) {
	for _, r := range v.Rounds {
		for _, m := range r.Matches {
			if m.MatchID == id {
				return m, true
			}
		}
	}
	return MatchView{}, false
}

func toEntrantView(reg *models.Registration) EntrantView {
	return EntrantView{
		ID:           reg.EntrantID(),
		Name:         reg.Entrant.Name(),
		Kind:         reg.Entrant.Kind(),
		Ranking:      reg.Entrant.EffectiveRanking(),
		SeedPosition: reg.SeedPosition,
	}
}

func slotEntrant(slot models.Slot, entrants map[int]EntrantView) *EntrantView {
	if !slot.Filled() {
		return nil
	}
	if e, ok := entrants[*slot.EntrantID]; ok {
		return &e
	}
	return &EntrantView{ID: *slot.EntrantID, Name: fmt.Sprintf("Entrant %d", *slot.EntrantID)}
}

func toMatchView(m *models.Match, entrants map[int]EntrantView) MatchView {
	return MatchView{
		MatchID:         m.ID,
		UID:             m.UID,
		Round:           m.Round,
		Number:          m.Number,
		Status:          m.Status,
		IsBye:           m.IsBye,
		Slot1:           m.Slot1,
		Slot2:           m.Slot2,
		Entrant1:        slotEntrant(m.Slot1, entrants),
		Entrant2:        slotEntrant(m.Slot2, entrants),
		WinnerID:        m.WinnerID,
		Score:           m.Score,
		FeedsToMatchID:  m.FeedsToMatchID,
		FeedsToPosition: m.FeedsToPosition,
	}
}

func buildBracketView(t *models.Tournament, regs []*models.Registration, matches []*models.Match) *BracketView {
	view := &BracketView{
		Tournament: t,
		Entrants:   make([]EntrantView, 0, len(regs)),
		Rounds:     []RoundView{},
	}
	byID := make(map[int]EntrantView, len(regs))
	for _, reg := range regs {
		e := toEntrantView(reg)
		byID[e.ID] = e
		view.Entrants = append(view.Entrants, e)
	}

	sorted := append([]*models.Match(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Round != sorted[j].Round {
			return sorted[i].Round < sorted[j].Round
		}
		return sorted[i].Number < sorted[j].Number
	})
	for _, m := range sorted {
		if n := len(view.Rounds); n == 0 || view.Rounds[n-1].Round != m.Round {
			view.Rounds = append(view.Rounds, RoundView{Round: m.Round})
		}
		last := &view.Rounds[len(view.Rounds)-1]
		last.Matches = append(last.Matches, toMatchView(m, byID))
	}

	if t.ChampionEntrantID != nil {
		view.Champion = slotEntrant(models.EntrantSlot(*t.ChampionEntrantID), byID)
	}
	return view
}

// errorMessages flattens an errors.Join result into one message per error.
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(joined.Unwrap()))
	for _, e := range joined.Unwrap() {
		out = append(out, e.Error())
	}
	return out
}

// handleRepositoryError maps store errors onto service errors. Anything it
// does not recognise becomes a PersistenceError for op.
func handleRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound),
		errors.Is(err, repositories.ErrRegistrationInvalid),
		errors.Is(err, repositories.ErrMatchTournamentInvalid):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrRegistrationConflict):
		return ErrRegistrationConflict
	case errors.Is(err, repositories.ErrMatchConflict),
		errors.Is(err, repositories.ErrTournamentConflict):
		return fmt.Errorf("%w: %s: %v", ErrConcurrentUpdate, op, err)
	case isDomainError(err):
		return err
	}
	return brackets.NewPersistenceError(op, err)
}

// txError classifies an error returned from Store.InTx: errors produced by
// the callback pass through, failures of the transaction itself are
// persistence errors.
func txError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return brackets.NewPersistenceError(op, err)
}
