package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/bracket-engine/models"
)

type roundKey struct {
	tournamentID int
	round        int
}

type memoryState struct {
	nextTournamentID   int
	nextRegistrationID int
	nextMatchID        int

	tournaments   map[int]*models.Tournament
	registrations map[int]*models.Registration
	matches       map[int]*models.Match
	rounds        map[roundKey]bool
}

func newMemoryState() *memoryState {
	return &memoryState{
		tournaments:   make(map[int]*models.Tournament),
		registrations: make(map[int]*models.Registration),
		matches:       make(map[int]*models.Match),
		rounds:        make(map[roundKey]bool),
	}
}

func (st *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextTournamentID = st.nextTournamentID
	c.nextRegistrationID = st.nextRegistrationID
	c.nextMatchID = st.nextMatchID
	for id, t := range st.tournaments {
		c.tournaments[id] = cloneTournament(t)
	}
	for id, r := range st.registrations {
		c.registrations[id] = cloneRegistration(r)
	}
	for id, m := range st.matches {
		c.matches[id] = m.Clone()
	}
	for k := range st.rounds {
		c.rounds[k] = true
	}
	return c
}

func cloneTournament(t *models.Tournament) *models.Tournament {
	c := *t
	if t.BracketBuiltAt != nil {
		ts := *t.BracketBuiltAt
		c.BracketBuiltAt = &ts
	}
	if t.ChampionEntrantID != nil {
		c.ChampionEntrantID = models.IntPtr(*t.ChampionEntrantID)
	}
	return &c
}

func cloneRegistration(r *models.Registration) *models.Registration {
	c := *r
	if r.SeedPosition != nil {
		c.SeedPosition = models.IntPtr(*r.SeedPosition)
	}
	return &c
}

type memoryRoot struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// memoryStore keeps everything in process. Every write works on a copy of the
// state that replaces the original only on success, so a failed operation or
// transaction leaves nothing behind. Transactions hold the lock for their
// whole callback and are therefore serialized.
type memoryStore struct {
	root *memoryRoot

	// tx is the working copy of an open transaction, nil outside one.
	tx *memoryState
}

func NewMemoryStore() Store {
	return &memoryStore{root: &memoryRoot{state: newMemoryState(), now: time.Now}}
}

func (s *memoryStore) Tournaments() TournamentRepository     { return memoryTournaments{s} }
func (s *memoryStore) Registrations() RegistrationRepository { return memoryRegistrations{s} }
func (s *memoryStore) Matches() MatchRepository              { return memoryMatches{s} }

func (s *memoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *memoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	working := s.root.state.clone()
	if err := fn(&memoryStore{root: s.root, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.root.state = working
	return nil
}

func (s *memoryStore) read(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return fn(s.root.state)
}

func (s *memoryStore) write(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	working := s.root.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.root.state = working
	return nil
}

type memoryTournaments struct{ s *memoryStore }

func (r memoryTournaments) Create(ctx context.Context, t *models.Tournament) error {
	return r.s.write(ctx, func(st *memoryState) error {
		st.nextTournamentID++
		t.ID = st.nextTournamentID
		t.CreatedAt = r.s.root.now()
		st.tournaments[t.ID] = cloneTournament(t)
		return nil
	})
}

func (r memoryTournaments) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	var out *models.Tournament
	err := r.s.read(ctx, func(st *memoryState) error {
		t, ok := st.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		out = cloneTournament(t)
		return nil
	})
	return out, err
}

func (r memoryTournaments) MarkBracketBuilt(ctx context.Context, t *models.Tournament) error {
	return r.s.write(ctx, func(st *memoryState) error {
		stored, ok := st.tournaments[t.ID]
		if !ok {
			return ErrTournamentNotFound
		}
		if stored.BracketBuiltAt != nil {
			return ErrTournamentConflict
		}
		now := r.s.root.now()
		stored.Capacity = t.Capacity
		stored.TotalRounds = t.TotalRounds
		stored.EntrantKind = t.EntrantKind
		stored.GenerationMode = t.GenerationMode
		stored.SeedingPolicy = t.SeedingPolicy
		stored.BracketBuiltAt = &now
		built := now
		t.BracketBuiltAt = &built
		return nil
	})
}

func (r memoryTournaments) SetChampion(ctx context.Context, tournamentID, entrantID int) (bool, error) {
	set := false
	err := r.s.write(ctx, func(st *memoryState) error {
		stored, ok := st.tournaments[tournamentID]
		if !ok {
			return ErrTournamentNotFound
		}
		if stored.ChampionEntrantID != nil {
			return nil
		}
		stored.ChampionEntrantID = models.IntPtr(entrantID)
		set = true
		return nil
	})
	return set, err
}

func (r memoryTournaments) ListInProgress(ctx context.Context) ([]*models.Tournament, error) {
	var out []*models.Tournament
	err := r.s.read(ctx, func(st *memoryState) error {
		for _, t := range st.tournaments {
			if t.BracketBuiltAt != nil && t.ChampionEntrantID == nil {
				out = append(out, cloneTournament(t))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type memoryRegistrations struct{ s *memoryStore }

func (r memoryRegistrations) Create(ctx context.Context, reg *models.Registration) error {
	if reg.Entrant.Competitor == nil {
		return fmt.Errorf("%w: entrant is required", models.ErrEntrantMembersInvalid)
	}
	return r.s.write(ctx, func(st *memoryState) error {
		if _, ok := st.tournaments[reg.TournamentID]; !ok {
			return ErrRegistrationInvalid
		}
		if reg.SeedPosition != nil {
			for _, other := range st.registrations {
				if other.TournamentID == reg.TournamentID && other.SeedPosition != nil && *other.SeedPosition == *reg.SeedPosition {
					return ErrRegistrationConflict
				}
			}
		}
		st.nextRegistrationID++
		reg.ID = st.nextRegistrationID
		reg.Entrant.ID = reg.ID
		reg.CreatedAt = r.s.root.now()
		st.registrations[reg.ID] = cloneRegistration(reg)
		return nil
	})
}

func (r memoryRegistrations) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Registration, error) {
	out := make([]*models.Registration, 0)
	err := r.s.read(ctx, func(st *memoryState) error {
		for _, reg := range st.registrations {
			if reg.TournamentID == tournamentID {
				out = append(out, cloneRegistration(reg))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

type memoryMatches struct{ s *memoryStore }

func (r memoryMatches) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	out := make([]*models.Match, 0)
	err := r.s.read(ctx, func(st *memoryState) error {
		for _, m := range st.matches {
			if m.TournamentID == tournamentID {
				out = append(out, m.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Number < out[j].Number
	})
	return out, err
}

func (r memoryMatches) InsertMatches(ctx context.Context, tournamentID int, matches []*models.Match) ([]int, error) {
	var ids []int
	err := r.s.write(ctx, func(st *memoryState) error {
		var err error
		ids, err = r.insert(st, tournamentID, matches)
		return err
	})
	return ids, err
}

func (r memoryMatches) insert(st *memoryState, tournamentID int, matches []*models.Match) ([]int, error) {
	if _, ok := st.tournaments[tournamentID]; !ok {
		return nil, ErrMatchTournamentInvalid
	}
	for _, existing := range st.matches {
		for _, m := range matches {
			if existing.TournamentID == tournamentID && existing.Round == m.Round && existing.Number == m.Number {
				return nil, fmt.Errorf("%w: %s already exists", ErrMatchConflict, m.UID)
			}
		}
	}

	idMap := make(map[int]int, len(matches))
	for _, m := range matches {
		st.nextMatchID++
		if isProvisional(m.ID) {
			idMap[m.ID] = st.nextMatchID
		}
	}

	now := r.s.root.now()
	ids := make([]int, len(matches))
	next := st.nextMatchID - len(matches)
	for i, m := range matches {
		next++
		m.ID = next
		m.TournamentID = tournamentID
		m.FeedsToMatchID = resolveEdge(m.FeedsToMatchID, idMap)
		m.PreviousMatch1ID = resolveEdge(m.PreviousMatch1ID, idMap)
		m.PreviousMatch2ID = resolveEdge(m.PreviousMatch2ID, idMap)
		m.CreatedAt, m.UpdatedAt = now, now
		st.matches[m.ID] = m.Clone()
		st.rounds[roundKey{tournamentID, m.Round}] = true
		ids[i] = m.ID
	}
	return ids, nil
}

func (r memoryMatches) InsertRoundIfAbsent(ctx context.Context, tournamentID, round int, matches []*models.Match, links []RoundLink) (bool, error) {
	inserted := false
	err := r.s.write(ctx, func(st *memoryState) error {
		key := roundKey{tournamentID, round}
		if st.rounds[key] {
			return nil
		}
		provisional := make(map[int]*models.Match, len(matches))
		for _, m := range matches {
			provisional[m.ID] = m
		}
		if _, err := r.insert(st, tournamentID, matches); err != nil {
			return err
		}
		st.rounds[key] = true

		for _, l := range links {
			target, ok := provisional[l.TargetMatchID]
			if !ok {
				return fmt.Errorf("link from match %d targets unknown match %d", l.SourceMatchID, l.TargetMatchID)
			}
			src, ok := st.matches[l.SourceMatchID]
			if !ok || src.TournamentID != tournamentID || src.FeedsToMatchID != nil {
				return ErrMatchConflict
			}
			src.FeedsToMatchID = models.IntPtr(target.ID)
			src.FeedsToPosition = models.IntPtr(l.Position)
			src.UpdatedAt = r.s.root.now()
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (r memoryMatches) Update(ctx context.Context, matchID int, patch models.MatchPatch) error {
	return r.s.write(ctx, func(st *memoryState) error {
		m, ok := st.matches[matchID]
		if !ok {
			return ErrMatchNotFound
		}
		if !patch.Matches(m) {
			return ErrMatchConflict
		}
		patch.Apply(m)
		m.UpdatedAt = r.s.root.now()
		return nil
	})
}
