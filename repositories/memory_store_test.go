package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/brackets"
	"github.com/Dosada05/bracket-engine/models"
)

func newTournament(t *testing.T, store Store) *models.Tournament {
	t.Helper()
	tournament := &models.Tournament{Name: "Club Open", EntrantKind: models.EntrantIndividual}
	require.NoError(t, store.Tournaments().Create(context.Background(), tournament))
	return tournament
}

func TestMemoryStore_InsertMatchesResolvesEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)

	matches, err := brackets.BuildStructure(4)
	require.NoError(t, err)
	ids, err := store.Matches().InsertMatches(ctx, tournament.ID, matches)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)

	stored, err := store.Matches().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 3, *stored[0].FeedsToMatchID)
	assert.Equal(t, 2, *stored[1].FeedsToPosition)
	assert.Equal(t, 1, *stored[2].PreviousMatch1ID)
	assert.Equal(t, 2, *stored[2].PreviousMatch2ID)

	_, err = brackets.NewBracket(4, stored)
	assert.NoError(t, err)
}

func TestMemoryStore_UpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)
	matches, err := brackets.BuildStructure(2)
	require.NoError(t, err)
	_, err = store.Matches().InsertMatches(ctx, tournament.ID, matches)
	require.NoError(t, err)
	id := matches[0].ID

	pending := models.MatchStatusPending
	scheduled := models.MatchStatusScheduled
	slot := models.EntrantSlot(7)
	require.NoError(t, store.Matches().Update(ctx, id, models.MatchPatch{ExpectStatus: &pending, Slot1: &slot}))

	err = store.Matches().Update(ctx, id, models.MatchPatch{ExpectStatus: &scheduled, Slot2: &slot})
	assert.ErrorIs(t, err, ErrMatchConflict)

	err = store.Matches().Update(ctx, 99, models.MatchPatch{})
	assert.ErrorIs(t, err, ErrMatchNotFound)

	stored, err := store.Matches().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.True(t, stored[0].Slot1.Holds(7))
	assert.False(t, stored[0].Slot2.Filled())
}

func TestMemoryStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx Store) error {
		matches, err := brackets.BuildStructure(4)
		require.NoError(t, err)
		if _, err := tx.Matches().InsertMatches(ctx, tournament.ID, matches); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := store.Matches().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestMemoryStore_InsertRoundIfAbsentOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)

	round1, _, err := brackets.BuildRound(4, 1, nil)
	require.NoError(t, err)
	inserted, err := store.Matches().InsertRoundIfAbsent(ctx, tournament.ID, 1, round1, nil)
	require.NoError(t, err)
	require.True(t, inserted)
	for _, m := range round1 {
		m.Status = models.MatchStatusCompleted
		m.Slot1 = models.EntrantSlot(m.Number)
		m.WinnerID = models.IntPtr(m.Number)
	}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			round2, links, err := brackets.BuildRound(4, 2, round1)
			if !assert.NoError(t, err) {
				return
			}
			roundLinks := make([]RoundLink, len(links))
			for j, l := range links {
				roundLinks[j] = RoundLink{SourceMatchID: l.SourceMatchID, TargetMatchID: l.TargetMatchID, Position: l.Position}
			}
			ok, err := store.Matches().InsertRoundIfAbsent(ctx, tournament.ID, 2, round2, roundLinks)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	created := 0
	for _, ok := range results {
		if ok {
			created++
		}
	}
	assert.Equal(t, 1, created)

	stored, err := store.Matches().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	final := stored[2]
	assert.Equal(t, final.ID, *stored[0].FeedsToMatchID)
	assert.Equal(t, final.ID, *stored[1].FeedsToMatchID)
	assert.Equal(t, 2, *stored[1].FeedsToPosition)
}

func TestMemoryStore_TournamentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)

	tournament.Capacity, tournament.TotalRounds = 8, 3
	require.NoError(t, store.Tournaments().MarkBracketBuilt(ctx, tournament))
	assert.NotNil(t, tournament.BracketBuiltAt)
	assert.ErrorIs(t, store.Tournaments().MarkBracketBuilt(ctx, tournament), ErrTournamentConflict)

	inProgress, err := store.Tournaments().ListInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)

	set, err := store.Tournaments().SetChampion(ctx, tournament.ID, 5)
	require.NoError(t, err)
	assert.True(t, set)
	set, err = store.Tournaments().SetChampion(ctx, tournament.ID, 6)
	require.NoError(t, err)
	assert.False(t, set)

	got, err := store.Tournaments().GetByID(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.ChampionEntrantID)
	assert.Equal(t, 8, got.Capacity)

	inProgress, err = store.Tournaments().ListInProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, inProgress)

	_, err = store.Tournaments().GetByID(ctx, 42)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestMemoryStore_Registrations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tournament := newTournament(t, store)

	for i, name := range []string{"Ana", "Ben", "Cleo"} {
		reg := &models.Registration{
			TournamentID: tournament.ID,
			Entrant:      models.Entrant{Competitor: models.Individual{Member: models.Member{Name: name, Ranking: float64(10 - i)}}},
		}
		require.NoError(t, store.Registrations().Create(ctx, reg))
		assert.Equal(t, reg.ID, reg.Entrant.ID)
	}

	dup := &models.Registration{
		TournamentID: tournament.ID,
		SeedPosition: models.IntPtr(1),
		Entrant:      models.Entrant{Competitor: models.Individual{Member: models.Member{Name: "Dee"}}},
	}
	require.NoError(t, store.Registrations().Create(ctx, dup))
	dup2 := *dup
	dup2.ID = 0
	assert.ErrorIs(t, store.Registrations().Create(ctx, &dup2), ErrRegistrationConflict)

	orphan := &models.Registration{TournamentID: 99, Entrant: dup.Entrant}
	assert.ErrorIs(t, store.Registrations().Create(ctx, orphan), ErrRegistrationInvalid)

	regs, err := store.Registrations().ListByTournament(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, regs, 4)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{regs[0].ID, regs[1].ID, regs[2].ID, regs[3].ID})
	assert.Equal(t, "Ben", regs[1].Entrant.Name())
}
