package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/bracket-engine/brackets"
	"github.com/Dosada05/bracket-engine/metrics"
	"github.com/Dosada05/bracket-engine/models"
	"github.com/Dosada05/bracket-engine/repositories"
	"github.com/Dosada05/bracket-engine/storage"
)

type fixture struct {
	store       repositories.Store
	tournaments TournamentService
	brackets    BracketService
	uploader    *storage.MemoryUploader
	metrics     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := repositories.NewMemoryStore()
	uploader := storage.NewMemoryUploader()
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		store:       store,
		tournaments: NewTournamentService(store, logger),
		brackets: NewBracketService(store, brackets.NewSingleEliminationGenerator(logger),
			nil, storage.NewBracketArchive(uploader), m, logger),
		uploader: uploader,
		metrics:  m,
	}
}

// tournamentWith creates a tournament with n individuals; entrant i has
// ranking i, so it is seed i.
func (f *fixture) tournamentWith(t *testing.T, n int) int {
	t.Helper()
	ctx := context.Background()
	tournament, err := f.tournaments.CreateTournament(ctx, CreateTournamentInput{Name: "Club Open", EntrantKind: models.EntrantIndividual})
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := f.tournaments.Register(ctx, tournament.ID, RegisterInput{
			Members: []models.Member{{Name: fmt.Sprintf("Player %d", i), Ranking: float64(i)}},
		})
		require.NoError(t, err)
	}
	return tournament.ID
}

func (f *fixture) view(t *testing.T, tournamentID int) *BracketView {
	t.Helper()
	view, err := f.brackets.GetBracket(context.Background(), tournamentID)
	require.NoError(t, err)
	return view
}

func viewMatch(t *testing.T, view *BracketView, uid string) MatchView {
	t.Helper()
	for _, r := range view.Rounds {
		for _, m := range r.Matches {
			if m.UID == uid {
				return m
			}
		}
	}
	t.Fatalf("match %s not in view", uid)
	return MatchView{}
}

func slotID(s models.Slot) int {
	if !s.Filled() {
		return 0
	}
	return *s.EntrantID
}

// completeWithSlot1 completes a match in favour of the entrant in slot 1.
func (f *fixture) completeWithSlot1(t *testing.T, tournamentID int, uid string) *CompletionResult {
	t.Helper()
	m := viewMatch(t, f.view(t, tournamentID), uid)
	require.True(t, m.Slot1.Filled(), "%s slot 1 is empty", uid)
	res, err := f.brackets.CompleteMatch(context.Background(), tournamentID, m.MatchID, slotID(m.Slot1), nil)
	require.NoError(t, err)
	return res
}

func TestBuildBracket_ScenarioA_MirroredFullField(t *testing.T) {
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)

	view, err := f.brackets.BuildBracket(context.Background(), tid, 4, models.EntrantIndividual, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, string(brackets.PolicyMirrored), view.Tournament.SeedingPolicy)
	require.Len(t, view.Rounds, 2)
	m1 := viewMatch(t, view, "R1M1")
	m2 := viewMatch(t, view, "R1M2")
	assert.Equal(t, []int{1, 3}, []int{slotID(m1.Slot1), slotID(m1.Slot2)})
	assert.Equal(t, []int{2, 4}, []int{slotID(m2.Slot1), slotID(m2.Slot2)})
	assert.Equal(t, models.MatchStatusScheduled, m1.Status)
	assert.Equal(t, "Player 1", m1.Entrant1.Name)

	final := viewMatch(t, view, "R2M1")
	assert.Equal(t, models.SlotPlaceholder, final.Slot1.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BracketsBuilt.WithLabelValues("mirrored", "full")))
}

func TestBuildBracket_ScenarioB_ByesAdvanceImmediately(t *testing.T) {
	f := newFixture(t)
	tid := f.tournamentWith(t, 6)

	view, err := f.brackets.BuildBracket(context.Background(), tid, 8, "", BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, string(brackets.PolicyByeHandicap), view.Tournament.SeedingPolicy)

	for i, uid := range []string{"R1M1", "R1M2"} {
		bye := viewMatch(t, view, uid)
		assert.True(t, bye.IsBye, uid)
		assert.Equal(t, models.MatchStatusCompleted, bye.Status, uid)
		require.NotNil(t, bye.WinnerID, uid)
		assert.Equal(t, i+1, *bye.WinnerID, uid)
	}

	r2 := viewMatch(t, view, "R2M1")
	assert.Equal(t, 1, slotID(r2.Slot1))
	assert.Equal(t, 2, slotID(r2.Slot2))
	assert.Equal(t, models.MatchStatusScheduled, r2.Status)

	m3 := viewMatch(t, view, "R1M3")
	m4 := viewMatch(t, view, "R1M4")
	assert.Equal(t, []int{3, 6}, []int{slotID(m3.Slot1), slotID(m3.Slot2)})
	assert.Equal(t, []int{4, 5}, []int{slotID(m4.Slot1), slotID(m4.Slot2)})

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MatchesCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Advancements))
}

func TestBuildBracket_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)

	_, err := f.brackets.BuildBracket(ctx, tid, 6, "", BuildOptions{})
	assert.ErrorIs(t, err, brackets.ErrStructure)

	_, err = f.brackets.BuildBracket(ctx, tid, 2, "", BuildOptions{})
	assert.ErrorIs(t, err, brackets.ErrValidation, "four entrants do not fit capacity 2")

	_, err = f.brackets.BuildBracket(ctx, tid, 1<<40, "", BuildOptions{})
	assert.ErrorIs(t, err, brackets.ErrValidation, "four entrants cannot fill a capacity of 2^40")

	_, err = f.brackets.BuildBracket(ctx, tid, 4, models.EntrantPair, BuildOptions{})
	assert.ErrorIs(t, err, ErrEntrantKindMismatch)

	_, err = f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{Mode: "swiss"})
	assert.ErrorIs(t, err, ErrGenerationModeInvalid)

	_, err = f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{Policy: "alphabetical"})
	assert.ErrorIs(t, err, ErrSeedingPolicyInvalid)

	_, err = f.brackets.BuildBracket(ctx, 999, 4, "", BuildOptions{})
	assert.ErrorIs(t, err, ErrTournamentNotFound)

	// nothing above may have left a partial bracket behind
	_, err = f.brackets.GetBracket(ctx, tid)
	require.ErrorIs(t, err, ErrBracketNotBuilt)
	matches, err := f.store.Matches().ListByTournament(ctx, tid)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)
	_, err = f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	assert.ErrorIs(t, err, ErrBracketAlreadyBuilt)
}

func TestRegister_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pairs, err := f.tournaments.CreateTournament(ctx, CreateTournamentInput{Name: "Doubles", EntrantKind: models.EntrantPair})
	require.NoError(t, err)
	_, err = f.tournaments.Register(ctx, pairs.ID, RegisterInput{Members: []models.Member{{Name: "Solo", Ranking: 3}}})
	assert.ErrorIs(t, err, ErrValidationFailed)

	reg, err := f.tournaments.Register(ctx, pairs.ID, RegisterInput{
		Members:      []models.Member{{Name: "A", Ranking: 2}, {Name: "B", Ranking: 4}},
		SeedPosition: models.IntPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, reg.Entrant.EffectiveRanking())
	assert.Equal(t, "A / B", reg.Entrant.Name())

	_, err = f.tournaments.Register(ctx, pairs.ID, RegisterInput{
		Members:      []models.Member{{Name: "C", Ranking: 1}, {Name: "D", Ranking: 1}},
		SeedPosition: models.IntPtr(1),
	})
	assert.ErrorIs(t, err, ErrRegistrationConflict)

	_, err = f.tournaments.Register(ctx, pairs.ID, RegisterInput{
		Members:      []models.Member{{Name: "C", Ranking: 1}, {Name: "D", Ranking: 1}},
		SeedPosition: models.IntPtr(0),
	})
	assert.ErrorIs(t, err, ErrSeedPositionInvalid)

	_, err = f.tournaments.CreateTournament(ctx, CreateTournamentInput{Name: "  "})
	assert.ErrorIs(t, err, ErrTournamentNameRequired)

	tid := f.tournamentWith(t, 2)
	_, err = f.brackets.BuildBracket(ctx, tid, 2, "", BuildOptions{})
	require.NoError(t, err)
	_, err = f.tournaments.Register(ctx, tid, RegisterInput{Members: []models.Member{{Name: "Late", Ranking: 1}}})
	assert.ErrorIs(t, err, ErrRegistrationClosed)

	regs, err := f.tournaments.ListRegistrations(ctx, tid)
	require.NoError(t, err)
	assert.Len(t, regs, 2)
}

func TestCompleteMatch_ScenarioC_AdvanceReplayConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)

	m := viewMatch(t, f.view(t, tid), "R1M1")
	res, err := f.brackets.CompleteMatch(ctx, tid, m.MatchID, 1, nil)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.NotNil(t, res.AdvancedTo)
	assert.Equal(t, 1, slotID(res.AdvancedTo.Slot1))
	assert.Equal(t, *m.FeedsToMatchID, res.AdvancedTo.ID)

	replay, err := f.brackets.CompleteMatch(ctx, tid, m.MatchID, 1, nil)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Nil(t, replay.AdvancedTo)

	_, err = f.brackets.CompleteMatch(ctx, tid, m.MatchID, 3, nil)
	require.ErrorIs(t, err, brackets.ErrAdvancementConflict)
	var conflict *brackets.AdvancementConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Existing)
	assert.Equal(t, 3, conflict.Incoming)

	stored := viewMatch(t, f.view(t, tid), "R1M1")
	assert.Equal(t, 1, *stored.WinnerID, "a rejected completion changes nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AdvancementConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MatchesCompleted))
}

func TestCompleteMatch_ScenarioD_RoundOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)

	f.completeWithSlot1(t, tid, "R1M1")
	final := viewMatch(t, f.view(t, tid), "R2M1")

	_, err = f.brackets.CompleteMatch(ctx, tid, final.MatchID, 1, nil)
	require.ErrorIs(t, err, brackets.ErrValidation)
	var verr *brackets.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, final.MatchID, verr.MatchID)
}

func TestCompleteMatch_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)

	_, err := f.brackets.CompleteMatch(ctx, tid, 1, 1, nil)
	assert.ErrorIs(t, err, ErrBracketNotBuilt)

	_, err = f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)

	m := viewMatch(t, f.view(t, tid), "R1M1")
	_, err = f.brackets.CompleteMatch(ctx, tid, m.MatchID, 2, nil)
	assert.ErrorIs(t, err, brackets.ErrValidation, "entrant 2 does not play R1M1")

	_, err = f.brackets.CompleteMatch(ctx, tid, 12345, 1, nil)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = f.brackets.CompleteMatch(ctx, 777, m.MatchID, 1, nil)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestCompleteMatch_ChampionRecordedAndArchivedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)

	f.completeWithSlot1(t, tid, "R1M1")
	f.completeWithSlot1(t, tid, "R1M2")
	score := "6-4 6-3"
	final := viewMatch(t, f.view(t, tid), "R2M1")
	res, err := f.brackets.CompleteMatch(ctx, tid, final.MatchID, 1, &score)
	require.NoError(t, err)
	require.NotNil(t, res.ChampionID)
	assert.Equal(t, 1, *res.ChampionID)

	view := f.view(t, tid)
	require.NotNil(t, view.Champion)
	assert.Equal(t, 1, view.Champion.ID)

	require.Equal(t, 1, f.uploader.Len())
	payload, ok := f.uploader.Object(storage.ArchiveKey(tid))
	require.True(t, ok)
	var archived BracketView
	require.NoError(t, json.Unmarshal(payload, &archived))
	require.NotNil(t, archived.Champion)
	assert.Equal(t, 1, archived.Champion.ID)
	assert.Equal(t, "6-4 6-3", *viewMatch(t, &archived, "R2M1").Score)

	// neither a replay nor reconciliation records the champion again
	replay, err := f.brackets.CompleteMatch(ctx, tid, final.MatchID, 1, nil)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	report, err := f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChampionsRecorded))
	assert.Equal(t, 1, f.uploader.Len())

	_, err = f.brackets.CompleteMatch(ctx, tid, final.MatchID, 2, nil)
	assert.ErrorIs(t, err, brackets.ErrValidation, "a finished tournament keeps its champion")
}

func TestIncrementalMode_RoundsMaterializedByReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 8)

	view, err := f.brackets.BuildBracket(ctx, tid, 8, "", BuildOptions{Mode: models.GenerationIncremental})
	require.NoError(t, err)
	require.Len(t, view.Rounds, 1)

	report, err := f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Zero(t, report.RoundCreated, "round 1 is not finished")

	for _, uid := range []string{"R1M1", "R1M2", "R1M3"} {
		f.completeWithSlot1(t, tid, uid)
	}
	report, err = f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Zero(t, report.RoundCreated)

	f.completeWithSlot1(t, tid, "R1M4")
	report, err = f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RoundCreated)

	view = f.view(t, tid)
	require.Len(t, view.Rounds, 2)
	r1 := view.Rounds[0].Matches
	for _, m := range view.Rounds[1].Matches {
		assert.Equal(t, models.MatchStatusScheduled, m.Status, m.UID)
		src1, src2 := r1[2*m.Number-2], r1[2*m.Number-1]
		assert.Equal(t, *src1.WinnerID, slotID(m.Slot1), m.UID)
		assert.Equal(t, *src2.WinnerID, slotID(m.Slot2), m.UID)
		assert.Equal(t, m.MatchID, *src1.FeedsToMatchID)
		assert.Equal(t, 2, *src2.FeedsToPosition)
	}

	report, err = f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.False(t, report.Changed(), "reconcile is idempotent")

	f.completeWithSlot1(t, tid, "R2M1")
	f.completeWithSlot1(t, tid, "R2M2")
	report, err = f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RoundCreated)

	res := f.completeWithSlot1(t, tid, "R3M1")
	require.NotNil(t, res.ChampionID)
	assert.Equal(t, 1, *res.ChampionID)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RoundsMaterialized))
	assert.Equal(t, 1, f.uploader.Len())
}

func TestIncrementalMode_ByesJoinRoundTwo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 6)
	_, err := f.brackets.BuildBracket(ctx, tid, 8, "", BuildOptions{Mode: models.GenerationIncremental})
	require.NoError(t, err)

	f.completeWithSlot1(t, tid, "R1M3")
	f.completeWithSlot1(t, tid, "R1M4")
	report, err := f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	require.Equal(t, 2, report.RoundCreated)

	view := f.view(t, tid)
	r2m1 := viewMatch(t, view, "R2M1")
	r2m2 := viewMatch(t, view, "R2M2")
	assert.Equal(t, []int{1, 2}, []int{slotID(r2m1.Slot1), slotID(r2m1.Slot2)})
	assert.Equal(t, []int{3, 4}, []int{slotID(r2m2.Slot1), slotID(r2m2.Slot2)})
}

func TestReconcile_ConcurrentCallersCreateRoundOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 8)
	_, err := f.brackets.BuildBracket(ctx, tid, 8, "", BuildOptions{Mode: models.GenerationIncremental})
	require.NoError(t, err)
	for _, uid := range []string{"R1M1", "R1M2", "R1M3", "R1M4"} {
		f.completeWithSlot1(t, tid, uid)
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.brackets.Reconcile(ctx, tid)
			assert.NoError(t, err)
			if report != nil && report.RoundCreated == 2 {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	view := f.view(t, tid)
	require.Len(t, view.Rounds, 2)
	assert.Len(t, view.Rounds[1].Matches, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoundsMaterialized))
}

func TestReconcile_RepairsLostAdvancement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)

	// completion committed without its advancement write
	m := viewMatch(t, f.view(t, tid), "R1M1")
	completed := models.MatchStatusCompleted
	require.NoError(t, f.store.Matches().Update(ctx, m.MatchID, models.MatchPatch{
		Status:   &completed,
		WinnerID: models.IntPtr(3),
	}))

	report, err := f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, []int{m.MatchID}, report.Repaired)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 3, slotID(viewMatch(t, f.view(t, tid), "R2M1").Slot1))

	report, err = f.brackets.Reconcile(ctx, tid)
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
}

func TestReconcile_ReportsConflictWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tid := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, tid, 4, "", BuildOptions{})
	require.NoError(t, err)
	f.completeWithSlot1(t, tid, "R1M1")

	final := viewMatch(t, f.view(t, tid), "R2M1")
	corrupt := models.EntrantSlot(3)
	require.NoError(t, f.store.Matches().Update(ctx, final.MatchID, models.MatchPatch{Slot1: &corrupt}))

	report, err := f.brackets.Reconcile(ctx, tid)
	require.ErrorIs(t, err, brackets.ErrAdvancementConflict)
	require.NotNil(t, report)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, 3, report.Conflicts[0].Existing)
	assert.Equal(t, 1, report.Conflicts[0].Incoming)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, report.Violations[0], "does not hold the winner of R1M1")
	assert.Equal(t, 3, slotID(viewMatch(t, f.view(t, tid), "R2M1").Slot1))
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	incremental := f.tournamentWith(t, 4)
	_, err := f.brackets.BuildBracket(ctx, incremental, 4, "", BuildOptions{Mode: models.GenerationIncremental})
	require.NoError(t, err)
	f.completeWithSlot1(t, incremental, "R1M1")
	f.completeWithSlot1(t, incremental, "R1M2")

	f.tournamentWith(t, 2) // not built, not in progress

	reports, err := f.brackets.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, incremental, reports[0].TournamentID)
	assert.Equal(t, 2, reports[0].RoundCreated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcilePasses.WithLabelValues("ok")))
}

func TestHandleRepositoryError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"tournament", repositories.ErrTournamentNotFound, ErrTournamentNotFound},
		{"match", repositories.ErrMatchNotFound, ErrMatchNotFound},
		{"seed position", repositories.ErrRegistrationConflict, ErrRegistrationConflict},
		{"cas", repositories.ErrMatchConflict, ErrConcurrentUpdate},
		{"domain passthrough", ErrBracketNotBuilt, ErrBracketNotBuilt},
		{"unknown", cause, brackets.ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, handleRepositoryError("op", tt.in), tt.want)
		})
	}
	assert.NoError(t, handleRepositoryError("op", nil))
	assert.ErrorIs(t, handleRepositoryError("op", cause), cause)
}
