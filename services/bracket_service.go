package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Dosada05/bracket-engine/brackets"
	"github.com/Dosada05/bracket-engine/cache"
	"github.com/Dosada05/bracket-engine/metrics"
	"github.com/Dosada05/bracket-engine/models"
	"github.com/Dosada05/bracket-engine/repositories"
	"github.com/Dosada05/bracket-engine/storage"
	"golang.org/x/sync/errgroup"
)

// reconcileConcurrency bounds how many tournaments one ReconcileAll pass
// works on at a time.
const reconcileConcurrency = 4

type BuildOptions struct {
	Policy brackets.SeedingPolicy
	Mode   models.GenerationMode

	// Rand drives the random policy; nil seeds from the clock.
	Rand *rand.Rand
}

// CompletionResult describes a committed completion. Replayed is set when the
// match already had this winner.
type CompletionResult struct {
	Match      *models.Match `json:"match"`
	AdvancedTo *models.Match `json:"advanced_to,omitempty"`
	Replayed   bool          `json:"replayed"`
	ChampionID *int          `json:"champion_entrant_id,omitempty"`
}

type ReconcileReport struct {
	TournamentID int                             `json:"tournament_id"`
	Repaired     []int                           `json:"repaired_match_ids,omitempty"`
	Conflicts    []*brackets.AdvancementConflict `json:"conflicts,omitempty"`
	RoundCreated int                             `json:"round_created,omitempty"`
	ChampionID   *int                            `json:"champion_entrant_id,omitempty"`

	// Violations lists broken bracket invariants found after the repair pass.
	// Reconcile never rewrites them.
	Violations []string `json:"violations,omitempty"`

	championRecorded bool
}

// Changed reports whether the pass wrote anything.
func (r *ReconcileReport) Changed() bool {
	return len(r.Repaired) > 0 || r.RoundCreated > 0 || r.championRecorded
}

type BracketService interface {
	BuildBracket(ctx context.Context, tournamentID, capacity int, kind models.EntrantKind, opts BuildOptions) (*BracketView, error)
	CompleteMatch(ctx context.Context, tournamentID, matchID, winnerID int, score *string) (*CompletionResult, error)
	Reconcile(ctx context.Context, tournamentID int) (*ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]*ReconcileReport, error)
	GetBracket(ctx context.Context, tournamentID int) (*BracketView, error)
}

type bracketService struct {
	store     repositories.Store
	generator brackets.BracketGenerator
	cache     *cache.BracketCache
	archive   *storage.BracketArchive
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewBracketService wires the engine to its store. cache, archive and m may
// be nil.
func NewBracketService(
	store repositories.Store,
	generator brackets.BracketGenerator,
	bracketCache *cache.BracketCache,
	archive *storage.BracketArchive,
	m *metrics.Metrics,
	logger *slog.Logger,
) BracketService {
	if logger == nil {
		logger = slog.Default()
	}
	if generator == nil {
		generator = brackets.NewSingleEliminationGenerator(logger)
	}
	return &bracketService{
		store:     store,
		generator: generator,
		cache:     bracketCache,
		archive:   archive,
		metrics:   m,
		logger:    logger,
	}
}

// BuildBracket generates and persists the bracket of a tournament. Capacity,
// entrant kind, generation mode and seeding policy are fixed from here on.
func (s *bracketService) BuildBracket(ctx context.Context, tournamentID, capacity int, kind models.EntrantKind, opts BuildOptions) (*BracketView, error) {
	totalRounds, err := brackets.TotalRounds(capacity)
	if err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = models.GenerationFull
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrGenerationModeInvalid, mode)
	}
	if opts.Policy != "" && !opts.Policy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrSeedingPolicyInvalid, opts.Policy)
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrEntrantKindInvalid, kind)
	}

	var generated *brackets.GeneratedBracket
	err = s.store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetByID(ctx, tournamentID)
		if err != nil {
			return handleRepositoryError("get tournament", err)
		}
		if t.BracketBuilt() {
			return ErrBracketAlreadyBuilt
		}
		if kind != "" && kind != t.EntrantKind {
			return fmt.Errorf("%w: tournament takes %s entrants, got %s", ErrEntrantKindMismatch, t.EntrantKind, kind)
		}

		regs, err := tx.Registrations().ListByTournament(ctx, tournamentID)
		if err != nil {
			return handleRepositoryError("list registrations", err)
		}

		t.Capacity = capacity
		t.TotalRounds = totalRounds
		t.GenerationMode = mode
		generated, err = s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
			Tournament:    t,
			Registrations: regs,
			Policy:        opts.Policy,
			Rand:          opts.Rand,
		})
		if err != nil {
			return err
		}
		t.SeedingPolicy = string(generated.Seeding.Policy)

		if err := tx.Tournaments().MarkBracketBuilt(ctx, t); err != nil {
			if errors.Is(err, repositories.ErrTournamentConflict) {
				return ErrBracketAlreadyBuilt
			}
			return handleRepositoryError("mark bracket built", err)
		}
		if _, err := tx.Matches().InsertMatches(ctx, tournamentID, generated.Matches); err != nil {
			return handleRepositoryError("insert matches", err)
		}
		return nil
	})
	if err != nil {
		return nil, txError("build bracket", err)
	}

	s.metrics.BracketBuilt(string(generated.Seeding.Policy), string(mode))
	for range generated.Seeding.ByeCount {
		s.metrics.MatchCompleted(mode == models.GenerationFull)
	}
	s.invalidate(ctx, tournamentID)
	s.logger.InfoContext(ctx, "bracket built",
		slog.Int("tournament_id", tournamentID),
		slog.String("generator", s.generator.GetName()),
		slog.Int("capacity", capacity),
		slog.String("mode", string(mode)),
		slog.String("policy", string(generated.Seeding.Policy)),
		slog.Int("byes", generated.Seeding.ByeCount),
	)
	return s.GetBracket(ctx, tournamentID)
}

// CompleteMatch records the winner of a match and advances it, both in one
// transaction guarded by compare-and-set expectations.
func (s *bracketService) CompleteMatch(ctx context.Context, tournamentID, matchID, winnerID int, score *string) (*CompletionResult, error) {
	var (
		plan        brackets.Plan
		result      *CompletionResult
		championSet bool
	)
	err := s.store.InTx(ctx, func(tx repositories.Store) error {
		t, b, err := s.loadBracket(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if _, ok := b.Match(matchID); !ok {
			return fmt.Errorf("%w: match %d in tournament %d", ErrMatchNotFound, matchID, tournamentID)
		}
		if err := brackets.ValidateCompletion(b, matchID); err != nil {
			return err
		}
		plan, err = brackets.CompleteMatch(b, matchID, winnerID, score)
		if err != nil {
			return err
		}
		if t.Finished() && !plan.Noop() {
			return &brackets.ValidationError{
				MatchID:  matchID,
				Reason:   "tournament is finished",
				Expected: "no champion",
				Actual:   fmt.Sprintf("champion entrant:%d", *t.ChampionEntrantID),
			}
		}
		if err := s.applyPlan(ctx, tx, b, plan); err != nil {
			return err
		}

		m, _ := b.Match(matchID)
		result = &CompletionResult{Match: m.Clone(), Replayed: !plan.Completes}
		if plan.Advance != nil {
			target, _ := b.Match(plan.Advance.MatchID)
			result.AdvancedTo = target.Clone()
		}
		championSet, err = s.recordChampion(ctx, tx, t, b)
		if err != nil {
			return err
		}
		result.ChampionID = t.ChampionEntrantID
		return nil
	})
	if err != nil {
		if errors.Is(err, brackets.ErrAdvancementConflict) {
			s.metrics.Conflict()
			s.logger.WarnContext(ctx, "advancement conflict",
				slog.Int("tournament_id", tournamentID),
				slog.Int("match_id", matchID),
				slog.Any("error", err),
			)
		}
		return nil, txError("complete match", err)
	}

	switch {
	case plan.Completes:
		s.metrics.MatchCompleted(plan.Advance != nil)
	case plan.Advance != nil:
		s.metrics.Advanced()
	}
	if !plan.Noop() {
		s.invalidate(ctx, tournamentID)
	}
	s.logger.InfoContext(ctx, "match completed",
		slog.Int("tournament_id", tournamentID),
		slog.Int("match_id", matchID),
		slog.Int("winner_id", winnerID),
		slog.Bool("replayed", result.Replayed),
		slog.Bool("advanced", plan.Advance != nil),
	)
	if championSet {
		s.finishTournament(ctx, tournamentID, *result.ChampionID)
	}
	return result, nil
}

// Reconcile repairs lost advancements, materializes the next round once the
// current one is complete and records the champion. Running it again without
// new results changes nothing. Conflicting slots are reported, never
// overwritten; the returned error then joins them.
func (s *bracketService) Reconcile(ctx context.Context, tournamentID int) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := s.store.InTx(ctx, func(tx repositories.Store) error {
		report = &ReconcileReport{TournamentID: tournamentID}
		t, b, err := s.loadBracket(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if err := s.repair(ctx, tx, b, report); err != nil {
			return err
		}
		report.Violations = errorMessages(brackets.ValidateBracket(b))
		if err := s.materializeNextRound(ctx, tx, t, b, report); err != nil {
			return err
		}
		report.championRecorded, err = s.recordChampion(ctx, tx, t, b)
		if err != nil {
			return err
		}
		report.ChampionID = t.ChampionEntrantID
		return nil
	})
	if err != nil {
		return nil, txError("reconcile", err)
	}

	for range report.Repaired {
		s.metrics.Advanced()
	}
	for range report.Conflicts {
		s.metrics.Conflict()
	}
	if report.RoundCreated > 0 {
		s.metrics.RoundMaterialized()
	}
	if report.Changed() {
		s.invalidate(ctx, tournamentID)
		s.logger.InfoContext(ctx, "tournament reconciled",
			slog.Int("tournament_id", tournamentID),
			slog.Int("repaired", len(report.Repaired)),
			slog.Int("round_created", report.RoundCreated),
		)
	}
	if len(report.Violations) > 0 {
		s.logger.WarnContext(ctx, "bracket invariants violated",
			slog.Int("tournament_id", tournamentID),
			slog.Any("violations", report.Violations),
		)
	}
	if report.championRecorded {
		s.finishTournament(ctx, tournamentID, *report.ChampionID)
	}

	if len(report.Conflicts) > 0 {
		errs := make([]error, 0, len(report.Conflicts))
		for _, c := range report.Conflicts {
			errs = append(errs, c)
		}
		s.logger.WarnContext(ctx, "advancement conflicts need manual reconciliation",
			slog.Int("tournament_id", tournamentID),
			slog.Int("conflicts", len(report.Conflicts)),
		)
		return report, errors.Join(errs...)
	}
	return report, nil
}

// ReconcileAll reconciles every tournament with a built bracket and no
// champion. A failing tournament does not stop the others.
func (s *bracketService) ReconcileAll(ctx context.Context) ([]*ReconcileReport, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveReconcile(time.Since(start)) }()

	tournaments, err := s.store.Tournaments().ListInProgress(ctx)
	if err != nil {
		return nil, handleRepositoryError("list tournaments in progress", err)
	}

	reports := make([]*ReconcileReport, len(tournaments))
	errs := make([]error, len(tournaments))
	var g errgroup.Group
	g.SetLimit(reconcileConcurrency)
	for i, t := range tournaments {
		g.Go(func() error {
			report, err := s.Reconcile(ctx, t.ID)
			reports[i] = report
			if err != nil {
				s.metrics.ReconcilePass("error")
				errs[i] = fmt.Errorf("tournament %d: %w", t.ID, err)
				return nil
			}
			s.metrics.ReconcilePass("ok")
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*ReconcileReport, 0, len(reports))
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// GetBracket serves the bracket view from the cache when possible.
func (s *bracketService) GetBracket(ctx context.Context, tournamentID int) (*BracketView, error) {
	payload, ok, err := s.cache.Get(ctx, tournamentID)
	if err != nil {
		s.logger.WarnContext(ctx, "bracket cache read failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	} else if ok {
		var view BracketView
		if err := json.Unmarshal(payload, &view); err == nil {
			return &view, nil
		}
		s.logger.WarnContext(ctx, "dropping undecodable cached bracket", slog.Int("tournament_id", tournamentID))
	}

	view, err := s.loadView(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, tournamentID, payload); err != nil {
			s.logger.WarnContext(ctx, "bracket cache write failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		}
	}
	return view, nil
}

// loadView reads tournament, registrations and matches in parallel.
func (s *bracketService) loadView(ctx context.Context, tournamentID int) (*BracketView, error) {
	var (
		tournament *models.Tournament
		regs       []*models.Registration
		matches    []*models.Match
	)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := s.store.Tournaments().GetByID(gCtx, tournamentID)
		if err != nil {
			return handleRepositoryError("get tournament", err)
		}
		tournament = t
		return nil
	})
	g.Go(func() error {
		r, err := s.store.Registrations().ListByTournament(gCtx, tournamentID)
		if err != nil {
			return handleRepositoryError("list registrations", err)
		}
		regs = r
		return nil
	})
	g.Go(func() error {
		m, err := s.store.Matches().ListByTournament(gCtx, tournamentID)
		if err != nil {
			return handleRepositoryError("list matches", err)
		}
		matches = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !tournament.BracketBuilt() {
		return nil, ErrBracketNotBuilt
	}
	return buildBracketView(tournament, regs, matches), nil
}

func (s *bracketService) loadBracket(ctx context.Context, tx repositories.Store, tournamentID int) (*models.Tournament, *brackets.Bracket, error) {
	t, err := tx.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, nil, handleRepositoryError("get tournament", err)
	}
	if !t.BracketBuilt() {
		return nil, nil, ErrBracketNotBuilt
	}
	matches, err := tx.Matches().ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, nil, handleRepositoryError("list matches", err)
	}
	b, err := brackets.NewBracket(t.Capacity, matches)
	if err != nil {
		return nil, nil, err
	}
	return t, b, nil
}

// applyPlan writes the plan's patches in order, then mirrors them on b.
func (s *bracketService) applyPlan(ctx context.Context, tx repositories.Store, b *brackets.Bracket, plan brackets.Plan) error {
	for _, p := range plan.Patches() {
		if err := tx.Matches().Update(ctx, p.MatchID, p.Patch); err != nil {
			return handleRepositoryError(fmt.Sprintf("update match %d", p.MatchID), err)
		}
	}
	if err := b.Apply(plan); err != nil {
		return brackets.NewPersistenceError("apply plan", err)
	}
	return nil
}

func (s *bracketService) repair(ctx context.Context, tx repositories.Store, b *brackets.Bracket, report *ReconcileReport) error {
	report.Conflicts = brackets.AdvancementConflicts(b)

	for _, m := range brackets.PendingAdvancements(b) {
		plan, err := brackets.CompleteMatch(b, m.ID, *m.WinnerID, nil)
		if err != nil {
			return err
		}
		if plan.Advance == nil {
			continue
		}
		err = s.applyPlan(ctx, tx, b, plan)
		if errors.Is(err, ErrConcurrentUpdate) {
			s.logger.DebugContext(ctx, "advancement repaired concurrently", slog.Int("match_id", m.ID))
			continue
		}
		if err != nil {
			return err
		}
		report.Repaired = append(report.Repaired, m.ID)
	}
	return nil
}

// materializeNextRound creates round r+1 when round r is the last one and is
// fully completed. The insert is conditional on the round being absent.
func (s *bracketService) materializeNextRound(ctx context.Context, tx repositories.Store, t *models.Tournament, b *brackets.Bracket, report *ReconcileReport) error {
	last := b.LastRound()
	if last >= b.TotalRounds || !b.RoundComplete(last) {
		return nil
	}
	next := last + 1
	round, links, err := brackets.BuildRound(b.Capacity, next, b.Round(last))
	if err != nil {
		return err
	}
	for _, m := range round {
		m.TournamentID = t.ID
	}
	roundLinks := make([]repositories.RoundLink, 0, len(links))
	for _, l := range links {
		roundLinks = append(roundLinks, repositories.RoundLink{
			SourceMatchID: l.SourceMatchID,
			TargetMatchID: l.TargetMatchID,
			Position:      l.Position,
		})
	}

	inserted, err := tx.Matches().InsertRoundIfAbsent(ctx, t.ID, next, round, roundLinks)
	if err != nil {
		return handleRepositoryError(fmt.Sprintf("insert round %d", next), err)
	}
	if inserted {
		report.RoundCreated = next
	}
	return nil
}

// recordChampion sets the champion once the final is completed. It reports
// whether this call recorded it.
func (s *bracketService) recordChampion(ctx context.Context, tx repositories.Store, t *models.Tournament, b *brackets.Bracket) (bool, error) {
	champion := b.Champion()
	if champion == nil || t.ChampionEntrantID != nil {
		return false, nil
	}
	set, err := tx.Tournaments().SetChampion(ctx, t.ID, *champion)
	if err != nil {
		return false, handleRepositoryError("set champion", err)
	}
	if set {
		t.ChampionEntrantID = champion
	}
	return set, nil
}

// finishTournament archives the final bracket. The champion is already
// committed, so archive failures are logged only.
func (s *bracketService) finishTournament(ctx context.Context, tournamentID, championID int) {
	s.metrics.ChampionRecorded()
	s.logger.InfoContext(ctx, "champion recorded",
		slog.Int("tournament_id", tournamentID),
		slog.Int("champion_id", championID),
	)

	view, err := s.loadView(ctx, tournamentID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load bracket for archiving", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	uploaded, err := s.archive.Store(ctx, tournamentID, view)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to archive bracket", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	if uploaded != nil {
		s.logger.InfoContext(ctx, "bracket archived",
			slog.Int("tournament_id", tournamentID),
			slog.String("location", uploaded.Location),
		)
	}
}

func (s *bracketService) invalidate(ctx context.Context, tournamentID int) {
	if err := s.cache.Invalidate(ctx, tournamentID); err != nil {
		s.logger.WarnContext(ctx, "bracket cache invalidation failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}
