package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/match"
	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/store"
)

// ErrRunInProgress is returned when a reconciliation run is already active,
// either in this process or (via the store lease) in another instance.
var ErrRunInProgress = eris.New("reconcile: run already in progress")

// ErrNotImplemented marks contract surfaces that are defined but not built.
var ErrNotImplemented = eris.New("reconcile: not implemented")

const (
	// assignmentWindow bounds the assignment working set to recent imports.
	assignmentWindow = 30 * 24 * time.Hour

	// assignmentFetchCap caps the working set regardless of window size.
	assignmentFetchCap = 2000
)

// Engine drives one end-to-end reconciliation run.
type Engine struct {
	store store.Store
	cfg   config.ReconcileConfig

	mu sync.Mutex // serializes runs within this process
}

// NewEngine creates an Engine with the given store and tunables.
func NewEngine(st store.Store, cfg config.ReconcileConfig) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// scored pairs one permission with its computed candidate list.
type scored struct {
	perm       model.PermissionRecord
	candidates []model.MatchCandidate
}

// Run executes one reconciliation pass: fetch unlinked permissions, fetch
// the recent-assignment working set, score and resolve each permission,
// detect duplicate poles, and persist a report.
//
// Scoring is fanned out across a bounded worker pool (the scorer is pure);
// resolution and its store writes stay sequential. On failure, records
// written before the abort remain persisted and a failed report is saved
// best-effort before the error propagates.
func (e *Engine) Run(ctx context.Context) (*model.ReconciliationReport, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.mu.Unlock()

	holder := uuid.NewString()
	acquired, err := e.store.TryAcquireRunLease(ctx, holder)
	if err != nil {
		return nil, eris.Wrap(err, "engine: acquire run lease")
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if relErr := e.store.ReleaseRunLease(context.WithoutCancel(ctx), holder); relErr != nil {
			zap.L().Warn("engine: release run lease", zap.Error(relErr))
		}
	}()

	log := zap.L().With(zap.String("component", "reconcile_engine"))
	start := time.Now()

	report := &model.ReconciliationReport{
		ProcessedAt: start.UTC(),
		Status:      model.RunStatusComplete,
		Details: model.ReportDetails{
			AutoLinked:     []string{},
			ConflictsFound: []string{},
			DuplicatePoles: []string{},
		},
		CreatedAt: start.UTC(),
	}

	if err := e.reconcile(ctx, report, log); err != nil {
		report.Status = model.RunStatusFailed
		report.Error = err.Error()
		report.ProcessingTimeMs = time.Since(start).Milliseconds()
		// Best-effort: the failed run should still be visible in the audit
		// trail even though the batch aborted.
		if _, saveErr := e.store.SaveReport(context.WithoutCancel(ctx), *report); saveErr != nil {
			log.Warn("engine: save failed-run report", zap.Error(saveErr))
		}
		return report, err
	}

	report.ProcessingTimeMs = time.Since(start).Milliseconds()
	id, err := e.store.SaveReport(ctx, *report)
	if err != nil {
		return report, eris.Wrap(err, "engine: save report")
	}
	report.ID = id

	log.Info("reconciliation complete",
		zap.Int("permissions_processed", report.PermissionsProcessed),
		zap.Int("new_links", report.NewLinks),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("duplicates", report.Duplicates),
		zap.Int64("processing_time_ms", report.ProcessingTimeMs),
	)
	return report, nil
}

func (e *Engine) reconcile(ctx context.Context, report *model.ReconciliationReport, log *zap.Logger) error {
	// 1. Unlinked approved permissions.
	permissions, err := e.store.ListApprovedUnlinkedPermissions(ctx, e.cfg.MaxRecordsPerRun)
	if err != nil {
		return eris.Wrap(err, "engine: list unlinked permissions")
	}
	log.Info("fetched unlinked permissions", zap.Int("count", len(permissions)))

	// 2. Recent-assignment working set, newest first. A bounded window
	// rather than the whole assignment table.
	since := time.Now().Add(-assignmentWindow)
	assignments, err := e.store.ListRecentAssignments(ctx, since, assignmentFetchCap)
	if err != nil {
		return eris.Wrap(err, "engine: list recent assignments")
	}
	log.Info("fetched assignment working set", zap.Int("count", len(assignments)))

	// Reject records with no linkable identifier up front.
	valid := permissions[:0]
	for _, perm := range permissions {
		if err := perm.Validate(); err != nil {
			log.Warn("skipping invalid permission", zap.String("permission_id", perm.ID), zap.Error(err))
			report.Details.SkippedInvalid++
			continue
		}
		valid = append(valid, perm)
	}

	// 3a. Score in parallel: the scorer is pure and the working set is
	// already in memory, so only the worker count bounds this.
	scorer := match.NewScorer(e.cfg)
	results := make([]scored, len(valid))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ScoreWorkers)
	for i, perm := range valid {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = scored{perm: perm, candidates: scorer.Candidates(perm, assignments)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "engine: score permissions")
	}

	// 3b. Resolve sequentially; each decision is an independent write.
	var limiter *rate.Limiter
	if e.cfg.WritesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.WritesPerSecond), 1)
	}
	resolver := NewResolver(e.store, e.cfg, limiter)

	for _, sc := range results {
		// Abort cleanly between permissions, never mid-decision.
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "engine: canceled")
		}

		outcome, err := resolver.Resolve(ctx, sc.perm, sc.candidates)
		if err != nil {
			return eris.Wrapf(err, "engine: resolve permission %s", sc.perm.ID)
		}

		switch outcome.Action {
		case ActionAutoLinked:
			report.NewLinks++
			report.Details.AutoLinked = append(report.Details.AutoLinked, outcome.LinkID)
		case ActionConflictCreated:
			report.Conflicts++
			report.Details.ConflictsFound = append(report.Details.ConflictsFound, outcome.ConflictID)
		}
		report.PermissionsProcessed++
	}

	// 4. Duplicate poles over the full persisted link set, which now
	// includes this batch's links.
	links, err := e.store.ListAllLinks(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: list links for duplicate detection")
	}
	dups := FindDuplicatePoles(links)
	report.Duplicates = len(dups)
	report.Details.DuplicatePoles = dups

	return nil
}

// ManualLink creates a link on an operator's authority, bypassing scoring.
// The assignment must exist and the permission must not already be linked.
func (e *Engine) ManualLink(ctx context.Context, req model.ManualLinkRequest) (*model.Link, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	perm, err := e.store.GetPermission(ctx, req.PermissionID)
	if err != nil {
		return nil, eris.Wrapf(err, "manual link: permission %s", req.PermissionID)
	}
	asgn, err := e.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "manual link: assignment %s", req.AssignmentID)
	}

	linked, err := e.store.IsPermissionLinked(ctx, req.PermissionID)
	if err != nil {
		return nil, eris.Wrap(err, "manual link: check existing link")
	}
	if linked {
		return nil, eris.Errorf("manual link: permission %s is already linked", req.PermissionID)
	}

	resolver := NewResolver(e.store, e.cfg, nil)
	link := resolver.buildLink(*perm, *asgn, model.LinkingMethodManual, req.LinkedBy)

	// Operators may knowingly link mismatched records; the analysis is
	// still recorded so reviewers can see what was overridden.
	details := resolver.analyzeLink(link)
	if significantConflict(details) {
		link.Conflicts = &details
	}

	id, err := e.store.CreateLink(ctx, link)
	if err != nil {
		return nil, eris.Wrapf(err, "manual link: create link for permission %s", req.PermissionID)
	}
	link.ID = id

	zap.L().Info("manual link created",
		zap.String("permission_id", req.PermissionID),
		zap.String("assignment_id", req.AssignmentID),
		zap.String("linked_by", req.LinkedBy),
	)
	return &link, nil
}

// ResolveConflict is the manual conflict-resolution path. Resolution is
// owned by the review tooling, which does not exist yet.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, resolvedBy string) error {
	return eris.Wrapf(ErrNotImplemented, "resolve conflict %s", conflictID)
}
