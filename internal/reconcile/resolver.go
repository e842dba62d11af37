// Package reconcile links field-captured pole-permission approvals to
// planned pole assignments: scoring, resolution, duplicate detection and
// the run orchestration around them.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/geo"
	"github.com/velocityfibre/polelink/internal/match"
	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/store"
)

// postLinkAgentSimilarityFloor gates the post-link agent re-check: an
// auto-linked pair whose agent names agree less than this is escalated.
const postLinkAgentSimilarityFloor = 0.7

// escalationConfidenceFloor escalates a fresh link whose re-checked
// confidence drops below it.
const escalationConfidenceFloor = 0.5

// Action describes what the resolver did with one permission.
type Action string

const (
	ActionNone            Action = "none"
	ActionAutoLinked      Action = "auto_linked"
	ActionConflictCreated Action = "conflict_created"
)

// Outcome is the result of resolving one permission's candidate list.
type Outcome struct {
	Action     Action
	LinkID     string
	ConflictID string
	LinkStatus model.LinkingStatus
}

// Resolver applies the configured thresholds to a sorted candidate list and
// persists the decision.
type Resolver struct {
	store   store.Store
	cfg     config.ReconcileConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// NewResolver creates a Resolver. The limiter paces store writes; pass nil
// to write unthrottled.
func NewResolver(st store.Store, cfg config.ReconcileConfig, limiter *rate.Limiter) *Resolver {
	return &Resolver{store: st, cfg: cfg, limiter: limiter, now: time.Now}
}

// Resolve decides auto-link, conflict, or nothing for a permission given
// its candidates sorted by confidence descending.
//
// One candidate at or above the auto-link threshold links automatically
// (when enabled). Multiple candidates or a single weak candidate become a
// conflict for manual review. An empty list is a no-op.
func (r *Resolver) Resolve(ctx context.Context, perm model.PermissionRecord, candidates []model.MatchCandidate) (Outcome, error) {
	switch {
	case len(candidates) == 0:
		return Outcome{Action: ActionNone}, nil

	case len(candidates) == 1 && candidates[0].Confidence >= r.cfg.AutoLinkConfidenceThreshold:
		if !r.cfg.EnableAutoLinking {
			return Outcome{Action: ActionNone}, nil
		}
		return r.autoLink(ctx, perm, candidates[0])

	default:
		// Ambiguous (>1) or single below threshold.
		return r.createConflict(ctx, perm, candidates)
	}
}

// autoLink materializes a link for the winning candidate, then re-analyzes
// it for residual agent/location risk. A single strong factor can clear the
// threshold while still disagreeing on agent or location; such links are
// persisted with status conflict rather than silently accepted.
func (r *Resolver) autoLink(ctx context.Context, perm model.PermissionRecord, cand model.MatchCandidate) (Outcome, error) {
	asgn, err := r.store.GetAssignment(ctx, cand.AssignmentID)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "resolver: assignment %s", cand.AssignmentID)
	}

	link := r.buildLink(perm, *asgn, model.LinkingMethodAuto, "")

	details := r.analyzeLink(link)
	if significantConflict(details) {
		link.Status = model.LinkingStatusConflict
		link.Conflicts = &details
	}

	if err := r.waitWrite(ctx); err != nil {
		return Outcome{}, err
	}
	// Store errors propagate; a failed run is re-invoked by the scheduler.
	id, err := r.store.CreateLink(ctx, link)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "resolver: create link for permission %s", perm.ID)
	}

	return Outcome{Action: ActionAutoLinked, LinkID: id, LinkStatus: link.Status}, nil
}

// buildLink denormalizes both records onto a Link snapshot.
func (r *Resolver) buildLink(perm model.PermissionRecord, asgn model.AssignmentRecord, method model.LinkingMethod, linkedBy string) model.Link {
	now := r.now().UTC()

	link := model.Link{
		PermissionID: perm.ID,
		AssignmentID: asgn.ID,
		PropertyID:   perm.PropertyID,
		SurveyID:     perm.SurveyID,
		PoleNumber:   asgn.PoleNumber,
		PermissionLocation: model.LocationSnapshot{
			Address: perm.Address,
			GPS:     perm.GPS,
		},
		AssignmentLocation: model.LocationSnapshot{
			GPS: asgn.PlannedGPS,
		},
		PermissionAgent: model.AgentSnapshot{Name: perm.FieldAgent},
		AssignmentAgent: model.AgentSnapshot{ContractorID: asgn.ContractorID},
		Status:          model.LinkingStatusLinked,
		Method:          method,
		LinkedBy:        linkedBy,
		LinkedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if asgn.Address != nil {
		link.AssignmentLocation.Address = *asgn.Address
	}
	if asgn.FieldAgent != nil {
		link.AssignmentAgent.Name = *asgn.FieldAgent
	}
	return link
}

// analyzeLink re-checks a freshly built link for agent and location
// disagreement independent of the aggregate score.
func (r *Resolver) analyzeLink(link model.Link) model.ConflictDetails {
	details := model.ConflictDetails{
		PermissionAgentName: link.PermissionAgent.Name,
		AssignmentAgentName: link.AssignmentAgent.Name,
		PermissionAddress:   link.PermissionLocation.Address,
		AssignmentAddress:   link.AssignmentLocation.Address,
		SuggestedAction:     model.ActionAutoLink,
		Confidence:          1.0,
	}

	if link.PermissionAgent.Name != link.AssignmentAgent.Name {
		if match.Similarity(link.PermissionAgent.Name, link.AssignmentAgent.Name) < postLinkAgentSimilarityFloor {
			details.AgentNameMismatch = true
			details.SuggestedAction = model.ActionReviewManually
			details.Confidence -= 0.3
		}
	}

	if link.PermissionLocation.GPS != nil && link.AssignmentLocation.GPS != nil {
		dist := geo.DistanceMeters(*link.PermissionLocation.GPS, *link.AssignmentLocation.GPS)
		if dist > r.cfg.LocationMismatchMeters {
			details.LocationMismatch = true
			details.DistanceMeters = &dist
			details.SuggestedAction = model.ActionReviewManually
			details.Confidence -= 0.4
		}
	}

	return details
}

func significantConflict(d model.ConflictDetails) bool {
	return d.AgentNameMismatch ||
		d.LocationMismatch ||
		d.DuplicatePoleAssignment ||
		d.Confidence < escalationConfidenceFloor
}

// createConflict persists a conflict record for manual review.
func (r *Resolver) createConflict(ctx context.Context, perm model.PermissionRecord, candidates []model.MatchCandidate) (Outcome, error) {
	conflictType := model.ConflictAgentMismatch
	if len(candidates) > 1 {
		conflictType = model.ConflictMultipleMatches
	}

	now := r.now().UTC()
	conflict := model.Conflict{
		PermissionID: perm.ID,
		Type:         conflictType,
		Details: model.ConflictDetails{
			AgentNameMismatch:       anyConflictNote(candidates, "Agent mismatch"),
			LocationMismatch:        anyConflictNote(candidates, "GPS distance"),
			DuplicatePoleAssignment: len(candidates) > 1,
			PermissionAgentName:     perm.FieldAgent,
			PermissionAddress:       perm.Address,
			SuggestedAction:         model.ActionReviewManually,
			Confidence:              candidates[0].Confidence,
		},
		Resolution: model.Resolution{Status: model.ResolutionPending},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.waitWrite(ctx); err != nil {
		return Outcome{}, err
	}
	id, err := r.store.CreateConflict(ctx, conflict)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "resolver: create conflict for permission %s", perm.ID)
	}

	return Outcome{Action: ActionConflictCreated, ConflictID: id}, nil
}

func anyConflictNote(candidates []model.MatchCandidate, substr string) bool {
	for _, c := range candidates {
		for _, note := range c.PotentialConflicts {
			if strings.Contains(note, substr) {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) waitWrite(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "resolver: write throttle")
	}
	return nil
}
