// Package match scores permission/assignment pairs with additive
// multi-factor confidence: identifier equality, GPS proximity, and
// edit-distance name/address similarity.
package match

import (
	"fmt"
	"math"
	"sort"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/geo"
	"github.com/velocityfibre/polelink/internal/model"
)

// Factor weights. Raw sums can reach 1.5; Score clamps to [0,1].
const (
	weightPropertyID = 0.5
	weightSurveyID   = 0.4
	weightGPS        = 0.3
	weightAgentName  = 0.2
	weightAddress    = 0.1

	// retentionFloor discards candidates whose accumulated confidence is
	// too weak to be worth a resolver decision.
	retentionFloor = 0.3

	// addressSimilarityFloor gates the address factor.
	addressSimilarityFloor = 0.8

	// agentConflictCeiling is the similarity below which disagreeing agent
	// names are noted as a potential conflict.
	agentConflictCeiling = 0.5
)

// Scorer computes match candidates for one permission against a working set
// of assignments. Pure: no I/O, deterministic output order.
type Scorer struct {
	cfg config.ReconcileConfig
}

// NewScorer creates a Scorer with the given tunables.
func NewScorer(cfg config.ReconcileConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates a single permission/assignment pair. The returned
// candidate may fall below the retention floor; Candidates filters those.
func (s *Scorer) Score(perm model.PermissionRecord, asgn model.AssignmentRecord) model.MatchCandidate {
	c := model.MatchCandidate{AssignmentID: asgn.ID}
	var raw float64

	// Property id exact match (strongest single factor).
	if !strEmpty(perm.PropertyID) && !strEmpty(asgn.PropertyID) && *perm.PropertyID == *asgn.PropertyID {
		raw += weightPropertyID
		c.MatchReasons = append(c.MatchReasons, model.ReasonPropertyIDMatch)
	}

	// Survey-tool id exact match.
	if !strEmpty(perm.SurveyID) && !strEmpty(asgn.SurveyID) && *perm.SurveyID == *asgn.SurveyID {
		raw += weightSurveyID
		c.MatchReasons = append(c.MatchReasons, model.ReasonSurveyIDMatch)
	}

	// GPS proximity; far-apart points are a conflict note, not a score hit.
	if perm.GPS != nil && asgn.PlannedGPS != nil {
		dist := geo.DistanceMeters(*perm.GPS, *asgn.PlannedGPS)
		switch {
		case dist <= s.cfg.GPSProximityMeters:
			raw += weightGPS
			c.MatchReasons = append(c.MatchReasons, model.ReasonGPSProximity)
		case dist > s.cfg.LocationMismatchMeters:
			c.PotentialConflicts = append(c.PotentialConflicts,
				fmt.Sprintf("GPS distance: %dm", int(math.Round(dist))))
		}
	}

	// Agent name similarity.
	if perm.FieldAgent != "" && !strEmpty(asgn.FieldAgent) {
		sim := Similarity(perm.FieldAgent, *asgn.FieldAgent)
		switch {
		case sim >= s.cfg.AgentNameSimilarityThreshold:
			raw += weightAgentName
			c.MatchReasons = append(c.MatchReasons, model.ReasonAgentNameSimilar)
		case sim < agentConflictCeiling:
			c.PotentialConflicts = append(c.PotentialConflicts,
				fmt.Sprintf("Agent mismatch: %s vs %s", perm.FieldAgent, *asgn.FieldAgent))
		}
	}

	// Address similarity (normalized, suffix-stripped).
	if perm.Address != "" && !strEmpty(asgn.Address) {
		if AddressSimilarity(perm.Address, *asgn.Address) > addressSimilarityFloor {
			raw += weightAddress
			c.MatchReasons = append(c.MatchReasons, model.ReasonAddressSimilar)
		}
	}

	c.Confidence = clamp01(raw)
	return c
}

// Candidates scores the permission against every assignment in the working
// set, drops candidates at or below the retention floor, and returns the
// rest sorted by confidence descending with assignment-id tie-break.
func (s *Scorer) Candidates(perm model.PermissionRecord, assignments []model.AssignmentRecord) []model.MatchCandidate {
	var out []model.MatchCandidate
	for _, asgn := range assignments {
		c := s.Score(perm, asgn)
		if c.Confidence > retentionFloor {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func strEmpty(s *string) bool { return s == nil || *s == "" }
