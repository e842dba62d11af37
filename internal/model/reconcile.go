// Package model defines the records exchanged between the survey-import
// pipeline, the planning pipeline, and the reconciliation engine.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// LinkingStatus is the lifecycle state of a permission-assignment link.
type LinkingStatus string

const (
	LinkingStatusLinked        LinkingStatus = "linked"
	LinkingStatusConflict      LinkingStatus = "conflict"
	LinkingStatusDuplicatePole LinkingStatus = "duplicate_pole"
)

// LinkingMethod records how a link came to exist.
type LinkingMethod string

const (
	LinkingMethodAuto   LinkingMethod = "auto"
	LinkingMethodManual LinkingMethod = "manual"
)

// ConflictType classifies why a permission could not be auto-linked.
type ConflictType string

const (
	ConflictMultipleMatches         ConflictType = "multiple_matches"
	ConflictAgentMismatch           ConflictType = "agent_mismatch"
	ConflictLocationMismatch        ConflictType = "location_mismatch"
	ConflictDuplicatePoleAssignment ConflictType = "duplicate_pole_assignment"
)

// ResolutionStatus is the manual-review state of a conflict.
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionDismissed ResolutionStatus = "dismissed"
)

// ConflictAction is the suggested next step for a flagged record.
type ConflictAction string

const (
	ActionAutoLink       ConflictAction = "auto_link"
	ActionReviewManually ConflictAction = "review_manually"
)

// MatchReason tags a scoring factor that contributed to a candidate.
type MatchReason string

const (
	ReasonPropertyIDMatch  MatchReason = "PROPERTY_ID_MATCH"
	ReasonSurveyIDMatch    MatchReason = "ONE_MAP_NAD_MATCH"
	ReasonGPSProximity     MatchReason = "GPS_PROXIMITY"
	ReasonAgentNameSimilar MatchReason = "AGENT_NAME_SIMILAR"
	ReasonAddressSimilar   MatchReason = "ADDRESS_SIMILAR"
)

// ApprovedPermissionStatus is the upstream status marker for permissions
// the engine is allowed to reconcile.
const ApprovedPermissionStatus = "Pole Permission: Approved"

// LatLng is a GPS coordinate pair in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PermissionRecord is a field-captured pole-permission approval harvested
// from the survey tool. Immutable once ingested; the engine only reads it.
type PermissionRecord struct {
	ID           string    `json:"id"`
	PropertyID   *string   `json:"property_id,omitempty"`
	SurveyID     *string   `json:"survey_id,omitempty"` // survey-tool NAD identifier
	PoleNumber   *string   `json:"pole_number,omitempty"`
	Address      string    `json:"address"`
	GPS          *LatLng   `json:"gps,omitempty"`
	FieldAgent   string    `json:"field_agent"`
	Status       string    `json:"status"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that the record carries at least one linkable identifier.
// A permission with neither a property id nor a survey id can never clear
// the retention floor on identity factors alone and is rejected up front.
func (p PermissionRecord) Validate() error {
	if p.ID == "" {
		return eris.New("permission: missing id")
	}
	if strPtrEmpty(p.PropertyID) && strPtrEmpty(p.SurveyID) {
		return eris.Errorf("permission %s: no property id or survey id", p.ID)
	}
	return nil
}

func strPtrEmpty(s *string) bool { return s == nil || *s == "" }

// AssignmentRecord is a planned pole produced by the planning pipeline.
// Read-only to the engine.
type AssignmentRecord struct {
	ID           string    `json:"id"`
	PropertyID   *string   `json:"property_id,omitempty"`
	PoleNumber   string    `json:"pole_number"` // client-facing, unique per active assignment
	PlannedGPS   *LatLng   `json:"planned_gps,omitempty"`
	Address      *string   `json:"address,omitempty"`
	ContractorID *string   `json:"contractor_id,omitempty"`
	SurveyID     *string   `json:"survey_id,omitempty"`
	FieldAgent   *string   `json:"field_agent,omitempty"`
	ImportedAt   time.Time `json:"imported_at"`
}

// MatchCandidate is the scored pairing of one permission against one
// assignment. Ephemeral: computed per run, never persisted.
type MatchCandidate struct {
	AssignmentID       string        `json:"assignment_id"`
	Confidence         float64       `json:"confidence"`
	MatchReasons       []MatchReason `json:"match_reasons"`
	PotentialConflicts []string      `json:"potential_conflicts,omitempty"`
}

// LocationSnapshot denormalizes one side's location onto a Link.
type LocationSnapshot struct {
	Address string  `json:"address"`
	GPS     *LatLng `json:"gps,omitempty"`
}

// AgentSnapshot denormalizes one side's field-agent identity onto a Link.
type AgentSnapshot struct {
	Name         string  `json:"name"`
	ContractorID *string `json:"contractor_id,omitempty"`
}

// ConflictDetails captures the mismatch analysis attached to a Conflict or
// to a Link that failed the post-link re-check.
type ConflictDetails struct {
	AgentNameMismatch       bool           `json:"agent_name_mismatch"`
	LocationMismatch        bool           `json:"location_mismatch"`
	DuplicatePoleAssignment bool           `json:"duplicate_pole_assignment"`
	DistanceMeters          *float64       `json:"distance_meters,omitempty"`
	PermissionAgentName     string         `json:"permission_agent_name,omitempty"`
	AssignmentAgentName     string         `json:"assignment_agent_name,omitempty"`
	PermissionAddress       string         `json:"permission_address,omitempty"`
	AssignmentAddress       string         `json:"assignment_address,omitempty"`
	SuggestedAction         ConflictAction `json:"suggested_action"`
	Confidence              float64        `json:"confidence"`
}

// Link is the durable outcome of a successful match.
type Link struct {
	ID                 string           `json:"id"`
	PermissionID       string           `json:"permission_id"`
	AssignmentID       string           `json:"assignment_id"`
	PropertyID         *string          `json:"property_id,omitempty"`
	SurveyID           *string          `json:"survey_id,omitempty"`
	PoleNumber         string           `json:"pole_number"`
	PermissionLocation LocationSnapshot `json:"permission_location"`
	AssignmentLocation LocationSnapshot `json:"assignment_location"`
	PermissionAgent    AgentSnapshot    `json:"permission_agent"`
	AssignmentAgent    AgentSnapshot    `json:"assignment_agent"`
	Status             LinkingStatus    `json:"status"`
	Method             LinkingMethod    `json:"method"`
	LinkedBy           string           `json:"linked_by,omitempty"` // operator identity for manual links
	Conflicts          *ConflictDetails `json:"conflicts,omitempty"`
	LinkedAt           time.Time        `json:"linked_at"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Resolution tracks the manual-review lifecycle of a Conflict.
type Resolution struct {
	Status     ResolutionStatus `json:"status"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

// Conflict is persisted when matching is ambiguous or below threshold.
type Conflict struct {
	ID           string          `json:"id"`
	PermissionID string          `json:"permission_id"`
	LinkID       string          `json:"link_id,omitempty"` // set if a link was created despite the conflict
	Type         ConflictType    `json:"type"`
	Details      ConflictDetails `json:"details"`
	Resolution   Resolution      `json:"resolution"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RunStatus is the terminal state of a reconciliation run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ReportDetails lists the ids touched by one run.
type ReportDetails struct {
	AutoLinked     []string `json:"auto_linked"`
	ConflictsFound []string `json:"conflicts_found"`
	DuplicatePoles []string `json:"duplicate_poles"`
	SkippedInvalid int      `json:"skipped_invalid,omitempty"`
}

// ReconciliationReport is the append-only audit artifact for one run.
type ReconciliationReport struct {
	ID                   string        `json:"id"`
	ProcessedAt          time.Time     `json:"processed_at"`
	Status               RunStatus     `json:"status"`
	PermissionsProcessed int           `json:"permissions_processed"`
	NewLinks             int           `json:"new_links"`
	Conflicts            int           `json:"conflicts"`
	Duplicates           int           `json:"duplicates"`
	ProcessingTimeMs     int64         `json:"processing_time_ms"`
	Details              ReportDetails `json:"details"`
	Error                string        `json:"error,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
}

// LinkingStatusSummary is the dashboard aggregate over links and permissions.
type LinkingStatusSummary struct {
	TotalPermissions int        `json:"total_permissions"`
	LinkedCount      int        `json:"linked_count"`
	ConflictCount    int        `json:"conflict_count"`
	DuplicateCount   int        `json:"duplicate_count"`
	PendingCount     int        `json:"pending_count"`
	LinkingRate      float64    `json:"linking_rate"`  // percent of total permissions
	ConflictRate     float64    `json:"conflict_rate"` // percent of total permissions
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
}

// ManualLinkRequest asks the engine to link a specific pair on an
// operator's authority.
type ManualLinkRequest struct {
	PermissionID string `json:"permission_id"`
	AssignmentID string `json:"assignment_id"`
	LinkedBy     string `json:"linked_by"`
	Notes        string `json:"notes,omitempty"`
}

// Validate checks the request is complete.
func (r ManualLinkRequest) Validate() error {
	switch {
	case r.PermissionID == "":
		return eris.New("manual link: missing permission id")
	case r.AssignmentID == "":
		return eris.New("manual link: missing assignment id")
	case r.LinkedBy == "":
		return eris.New("manual link: missing operator identity")
	}
	return nil
}
