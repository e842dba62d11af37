// Package store persists reconciliation records. Permissions and
// assignments are owned by the upstream import pipelines; links, conflicts
// and reports are owned by the reconciliation engine.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/velocityfibre/polelink/internal/model"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the reconciliation engine.
type Store interface {
	// Import-pipeline write boundary (used by ingest tooling and tests).
	UpsertPermission(ctx context.Context, p model.PermissionRecord) error
	UpsertAssignment(ctx context.Context, a model.AssignmentRecord) error

	// Read boundary
	ListApprovedUnlinkedPermissions(ctx context.Context, limit int) ([]model.PermissionRecord, error)
	ListRecentAssignments(ctx context.Context, since time.Time, limit int) ([]model.AssignmentRecord, error)
	GetPermission(ctx context.Context, id string) (*model.PermissionRecord, error)
	GetAssignment(ctx context.Context, id string) (*model.AssignmentRecord, error)
	CountApprovedPermissions(ctx context.Context) (int, error)
	IsPermissionLinked(ctx context.Context, permissionID string) (bool, error)
	ListAllLinks(ctx context.Context) ([]model.Link, error)
	ListPendingConflicts(ctx context.Context, limit int) ([]model.Conflict, error)
	ListRecentReports(ctx context.Context, limit int) ([]model.ReconciliationReport, error)

	// Engine write boundary
	CreateLink(ctx context.Context, link model.Link) (string, error)
	CreateConflict(ctx context.Context, conflict model.Conflict) (string, error)
	SaveReport(ctx context.Context, report model.ReconciliationReport) (string, error)

	// Run lease: serializes reconciliation runs across instances.
	TryAcquireRunLease(ctx context.Context, holder string) (bool, error)
	ReleaseRunLease(ctx context.Context, holder string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// leaseTTL is how long a run lease is honored before it is considered
// abandoned by a crashed run.
const leaseTTL = time.Hour
