package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityfibre/polelink/internal/model"
)

func strp(s string) *string { return &s }

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "polelink.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func samplePermission(id string, modified time.Time) model.PermissionRecord {
	return model.PermissionRecord{
		ID:           id,
		PropertyID:   strp("PROP-" + id),
		SurveyID:     strp("NAD-" + id),
		Address:      "123 Main Street",
		GPS:          &model.LatLng{Lat: -33.9249, Lng: 18.4241},
		FieldAgent:   "John Smith",
		Status:       model.ApprovedPermissionStatus,
		LastModified: modified,
	}
}

func sampleAssignment(id string, imported time.Time) model.AssignmentRecord {
	return model.AssignmentRecord{
		ID:         id,
		PropertyID: strp("PROP-" + id),
		PoleNumber: "LAW.P." + id,
		PlannedGPS: &model.LatLng{Lat: -33.9249, Lng: 18.4241},
		FieldAgent: strp("John Smith"),
		ImportedAt: imported,
	}
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_PermissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	perm := samplePermission("perm-1", time.Now().UTC())
	require.NoError(t, st.UpsertPermission(ctx, perm))

	got, err := st.GetPermission(ctx, "perm-1")
	require.NoError(t, err)
	assert.Equal(t, perm.ID, got.ID)
	require.NotNil(t, got.PropertyID)
	assert.Equal(t, "PROP-perm-1", *got.PropertyID)
	require.NotNil(t, got.GPS)
	assert.Equal(t, perm.GPS.Lat, got.GPS.Lat)
	assert.Equal(t, perm.Status, got.Status)
}

func TestSQLite_UpsertPermissionOverwrites(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	perm := samplePermission("perm-1", time.Now().UTC())
	require.NoError(t, st.UpsertPermission(ctx, perm))

	perm.FieldAgent = "Jane Doe"
	require.NoError(t, st.UpsertPermission(ctx, perm))

	got, err := st.GetPermission(ctx, "perm-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.FieldAgent)
}

func TestSQLite_GetPermission_NotFound(t *testing.T) {
	st := newSQLiteStore(t)

	_, err := st.GetPermission(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_GetAssignment_NotFound(t *testing.T) {
	st := newSQLiteStore(t)

	_, err := st.GetAssignment(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListApprovedUnlinked_FiltersStatus(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	approved := samplePermission("perm-approved", time.Now().UTC())
	pending := samplePermission("perm-pending", time.Now().UTC())
	pending.Status = "Pole Permission: Pending"
	require.NoError(t, st.UpsertPermission(ctx, approved))
	require.NoError(t, st.UpsertPermission(ctx, pending))

	out, err := st.ListApprovedUnlinkedPermissions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "perm-approved", out[0].ID)
}

func TestSQLite_ListApprovedUnlinked_ExcludesLinked(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	require.NoError(t, st.UpsertPermission(ctx, samplePermission("perm-1", time.Now().UTC())))
	require.NoError(t, st.UpsertPermission(ctx, samplePermission("perm-2", time.Now().UTC())))

	_, err := st.CreateLink(ctx, model.Link{
		PermissionID: "perm-1",
		AssignmentID: "asgn-1",
		PoleNumber:   "LAW.P.B001",
		Status:       model.LinkingStatusLinked,
		LinkedAt:     time.Now(),
	})
	require.NoError(t, err)

	out, err := st.ListApprovedUnlinkedPermissions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "perm-2", out[0].ID)
}

func TestSQLite_ListApprovedUnlinked_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	base := time.Now().UTC()
	for _, id := range []string{"perm-1", "perm-2", "perm-3"} {
		require.NoError(t, st.UpsertPermission(ctx, samplePermission(id, base)))
		base = base.Add(time.Minute)
	}

	out, err := st.ListApprovedUnlinkedPermissions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSQLite_ListRecentAssignments_WindowAndOrder(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	now := time.Now().UTC()
	require.NoError(t, st.UpsertAssignment(ctx, sampleAssignment("old", now.Add(-45*24*time.Hour))))
	require.NoError(t, st.UpsertAssignment(ctx, sampleAssignment("mid", now.Add(-10*24*time.Hour))))
	require.NoError(t, st.UpsertAssignment(ctx, sampleAssignment("new", now.Add(-time.Hour))))

	out, err := st.ListRecentAssignments(ctx, now.Add(-30*24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// Newest first.
	assert.Equal(t, "new", out[0].ID)
	assert.Equal(t, "mid", out[1].ID)
}

func TestSQLite_ListRecentAssignments_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.UpsertAssignment(ctx, sampleAssignment(id, now.Add(-time.Duration(i)*time.Hour))))
	}

	out, err := st.ListRecentAssignments(ctx, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestSQLite_CountApprovedPermissions(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	require.NoError(t, st.UpsertPermission(ctx, samplePermission("perm-1", time.Now().UTC())))
	pending := samplePermission("perm-2", time.Now().UTC())
	pending.Status = "Pole Permission: Pending"
	require.NoError(t, st.UpsertPermission(ctx, pending))

	n, err := st.CountApprovedPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_IsPermissionLinked(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	linked, err := st.IsPermissionLinked(ctx, "perm-1")
	require.NoError(t, err)
	assert.False(t, linked)

	_, err = st.CreateLink(ctx, model.Link{
		PermissionID: "perm-1",
		AssignmentID: "asgn-1",
		PoleNumber:   "LAW.P.B001",
		Status:       model.LinkingStatusLinked,
		LinkedAt:     time.Now(),
	})
	require.NoError(t, err)

	linked, err = st.IsPermissionLinked(ctx, "perm-1")
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestSQLite_CreateLink_AssignsID(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	id, err := st.CreateLink(ctx, model.Link{
		PermissionID: "perm-1",
		AssignmentID: "asgn-1",
		PoleNumber:   "LAW.P.B001",
		Status:       model.LinkingStatusLinked,
		LinkedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	links, err := st.ListAllLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, id, links[0].ID)
}

func TestSQLite_LinkRoundTripPreservesSnapshots(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	dist := 350.0
	link := model.Link{
		PermissionID: "perm-1",
		AssignmentID: "asgn-1",
		PoleNumber:   "LAW.P.B001",
		PermissionLocation: model.LocationSnapshot{
			Address: "123 Main Street",
			GPS:     &model.LatLng{Lat: -33.9249, Lng: 18.4241},
		},
		PermissionAgent: model.AgentSnapshot{Name: "John Smith"},
		AssignmentAgent: model.AgentSnapshot{Name: "Piet Venter"},
		Status:          model.LinkingStatusConflict,
		Method:          model.LinkingMethodAuto,
		Conflicts: &model.ConflictDetails{
			AgentNameMismatch: true,
			LocationMismatch:  true,
			DistanceMeters:    &dist,
			SuggestedAction:   model.ActionReviewManually,
			Confidence:        0.3,
		},
		LinkedAt: time.Now().UTC(),
	}
	_, err := st.CreateLink(ctx, link)
	require.NoError(t, err)

	links, err := st.ListAllLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.NotNil(t, links[0].Conflicts)
	assert.True(t, links[0].Conflicts.AgentNameMismatch)
	require.NotNil(t, links[0].Conflicts.DistanceMeters)
	assert.Equal(t, 350.0, *links[0].Conflicts.DistanceMeters)
	assert.Equal(t, "John Smith", links[0].PermissionAgent.Name)
}

func TestSQLite_ListPendingConflicts_FiltersResolved(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	pending := model.Conflict{
		PermissionID: "perm-1",
		Type:         model.ConflictMultipleMatches,
		Resolution:   model.Resolution{Status: model.ResolutionPending},
		CreatedAt:    time.Now().UTC(),
	}
	resolved := model.Conflict{
		PermissionID: "perm-2",
		Type:         model.ConflictAgentMismatch,
		Resolution:   model.Resolution{Status: model.ResolutionResolved},
		CreatedAt:    time.Now().UTC(),
	}
	_, err := st.CreateConflict(ctx, pending)
	require.NoError(t, err)
	_, err = st.CreateConflict(ctx, resolved)
	require.NoError(t, err)

	out, err := st.ListPendingConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "perm-1", out[0].PermissionID)
}

func TestSQLite_ListRecentReports_NewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	now := time.Now().UTC()
	for i, status := range []model.RunStatus{model.RunStatusComplete, model.RunStatusFailed} {
		_, err := st.SaveReport(ctx, model.ReconciliationReport{
			ProcessedAt: now.Add(time.Duration(i) * time.Hour),
			Status:      status,
		})
		require.NoError(t, err)
	}

	out, err := st.ListRecentReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, model.RunStatusFailed, out[0].Status)
	assert.Equal(t, model.RunStatusComplete, out[1].Status)
}

func TestSQLite_RunLease_ExclusiveWhileHeld(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	acquired, err := st.TryAcquireRunLease(ctx, "holder-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = st.TryAcquireRunLease(ctx, "holder-2")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestSQLite_RunLease_ReacquireAfterRelease(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	acquired, err := st.TryAcquireRunLease(ctx, "holder-1")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, st.ReleaseRunLease(ctx, "holder-1"))

	acquired, err = st.TryAcquireRunLease(ctx, "holder-2")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSQLite_RunLease_ReleaseByWrongHolderIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)

	acquired, err := st.TryAcquireRunLease(ctx, "holder-1")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, st.ReleaseRunLease(ctx, "someone-else"))

	acquired, err = st.TryAcquireRunLease(ctx, "holder-2")
	require.NoError(t, err)
	assert.False(t, acquired)
}
