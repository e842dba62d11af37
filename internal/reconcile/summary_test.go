package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityfibre/polelink/internal/model"
)

func TestSummary_EmptyStore(t *testing.T) {
	st := newTestStore(t)

	s, err := Summary(context.Background(), st)

	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalPermissions)
	assert.Equal(t, 0, s.LinkedCount)
	assert.Equal(t, 0.0, s.LinkingRate)
	assert.Nil(t, s.LastReconciledAt)
	assert.Nil(t, s.NextRunAt)
}

func TestSummary_CountsByLinkStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, id := range []string{"perm-1", "perm-2", "perm-3", "perm-4"} {
		require.NoError(t, st.UpsertPermission(ctx, approvedPermission(id)))
	}

	for i, status := range []model.LinkingStatus{
		model.LinkingStatusLinked,
		model.LinkingStatusLinked,
		model.LinkingStatusConflict,
	} {
		link := model.Link{
			PermissionID: []string{"perm-1", "perm-2", "perm-3"}[i],
			AssignmentID: "asgn-x",
			PoleNumber:   "LAW.P.B00" + string(rune('1'+i)),
			Status:       status,
			LinkedAt:     time.Now(),
		}
		_, err := st.CreateLink(ctx, link)
		require.NoError(t, err)
	}

	s, err := Summary(ctx, st)

	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalPermissions)
	assert.Equal(t, 2, s.LinkedCount)
	assert.Equal(t, 1, s.ConflictCount)
	assert.Equal(t, 0, s.DuplicateCount)
	assert.Equal(t, 1, s.PendingCount)
	assert.InDelta(t, 50.0, s.LinkingRate, 1e-9)
	assert.InDelta(t, 25.0, s.ConflictRate, 1e-9)
}

func TestSummary_ReportsScheduleFromLastRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	processed := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	_, err := st.SaveReport(ctx, model.ReconciliationReport{
		ProcessedAt: processed,
		Status:      model.RunStatusComplete,
		CreatedAt:   processed,
	})
	require.NoError(t, err)

	s, err := Summary(ctx, st)

	require.NoError(t, err)
	require.NotNil(t, s.LastReconciledAt)
	require.NotNil(t, s.NextRunAt)
	assert.True(t, s.LastReconciledAt.Equal(processed))
	assert.True(t, s.NextRunAt.Equal(processed.Add(24*time.Hour)))
}
