package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/reconcile"
	"github.com/velocityfibre/polelink/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func strp(s string) *string { return &s }

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "polelink.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	engine := reconcile.NewEngine(st, config.DefaultReconcileConfig())
	srv := httptest.NewServer(newRouter(st, engine))
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return srv, st
}

func TestServe_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServe_Summary(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPermission(ctx, model.PermissionRecord{
		ID:           "perm-1",
		PropertyID:   strp("PROP-1"),
		Status:       model.ApprovedPermissionStatus,
		LastModified: time.Now(),
	}))

	resp, err := http.Get(srv.URL + "/api/v1/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s model.LinkingStatusSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, 1, s.TotalPermissions)
	assert.Equal(t, 1, s.PendingCount)
}

func TestServe_ConflictsEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/conflicts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conflicts []model.Conflict
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conflicts))
	assert.Empty(t, conflicts)
}

func TestServe_Reports(t *testing.T) {
	srv, st := newTestServer(t)

	_, err := st.SaveReport(context.Background(), model.ReconciliationReport{
		ProcessedAt: time.Now().UTC(),
		Status:      model.RunStatusComplete,
		NewLinks:    3,
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/reports")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reports []model.ReconciliationReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reports))
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].NewLinks)
}

func TestServe_ManualLink(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPermission(ctx, model.PermissionRecord{
		ID:           "perm-1",
		PropertyID:   strp("PROP-1"),
		Status:       model.ApprovedPermissionStatus,
		LastModified: time.Now(),
	}))
	require.NoError(t, st.UpsertAssignment(ctx, model.AssignmentRecord{
		ID:         "asgn-1",
		PoleNumber: "LAW.P.B001",
		ImportedAt: time.Now(),
	}))

	body := `{"permission_id":"perm-1","assignment_id":"asgn-1","linked_by":"ops@example.com"}`
	resp, err := http.Post(srv.URL+"/api/v1/links", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var link model.Link
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&link))
	assert.Equal(t, model.LinkingMethodManual, link.Method)
	assert.NotEmpty(t, link.ID)
}

func TestServe_ManualLinkUnknownRecordsIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"permission_id":"missing","assignment_id":"missing","linked_by":"ops@example.com"}`
	resp, err := http.Post(srv.URL+"/api/v1/links", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_ManualLinkInvalidBodyIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/links", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_TriggerReconcileAccepted(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/reconcile", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
