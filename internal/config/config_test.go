package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReconcileConfig(t *testing.T) {
	cfg := DefaultReconcileConfig()

	assert.Equal(t, 0.9, cfg.AutoLinkConfidenceThreshold)
	assert.Equal(t, 100.0, cfg.GPSProximityMeters)
	assert.Equal(t, 200.0, cfg.LocationMismatchMeters)
	assert.Equal(t, 0.8, cfg.AgentNameSimilarityThreshold)
	assert.Equal(t, 1000, cfg.MaxRecordsPerRun)
	assert.True(t, cfg.EnableAutoLinking)
	assert.True(t, cfg.NotifyOnConflicts)
	assert.Equal(t, 0.3, cfg.ConflictEscalationThreshold)
	assert.Equal(t, 4, cfg.ScoreWorkers)
}

func TestDefaultReconcileConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultReconcileConfig().Validate())
}

func TestReconcileConfig_Validate_ThresholdRange(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.AutoLinkConfidenceThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_link_confidence_threshold")
}

func TestReconcileConfig_Validate_RadiiOrdering(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.GPSProximityMeters = 500
	cfg.LocationMismatchMeters = 200

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location_mismatch_meters")
}

func TestReconcileConfig_Validate_BatchSize(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.MaxRecordsPerRun = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_records_per_run")
}

func TestReconcileConfig_Validate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.AutoLinkConfidenceThreshold = -1
	cfg.ScoreWorkers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_link_confidence_threshold")
	assert.Contains(t, err.Error(), "score_workers")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Reconcile.AutoLinkConfidenceThreshold)
	assert.True(t, cfg.Reconcile.EnableAutoLinking)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POLELINK_STORE_DRIVER", "sqlite")
	t.Setenv("POLELINK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRunOptions_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"auto_link_confidence_threshold: 0.95\nmax_records_per_run: 50\n"), 0o644))

	base := DefaultReconcileConfig()
	got, err := LoadRunOptions(path, base)
	require.NoError(t, err)

	assert.Equal(t, 0.95, got.AutoLinkConfidenceThreshold)
	assert.Equal(t, 50, got.MaxRecordsPerRun)
	// Untouched fields keep base values.
	assert.Equal(t, base.GPSProximityMeters, got.GPSProximityMeters)
	assert.Equal(t, base.EnableAutoLinking, got.EnableAutoLinking)
}

func TestLoadRunOptions_MissingFile(t *testing.T) {
	base := DefaultReconcileConfig()
	got, err := LoadRunOptions(filepath.Join(t.TempDir(), "nope.yaml"), base)

	require.Error(t, err)
	assert.Equal(t, base, got)
}

func TestInitLogger_RejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "chatty", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_ConsoleFormat(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
