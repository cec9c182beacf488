package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "ENVIRONMENT", "STORE_DRIVER", "DATABASE_URL", "MONGO_URI", "JWT_SECRET",
	"GRIEVANCES_PER_24H", "GROUPING_RADIUS_METERS", "GROUPING_LOOKBACK_DAYS",
	"QUICK_CHECK_LOOKBACK_HOURS", "OLD_PHOTO_DAYS", "WORKER_ATTEMPTS", "WORKER_BACKOFF",
	"WORKER_ENABLED", "RECONCILE_INTERVAL", "PUBLIC_BASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
}

// clearEnv blanks every key Load reads so host settings do not leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.GrievancesPer24h)
	assert.Equal(t, 100.0, cfg.GroupingRadiusMeters)
	assert.Equal(t, 7*24*time.Hour, cfg.GroupingLookback)
	assert.Equal(t, 72*time.Hour, cfg.QuickCheckLookback)
	assert.Equal(t, 30*24*time.Hour, cfg.OldPhotoAge)
	assert.Equal(t, 3, cfg.WorkerAttempts)
	assert.Equal(t, 2*time.Second, cfg.WorkerBackoff)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 25, cfg.DBMaxConns)
	assert.Equal(t, 5, cfg.DBMinConns)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("GRIEVANCES_PER_24H", "5")
	t.Setenv("GROUPING_RADIUS_METERS", "150.5")
	t.Setenv("WORKER_BACKOFF", "500ms")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("RECONCILE_INTERVAL", "not-a-duration")
	t.Setenv("DB_MAX_CONNS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 5, cfg.GrievancesPer24h)
	assert.Equal(t, 150.5, cfg.GroupingRadiusMeters)
	assert.Equal(t, 500*time.Millisecond, cfg.WorkerBackoff)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.Equal(t, "http://localhost:9090", cfg.PublicBaseURL)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "cassandra")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProductionValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/civic")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadScoring(t *testing.T) {
	s, err := LoadScoring("")
	require.NoError(t, err)
	assert.Empty(t, s.Severity)

	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
severity:
  Flood: 45
  Potholes: 18
relevance_keywords: [pothole, sewage]
`), 0o644))

	s, err = LoadScoring(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pothole", "sewage"}, s.RelevanceKeywords)

	table := s.SeverityTable(scoring.DefaultSeverityTable)
	assert.Equal(t, 45, table[scoring.CategoryFlood])
	assert.Equal(t, 18, table["Potholes"])
	assert.Equal(t, 25, table[scoring.CategoryWaterLeakage])
	assert.Equal(t, 40, scoring.DefaultSeverityTable[scoring.CategoryFlood])
}

func TestLoadScoringErrors(t *testing.T) {
	_, err := LoadScoring(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = parseScoring([]byte("severity:\n  Flood: -1\n"))
	assert.Error(t, err)

	_, err = parseScoring([]byte("severity: [not, a, map]"))
	assert.Error(t, err)
}
