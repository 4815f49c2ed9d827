package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

var t0 = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

func fixtures() []models.DetectionResult {
	return []models.DetectionResult{
		{ID: "r3", SignalID: "rpm", DetectionLogicID: "L1", Type: models.AnomalyTypeOutOfRange, Level: models.AnomalyLevelError,
			DetectedAt: t0.Add(2 * time.Minute), Duration: 1500 * time.Millisecond, Confidence: 0.9, SignalValue: 7100,
			IsValidated: true, TriggerCondition: "value > MaxThreshold"},
		{ID: "r1", SignalID: "rpm", DetectionLogicID: "L1", Type: models.AnomalyTypeStuck, Level: models.AnomalyLevelWarning,
			DetectedAt: t0, Duration: 20 * time.Millisecond, Confidence: 0.4, SignalValue: 800, IsFalsePositive: true},
		{ID: "r2", SignalID: "speed", DetectionLogicID: "L2", Type: models.AnomalyTypeRateOfChange, Level: models.AnomalyLevelCritical,
			DetectedAt: t0.Add(time.Minute), Confidence: 0.75, SignalValue: 212, IsResolved: true},
		{ID: "r4", SignalID: "rpm", DetectionLogicID: "L1", Type: models.AnomalyTypeOutOfRange, Level: models.AnomalyLevelFatal,
			DetectedAt: t0.Add(3 * time.Hour), SignalValue: 9000},
	}
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "detections.db"), PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	cached, err := NewLogicCache(openSQLite(t), 8)
	require.NoError(t, err)
	return map[string]Store{
		"memory":        NewMemoryStore(),
		"sqlite":        openSQLite(t),
		"sqlite+cached": cached,
	}
}

func ids(results []models.DetectionResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			n, err := s.ImportDetectionResults(ctx, fixtures())
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			// Re-import is idempotent.
			n, err = s.ImportDetectionResults(ctx, fixtures())
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			all, err := s.QueryDetectionResults(ctx, Query{})
			require.NoError(t, err)
			assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, ids(all))

			bySignal, err := s.QueryDetectionResults(ctx, Query{SignalID: "rpm", From: t0, To: t0.Add(time.Hour)})
			require.NoError(t, err)
			assert.Equal(t, []string{"r1", "r3"}, ids(bySignal))

			excluded, err := s.QueryDetectionResults(ctx, Query{ExcludeSignalID: "rpm"})
			require.NoError(t, err)
			assert.Equal(t, []string{"r2"}, ids(excluded))

			byLogic, err := s.QueryDetectionResults(ctx, Query{DetectionLogicID: "L1", From: t0.Add(time.Minute)})
			require.NoError(t, err)
			assert.Equal(t, []string{"r3", "r4"}, ids(byLogic))

			got := bySignal[1]
			want := fixtures()[0]
			assert.True(t, want.DetectedAt.Equal(got.DetectedAt))
			got.DetectedAt = want.DetectedAt
			assert.Equal(t, want, got)
		})
	}
}

func TestStoreDetectionLogic(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetDetectionLogic(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			logic := &models.DetectionLogic{
				ID:   "L1",
				Name: "RPM over-range",
				Parameters: []models.LogicParameter{
					{Name: "MaxThreshold", Type: "double", Value: 6500},
					{Name: "MinConfidence", Type: "double", Value: 0.5},
				},
			}
			require.NoError(t, s.UpsertDetectionLogic(ctx, logic))

			got, err := s.GetDetectionLogic(ctx, "L1")
			require.NoError(t, err)
			assert.Equal(t, logic, got)

			logic.Name = "RPM over-range v2"
			logic.Parameters = logic.Parameters[:1]
			require.NoError(t, s.UpsertDetectionLogic(ctx, logic))
			got, err = s.GetDetectionLogic(ctx, "L1")
			require.NoError(t, err)
			assert.Equal(t, "RPM over-range v2", got.Name)
			assert.Len(t, got.Parameters, 1)

			assert.Error(t, s.UpsertDetectionLogic(ctx, &models.DetectionLogic{}))
			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestImportAssignsIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			n, err := s.ImportDetectionResults(ctx, []models.DetectionResult{
				{SignalID: "rpm", DetectionLogicID: "L1", Type: models.AnomalyTypeTimeout, DetectedAt: t0},
				{SignalID: "rpm", DetectionLogicID: "L1", Type: models.AnomalyTypeTimeout, DetectedAt: t0},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			all, err := s.QueryDetectionResults(ctx, Query{SignalID: "rpm"})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.NotEmpty(t, all[0].ID)
			assert.NotEqual(t, all[0].ID, all[1].ID)
		})
	}
}

func TestMigrationsAreReentrant(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := OpenSQLStore(ctx, DriverSQLite, path, PoolConfig{})
	require.NoError(t, err)
	_, err = s.ImportDetectionResults(ctx, fixtures())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(ctx, DriverSQLite, path, PoolConfig{})
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_versions`))
	assert.Equal(t, len(migrations), version)

	all, err := s.QueryDetectionResults(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestOpenSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "mysql", "", PoolConfig{})
	assert.Error(t, err)
}

func TestMemoryStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().QueryDetectionResults(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, OpenOptions{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	nested := filepath.Join(t.TempDir(), "a", "b", "detections.db")
	sqlite, err := Open(ctx, OpenOptions{Backend: BackendSQLite, SQLitePath: nested})
	require.NoError(t, err)
	defer sqlite.Close()
	assert.NoError(t, sqlite.Ping(ctx))
	assert.FileExists(t, nested)

	cachedPath := filepath.Join(t.TempDir(), "cached.db")
	withCache, err := Open(ctx, OpenOptions{Backend: BackendSQLite, SQLitePath: cachedPath, LogicCacheSize: 4})
	require.NoError(t, err)
	defer withCache.Close()
	assert.IsType(t, &LogicCache{}, withCache)

	_, err = Open(ctx, OpenOptions{Backend: "cassandra"})
	assert.Error(t, err)
}

func TestLogicCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	c, err := NewLogicCache(inner, 2)
	require.NoError(t, err)

	_, err = c.GetDetectionLogic(ctx, "L1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len(), "misses are not cached")

	require.NoError(t, c.UpsertDetectionLogic(ctx, &models.DetectionLogic{
		ID: "L1", Parameters: []models.LogicParameter{{Name: "MaxThreshold", Value: 7000}},
	}))
	got, err := c.GetDetectionLogic(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	// Mutating a returned logic must not leak into the cache.
	got.Parameters[0].Value = 1
	again, err := c.GetDetectionLogic(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 7000.0, again.Parameters[0].Value)

	require.NoError(t, c.UpsertDetectionLogic(ctx, &models.DetectionLogic{
		ID: "L1", Parameters: []models.LogicParameter{{Name: "MaxThreshold", Value: 6500}},
	}))
	assert.Equal(t, 0, c.Len(), "upsert drops the stale entry")
	again, err = c.GetDetectionLogic(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 6500.0, again.Parameters[0].Value)

	_, err = NewLogicCache(inner, 0)
	assert.Error(t, err)
}

func TestSQLStoreRejectsCorruptRows(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	_, err := s.ImportDetectionResults(ctx, fixtures())
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE detection_results SET anomaly_level = 9 WHERE id = 'r1'`)
	require.NoError(t, err)
	_, err = s.QueryDetectionResults(ctx, Query{SignalID: "rpm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anomaly_level 9")

	_, err = s.db.ExecContext(ctx, `UPDATE detection_results SET anomaly_level = 1, anomaly_type = 'Bogus' WHERE id = 'r1'`)
	require.NoError(t, err)
	_, err = s.QueryDetectionResults(ctx, Query{SignalID: "rpm"})
	assert.ErrorContains(t, err, "unknown anomaly type")

	// Other signals are unaffected.
	got, err := s.QueryDetectionResults(ctx, Query{SignalID: "speed"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubMillisecondFromAgreesAcrossBackends(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ImportDetectionResults(ctx, fixtures())
			require.NoError(t, err)

			got, err := s.QueryDetectionResults(ctx, Query{SignalID: "rpm", From: t0.Add(500 * time.Microsecond), To: t0.Add(time.Hour)})
			require.NoError(t, err)
			assert.Equal(t, []string{"r3"}, ids(got))

			got, err = s.QueryDetectionResults(ctx, Query{SignalID: "rpm", From: t0, To: t0.Add(500 * time.Microsecond)})
			require.NoError(t, err)
			assert.Equal(t, []string{"r1"}, ids(got))
		})
	}
}
