package replication

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drguard/internal/logging"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

// failingStore wraps a LocalStore and fails all writes
type failingStore struct {
	storage.ObjectStore
}

func (f *failingStore) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) error {
	return assert.AnError
}

func (f *failingStore) HealthCheck(ctx context.Context) error {
	return assert.AnError
}

type monitorFixture struct {
	monitor *Monitor
	state   *statestore.MemoryStore
	stores  map[string]storage.ObjectStore
}

func newMonitorFixture(t *testing.T, regions ...string) *monitorFixture {
	t.Helper()

	stores := make(map[string]storage.ObjectStore)
	for _, region := range regions {
		store, err := storage.NewLocalStore(t.TempDir())
		require.NoError(t, err)
		stores[region] = store
	}

	state := statestore.NewMemoryStore()
	monitor, err := NewMonitor(logging.NewDefaultLogger(), Config{
		PrimaryRegion: regions[0],
		MaxLag:        5 * time.Minute,
		MaxCountDelta: 1,
	}, stores, state)
	require.NoError(t, err)

	return &monitorFixture{monitor: monitor, state: state, stores: stores}
}

func putObject(t *testing.T, store storage.ObjectStore, key, content string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, bytes.NewReader([]byte(content)), storage.PutOptions{}))
}

func TestRunOnceSyncsReplicas(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2")
	ctx := context.Background()

	putObject(t, fx.stores["us-east-1"], "backups/full-001/mysql.sql.gz.enc", "artifact-one")
	putObject(t, fx.stores["us-east-1"], "backups/full-001/redis.rdb.gz.enc", "artifact-two")

	snapshot, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)

	// Replica must now hold both objects
	replicaObjects, err := fx.stores["us-west-2"].List(ctx, "backups/")
	require.NoError(t, err)
	assert.Len(t, replicaObjects, 2)

	// And a fresh sync marker
	r, err := fx.stores["us-west-2"].Get(ctx, syncMarkerKey)
	require.NoError(t, err)
	r.Close()

	assert.Equal(t, 0, snapshot.SyncFailures["us-west-2"])
}

func TestRunOnceScoresHealthyRegion(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2")
	ctx := context.Background()

	putObject(t, fx.stores["us-east-1"], "backups/full-001/a", "x")

	snapshot, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)

	primary := snapshot.Regions["us-east-1"]
	require.NotNil(t, primary)
	assert.True(t, primary.Available)
	assert.Zero(t, primary.ReplicationLag)
	assert.Equal(t, 100, primary.Score)

	replica := snapshot.Regions["us-west-2"]
	require.NotNil(t, replica)
	assert.True(t, replica.Available)
	assert.True(t, replica.Healthy(fx.monitor.MaxLag(), fx.monitor.MaxCountDelta()))
	assert.GreaterOrEqual(t, replica.Score, 90)
}

func TestRunOnceIsolatesRegionFailures(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2", "eu-west-1")
	ctx := context.Background()

	putObject(t, fx.stores["us-east-1"], "backups/full-001/a", "x")
	fx.stores["eu-west-1"] = &failingStore{ObjectStore: fx.stores["eu-west-1"]}
	fx.monitor.stores = fx.stores

	snapshot, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)

	// Healthy replica still synced despite the broken one
	replicaObjects, err := fx.stores["us-west-2"].List(ctx, "backups/")
	require.NoError(t, err)
	assert.Len(t, replicaObjects, 1)

	assert.Equal(t, 1, snapshot.SyncFailures["eu-west-1"])
	assert.Equal(t, 0, snapshot.SyncFailures["us-west-2"])
	assert.False(t, snapshot.Regions["eu-west-1"].Available)
	assert.Less(t, snapshot.Regions["eu-west-1"].Score, 50)
}

func TestFailureCounterAccumulatesAndResets(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2")
	ctx := context.Background()

	broken := &failingStore{ObjectStore: fx.stores["us-west-2"]}
	healthy := fx.stores["us-west-2"]
	fx.stores["us-west-2"] = broken
	fx.monitor.stores = fx.stores

	_, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	snapshot, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.SyncFailures["us-west-2"])

	fx.stores["us-west-2"] = healthy
	fx.monitor.stores = fx.stores
	snapshot, err = fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.SyncFailures["us-west-2"])
}

func TestRunOnceReplacesPriorSnapshot(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2")
	ctx := context.Background()

	first, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	second, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))

	var persisted record.RegionHealthSnapshot
	require.NoError(t, fx.state.Load(ctx, statestore.KeyRegionHealth, &persisted))
	assert.Equal(t, "us-east-1", persisted.PrimaryRegion)
	assert.Len(t, persisted.Regions, 2)
}

func TestSetPrimaryShiftsReferencePoint(t *testing.T) {
	fx := newMonitorFixture(t, "us-east-1", "us-west-2")
	ctx := context.Background()

	fx.monitor.SetPrimary("us-west-2")
	assert.Equal(t, "us-west-2", fx.monitor.Primary())

	putObject(t, fx.stores["us-west-2"], "backups/full-002/a", "y")

	snapshot, err := fx.monitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", snapshot.PrimaryRegion)
	assert.Zero(t, snapshot.Regions["us-west-2"].ReplicationLag)

	// Old primary now syncs from the new one
	objects, err := fx.stores["us-east-1"].List(ctx, "backups/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}
