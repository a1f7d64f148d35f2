package failover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drguard/internal/dns"
	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/replication"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

// recordingChannel captures notifications for assertions
type recordingChannel struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingChannel) Send(ctx context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingChannel) GetType() string { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }

func (r *recordingChannel) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]notify.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type controllerFixture struct {
	controller *Controller
	state      *statestore.MemoryStore
	dns        *dns.MemoryProvider
	events     *recordingChannel
	monitor    *replication.Monitor
}

func newControllerFixture(t *testing.T, autoFailback bool) *controllerFixture {
	t.Helper()

	stores := make(map[string]storage.ObjectStore)
	for _, region := range []string{"us-east-1", "us-west-2"} {
		store, err := storage.NewLocalStore(t.TempDir())
		require.NoError(t, err)
		stores[region] = store
	}

	logger := logging.NewDefaultLogger()
	state := statestore.NewMemoryStore()

	monitor, err := replication.NewMonitor(logger, replication.Config{
		PrimaryRegion: "us-east-1",
		MaxLag:        5 * time.Minute,
		MaxCountDelta: 1,
	}, stores, state)
	require.NoError(t, err)

	events := &recordingChannel{}
	notifier := notify.NewNotifier(logger, notify.Config{Enabled: true})
	notifier.AddChannel(events)

	provider := dns.NewMemoryProvider()
	controller, err := NewController(logger, Config{
		PrimaryRegion: "us-east-1",
		RecordName:    "db.example.com",
		Cooldown:      30 * time.Minute,
		AutoFailback:  autoFailback,
		Endpoints: map[string]string{
			"us-east-1": "primary.db.internal",
			"us-west-2": "replica.db.internal",
		},
	}, state, provider, monitor, notifier, nil)
	require.NoError(t, err)

	return &controllerFixture{
		controller: controller,
		state:      state,
		dns:        provider,
		events:     events,
		monitor:    monitor,
	}
}

func healthSnapshot(primaryScore, replicaScore int) *record.RegionHealthSnapshot {
	return &record.RegionHealthSnapshot{
		PrimaryRegion: "us-east-1",
		Regions: map[string]*record.RegionHealth{
			"us-east-1": {
				Region:    "us-east-1",
				Available: primaryScore >= 60,
				Score:     primaryScore,
			},
			"us-west-2": {
				Region:         "us-west-2",
				Available:      replicaScore >= 60,
				ReplicationLag: time.Minute,
				Score:          replicaScore,
			},
		},
		UpdatedAt: time.Now().UTC(),
	}
}

func TestFailoverMovesTraffic(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, fx.controller.Failover(ctx, "us-west-2", "operator initiated", false))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseFailedOver, state.Phase)
	assert.Equal(t, "us-west-2", state.ActiveRegion)
	assert.Equal(t, "us-east-1", state.PrimaryRegion)
	require.NotNil(t, state.LastFailoverAt)
	assert.True(t, state.InCooldown(time.Now()))

	rec, ok := fx.dns.Lookup("db.example.com")
	require.True(t, ok)
	assert.Equal(t, "replica.db.internal", rec.Target)

	assert.Equal(t, "us-west-2", fx.monitor.Primary())
	assert.Equal(t, []notify.EventType{notify.EventFailoverStarted, notify.EventFailoverCompleted}, fx.events.types())
}

func TestFailoverToActiveRegionRefreshesCooldownOnly(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, fx.controller.Failover(ctx, "us-east-1", "no-op", false))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Equal(t, "us-east-1", state.ActiveRegion)
	assert.True(t, state.InCooldown(time.Now()))

	assert.Zero(t, fx.dns.UpsertCalls)
	assert.Empty(t, fx.events.types())
}

func TestFailoverRejectedDuringCooldown(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	state := record.NewFailoverState("us-east-1")
	state.RefreshCooldown(time.Now(), time.Hour)
	require.NoError(t, fx.state.Save(ctx, statestore.KeyFailoverState, state))

	err := fx.controller.Failover(ctx, "us-west-2", "too soon", false)
	require.Error(t, err)
	drErr, ok := err.(*apperrors.DRError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeFailoverAbort, drErr.Type)
	assert.Zero(t, fx.dns.UpsertCalls)
}

func TestFailoverAbortOnDNSFailure(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()
	fx.dns.UpsertErr = assert.AnError

	err := fx.controller.Failover(ctx, "us-west-2", "broken dns", false)
	require.Error(t, err)
	drErr, ok := err.(*apperrors.DRError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeFailoverAbort, drErr.Type)

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Equal(t, "us-east-1", state.ActiveRegion)
	assert.Equal(t, "us-east-1", fx.monitor.Primary())
	assert.Contains(t, fx.events.types(), notify.EventFailoverAborted)
}

func TestEvaluateAutomaticFailover(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	// Primary score collapses while the replica scores 90 with lag
	// under the ceiling
	require.NoError(t, fx.controller.Evaluate(ctx, healthSnapshot(20, 90)))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseFailedOver, state.Phase)
	assert.Equal(t, "us-west-2", state.ActiveRegion)
	assert.Equal(t, "us-west-2", fx.monitor.Primary())
	assert.NotEmpty(t, state.Reason)
}

func TestEvaluateHealthyPrimaryDoesNothing(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, fx.controller.Evaluate(ctx, healthSnapshot(100, 90)))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Zero(t, fx.dns.UpsertCalls)
}

func TestEvaluateNoHealthyTargetStaysStable(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, fx.controller.Evaluate(ctx, healthSnapshot(20, 30)))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Zero(t, fx.dns.UpsertCalls)
}

func TestFailbackReturnsToPrimary(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	require.NoError(t, fx.controller.Failover(ctx, "us-west-2", "drill", false))
	require.NoError(t, fx.controller.Failback(ctx, "primary recovered"))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Equal(t, "us-east-1", state.ActiveRegion)
	assert.Equal(t, "us-east-1", fx.monitor.Primary())

	rec, ok := fx.dns.Lookup("db.example.com")
	require.True(t, ok)
	assert.Equal(t, "primary.db.internal", rec.Target)
	assert.Contains(t, fx.events.types(), notify.EventFailbackCompleted)
}

func TestFailbackRequiresFailedOverState(t *testing.T) {
	fx := newControllerFixture(t, false)
	ctx := context.Background()

	err := fx.controller.Failback(ctx, "nothing to do")
	require.Error(t, err)
	drErr, ok := err.(*apperrors.DRError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeFailoverAbort, drErr.Type)
}

func TestEvaluateAutoFailback(t *testing.T) {
	fx := newControllerFixture(t, true)
	ctx := context.Background()

	require.NoError(t, fx.controller.Evaluate(ctx, healthSnapshot(20, 90)))
	require.NoError(t, fx.controller.Evaluate(ctx, healthSnapshot(100, 90)))

	state, err := fx.controller.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.PhaseStable, state.Phase)
	assert.Equal(t, "us-east-1", state.ActiveRegion)
	assert.Equal(t, "us-east-1", fx.monitor.Primary())
}

func TestSelectTargetPrefersLowestLag(t *testing.T) {
	fx := newControllerFixture(t, false)

	snapshot := healthSnapshot(20, 90)
	target, healthy := fx.controller.SelectTarget(snapshot, "us-east-1")
	assert.Equal(t, "us-west-2", target)
	assert.True(t, healthy)

	// With every candidate unhealthy the least-unhealthy one is still
	// named, flagged as such
	snapshot.Regions["us-west-2"].Available = false
	snapshot.Regions["us-west-2"].Score = 30
	target, healthy = fx.controller.SelectTarget(snapshot, "us-east-1")
	assert.Equal(t, "us-west-2", target)
	assert.False(t, healthy)
}
