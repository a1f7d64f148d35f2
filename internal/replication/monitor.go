// Package replication mirrors backups to replica regions and scores each
// region's health from availability, replication lag, and backup-count
// consistency.
package replication

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

const (
	backupPrefix  = "backups/"
	syncMarkerKey = "metadata/last-sync"
)

// Config configures the replication monitor
type Config struct {
	PrimaryRegion string        `json:"primary_region" yaml:"primary_region"`
	MaxLag        time.Duration `json:"max_lag" yaml:"max_lag"`
	MaxCountDelta int           `json:"max_count_delta" yaml:"max_count_delta"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.MaxLag == 0 {
		c.MaxLag = 5 * time.Minute
	}
	if c.MaxCountDelta == 0 {
		c.MaxCountDelta = 2
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
}

// Monitor syncs replica regions and maintains the region health snapshot
type Monitor struct {
	logger *logging.Logger
	config Config
	stores map[string]storage.ObjectStore
	state  statestore.Store

	mu      sync.RWMutex
	primary string
}

// NewMonitor creates a replication monitor
func NewMonitor(logger *logging.Logger, config Config, stores map[string]storage.ObjectStore, state statestore.Store) (*Monitor, error) {
	config.SetDefaults()
	if _, ok := stores[config.PrimaryRegion]; !ok {
		return nil, apperrors.NewConfigurationError("no object store configured for primary region "+config.PrimaryRegion, nil)
	}
	return &Monitor{
		logger:  logger,
		config:  config,
		stores:  stores,
		state:   state,
		primary: config.PrimaryRegion,
	}, nil
}

// Primary returns the current primary region reference point
func (m *Monitor) Primary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary
}

// SetPrimary shifts the monitor's primary reference point after a
// failover cutover
func (m *Monitor) SetPrimary(region string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary = region
}

// MaxLag returns the configured replication lag ceiling
func (m *Monitor) MaxLag() time.Duration { return m.config.MaxLag }

// MaxCountDelta returns the configured backup-count tolerance
func (m *Monitor) MaxCountDelta() int { return m.config.MaxCountDelta }

// Run executes sync and health cycles until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Errorf("Replication cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sync pass over all replicas followed by a health
// assessment of every region, persisting the resulting snapshot
func (m *Monitor) RunOnce(ctx context.Context) (*record.RegionHealthSnapshot, error) {
	primary := m.Primary()

	failures := m.loadFailureCounters(ctx)
	for region := range m.stores {
		if region == primary {
			continue
		}
		start := time.Now()
		copied, err := m.syncRegion(ctx, primary, region)
		if err != nil {
			failures[region]++
			m.logger.LogReplicationSync(region, copied, time.Since(start), err)
			continue
		}
		failures[region] = 0
		m.logger.LogReplicationSync(region, copied, time.Since(start), nil)
	}

	snapshot := &record.RegionHealthSnapshot{
		PrimaryRegion: primary,
		Regions:       make(map[string]*record.RegionHealth),
		SyncFailures:  failures,
		UpdatedAt:     time.Now().UTC(),
	}

	primaryCount, primaryCountErr := m.countBackups(ctx, primary)
	for region := range m.stores {
		snapshot.Regions[region] = m.assessRegion(ctx, region, primary, primaryCount, primaryCountErr)
	}

	if err := m.state.Save(ctx, statestore.KeyRegionHealth, snapshot); err != nil {
		return nil, apperrors.NewStateError("failed to persist region health snapshot", err)
	}
	return snapshot, nil
}

// syncRegion mirrors the backup namespace from the primary into one
// replica and stamps the completion marker
func (m *Monitor) syncRegion(ctx context.Context, primary, region string) (int, error) {
	src := m.stores[primary]
	dst := m.stores[region]

	srcObjects, err := src.List(ctx, backupPrefix)
	if err != nil {
		return 0, err
	}
	dstObjects, err := dst.List(ctx, backupPrefix)
	if err != nil {
		return 0, err
	}

	existing := make(map[string]int64, len(dstObjects))
	for _, obj := range dstObjects {
		existing[obj.Key] = obj.SizeBytes
	}

	copied := 0
	for _, obj := range srcObjects {
		if size, ok := existing[obj.Key]; ok && size == obj.SizeBytes {
			continue
		}
		if err := m.copyObject(ctx, src, dst, obj.Key); err != nil {
			return copied, err
		}
		copied++
	}

	marker := time.Now().UTC().Format(time.RFC3339Nano)
	if err := dst.Put(ctx, syncMarkerKey, strings.NewReader(marker), storage.PutOptions{
		ContentType: "text/plain",
	}); err != nil {
		return copied, err
	}
	return copied, nil
}

func (m *Monitor) copyObject(ctx context.Context, src, dst storage.ObjectStore, key string) error {
	r, err := src.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()
	return dst.Put(ctx, key, r, storage.PutOptions{StorageClass: storage.ClassStandard})
}

// assessRegion computes one region's health entry
func (m *Monitor) assessRegion(ctx context.Context, region, primary string, primaryCount int, primaryCountErr error) *record.RegionHealth {
	health := &record.RegionHealth{
		Region:        region,
		Score:         100,
		LastCheckedAt: time.Now().UTC(),
	}

	store := m.stores[region]
	if err := store.HealthCheck(ctx); err != nil {
		health.Available = false
		health.Score -= 60
		health.Issues = append(health.Issues, "object store unreachable: "+err.Error())
	} else {
		health.Available = true
	}

	if region == primary {
		health.ReplicationLag = 0
	} else if health.Available {
		lag, err := m.replicationLag(ctx, store)
		if err != nil {
			health.ReplicationLag = m.config.MaxLag + time.Minute
			health.Issues = append(health.Issues, "no sync marker found")
			health.Score -= 30
		} else {
			health.ReplicationLag = lag
			if lag > m.config.MaxLag {
				health.Score -= 30
				health.Issues = append(health.Issues, fmt.Sprintf("replication lag %s exceeds maximum %s", lag, m.config.MaxLag))
			} else if lag > m.config.MaxLag/2 {
				health.Score -= 10
			}
		}
	}

	if health.Available && primaryCountErr == nil {
		count, err := m.countBackups(ctx, region)
		if err != nil {
			health.Issues = append(health.Issues, "failed to count backups: "+err.Error())
			health.Score -= 10
		} else {
			health.BackupCountDelta = count - primaryCount
			delta := health.BackupCountDelta
			if delta < 0 {
				delta = -delta
			}
			if delta > m.config.MaxCountDelta {
				health.Score -= 20
				health.Issues = append(health.Issues, fmt.Sprintf("backup count differs from primary by %d", delta))
			} else if delta > 0 {
				health.Score -= 5
			}
		}
	}

	if health.Score < 0 {
		health.Score = 0
	}
	return health
}

func (m *Monitor) replicationLag(ctx context.Context, store storage.ObjectStore) (time.Duration, error) {
	r, err := store.Get(ctx, syncMarkerKey)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	stamp, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return 0, apperrors.NewIntegrityError("corrupt sync marker", err)
	}
	return time.Since(stamp), nil
}

func (m *Monitor) countBackups(ctx context.Context, region string) (int, error) {
	objects, err := m.stores[region].List(ctx, backupPrefix)
	if err != nil {
		return 0, err
	}
	return len(objects), nil
}

func (m *Monitor) loadFailureCounters(ctx context.Context) map[string]int {
	var snapshot record.RegionHealthSnapshot
	if err := m.state.Load(ctx, statestore.KeyRegionHealth, &snapshot); err == nil && snapshot.SyncFailures != nil {
		return snapshot.SyncFailures
	}
	return make(map[string]int)
}
