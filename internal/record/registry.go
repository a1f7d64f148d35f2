package record

import (
	"sort"
	"time"
)

// BackupRegistry is the persisted collection of all known backup records
type BackupRegistry struct {
	Records map[string]*BackupRecord `json:"records"`
}

// NewBackupRegistry returns an empty registry
func NewBackupRegistry() *BackupRegistry {
	return &BackupRegistry{Records: make(map[string]*BackupRecord)}
}

// Put adds or replaces a record
func (reg *BackupRegistry) Put(r *BackupRecord) {
	if reg.Records == nil {
		reg.Records = make(map[string]*BackupRecord)
	}
	reg.Records[r.ID] = r
}

// Get returns the record with the given ID, or nil
func (reg *BackupRegistry) Get(id string) *BackupRecord {
	return reg.Records[id]
}

// Remove deletes the record with the given ID
func (reg *BackupRegistry) Remove(id string) {
	delete(reg.Records, id)
}

// SortedByAge returns all records ordered oldest first
func (reg *BackupRegistry) SortedByAge() []*BackupRecord {
	records := make([]*BackupRecord, 0, len(reg.Records))
	for _, r := range reg.Records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// LatestOfType returns the most recent record of the given type, or nil
func (reg *BackupRegistry) LatestOfType(t BackupType) *BackupRecord {
	var latest *BackupRecord
	for _, r := range reg.Records {
		if r.Type != t {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// LegalHoldRegistry is the persisted collection of legal holds, active
// and released alike
type LegalHoldRegistry struct {
	Holds map[string]*LegalHold `json:"holds"`
}

// NewLegalHoldRegistry returns an empty registry
func NewLegalHoldRegistry() *LegalHoldRegistry {
	return &LegalHoldRegistry{Holds: make(map[string]*LegalHold)}
}

// Put adds or replaces a hold
func (reg *LegalHoldRegistry) Put(h *LegalHold) {
	if reg.Holds == nil {
		reg.Holds = make(map[string]*LegalHold)
	}
	reg.Holds[h.ID] = h
}

// Get returns the hold with the given ID, or nil
func (reg *LegalHoldRegistry) Get(id string) *LegalHold {
	return reg.Holds[id]
}

// ActiveHoldFor returns the first active hold covering r, or nil
func (reg *LegalHoldRegistry) ActiveHoldFor(r *BackupRecord) *LegalHold {
	ids := make([]string, 0, len(reg.Holds))
	for id := range reg.Holds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if reg.Holds[id].Covers(r) {
			return reg.Holds[id]
		}
	}
	return nil
}

// Sorted returns all holds ordered by creation time
func (reg *LegalHoldRegistry) Sorted() []*LegalHold {
	holds := make([]*LegalHold, 0, len(reg.Holds))
	for _, h := range reg.Holds {
		holds = append(holds, h)
	}
	sort.Slice(holds, func(i, j int) bool {
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
	return holds
}

// RegionHealthSnapshot is the persisted health document covering all regions
type RegionHealthSnapshot struct {
	PrimaryRegion string                   `json:"primary_region"`
	Regions       map[string]*RegionHealth `json:"regions"`
	SyncFailures  map[string]int           `json:"sync_failures,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// SchedulerState is the persisted scheduler bookkeeping document
type SchedulerState struct {
	LastRun           map[BackupType]time.Time `json:"last_run,omitempty"`
	NextEstimated     map[BackupType]time.Time `json:"next_estimated,omitempty"`
	LastValidationAt  *time.Time               `json:"last_validation_at,omitempty"`
	CyclesSinceVal    int                      `json:"cycles_since_validation"`
	CycleCount        int64                    `json:"cycle_count"`
	JobsDispatched    int64                    `json:"jobs_dispatched"`
	JobsSucceeded     int64                    `json:"jobs_succeeded"`
	JobsFailed        int64                    `json:"jobs_failed"`
	CyclesSkipped     int64                    `json:"cycles_skipped"`
	LastSkipReason    string                   `json:"last_skip_reason,omitempty"`
	RecentJobs        []*Job                   `json:"recent_jobs,omitempty"`
	RetentionPending  bool                     `json:"retention_pending,omitempty"`
	LastRetentionScan *time.Time               `json:"last_retention_scan,omitempty"`
}

// NewSchedulerState returns an empty scheduler state document
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{
		LastRun:       make(map[BackupType]time.Time),
		NextEstimated: make(map[BackupType]time.Time),
	}
}

// RecordJob appends j to the recent-job ring, keeping the newest entries
func (s *SchedulerState) RecordJob(j *Job, keep int) {
	s.RecentJobs = append(s.RecentJobs, j)
	if keep > 0 && len(s.RecentJobs) > keep {
		s.RecentJobs = s.RecentJobs[len(s.RecentJobs)-keep:]
	}
}
