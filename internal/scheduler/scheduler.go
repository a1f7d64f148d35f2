// Package scheduler runs the control loop that decides, each cycle, which
// backup, validation, and cleanup work to dispatch, subject to resource
// headroom, time windows, and the concurrent job cap.
package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/retention"
	"drguard/internal/statestore"
	"drguard/internal/validation"
)

// BackupRunner produces one backup of the given type
type BackupRunner interface {
	Run(ctx context.Context, backupType record.BackupType) (*record.BackupRecord, error)
}

// Validator verifies one backup and records the verdict
type Validator interface {
	Validate(ctx context.Context, backupID string, full bool) (*validation.Report, error)
}

// RetentionScanner applies lifecycle policy across the registry
type RetentionScanner interface {
	RunOnce(ctx context.Context, now time.Time) (*retention.ScanStats, error)
}

// Window is a daily hour-of-day interval. A window may wrap midnight.
type Window struct {
	StartHour int `json:"start_hour" yaml:"start_hour"`
	EndHour   int `json:"end_hour" yaml:"end_hour"`
}

// Contains reports whether t falls inside the window
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return false
	}
	h := t.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

const (
	maintenanceBonus = 20
	peakPenalty      = 30
	overdueBonusHigh = 30
	overdueBonusLow  = 15
)

// Config configures the scheduler
type Config struct {
	CycleInterval   time.Duration                        `json:"cycle_interval" yaml:"cycle_interval"`
	ResourceBackoff time.Duration                        `json:"resource_backoff" yaml:"resource_backoff"`
	Intervals       map[record.BackupType]time.Duration  `json:"intervals" yaml:"intervals"`

	ValidationInterval time.Duration `json:"validation_interval" yaml:"validation_interval"`
	// ValidationStarvationCycles caps how many peak-window cycles may
	// pass before an overdue validation runs anyway
	ValidationStarvationCycles int `json:"validation_starvation_cycles" yaml:"validation_starvation_cycles"`

	MaxConcurrentJobs    int `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	RetentionEveryCycles int `json:"retention_every_cycles" yaml:"retention_every_cycles"`
	PriorityFloor        int `json:"priority_floor" yaml:"priority_floor"`
	RecentJobsKept       int `json:"recent_jobs_kept" yaml:"recent_jobs_kept"`

	MaintenanceWindow *Window `json:"maintenance_window,omitempty" yaml:"maintenance_window,omitempty"`
	PeakWindow        *Window `json:"peak_window,omitempty" yaml:"peak_window,omitempty"`

	Thresholds ResourceThresholds `json:"thresholds" yaml:"thresholds"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.CycleInterval == 0 {
		c.CycleInterval = time.Minute
	}
	if c.ResourceBackoff == 0 {
		c.ResourceBackoff = 5 * time.Minute
	}
	if c.Intervals == nil {
		c.Intervals = map[record.BackupType]time.Duration{
			record.BackupTypeIncremental:  6 * time.Hour,
			record.BackupTypeDifferential: 24 * time.Hour,
			record.BackupTypeFull:         7 * 24 * time.Hour,
		}
	}
	if c.ValidationInterval == 0 {
		c.ValidationInterval = 24 * time.Hour
	}
	if c.ValidationStarvationCycles == 0 {
		c.ValidationStarvationCycles = 10
	}
	if c.MaxConcurrentJobs == 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.RetentionEveryCycles == 0 {
		c.RetentionEveryCycles = 60
	}
	if c.PriorityFloor == 0 {
		c.PriorityFloor = 20
	}
	if c.RecentJobsKept == 0 {
		c.RecentJobsKept = 50
	}
	c.Thresholds.SetDefaults()
}

// candidate is one dispatchable backup type with its computed priority
type candidate struct {
	backupType record.BackupType
	priority   int
}

// Scheduler is the single control loop coordinating all components
type Scheduler struct {
	logger    *logging.Logger
	config    Config
	state     statestore.Store
	backups   BackupRunner
	validator Validator
	retention RetentionScanner
	probe     ResourceProbe
	notifier  *notify.Notifier

	running int32
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler
func NewScheduler(logger *logging.Logger, config Config, state statestore.Store,
	backups BackupRunner, validator Validator, scanner RetentionScanner, probe ResourceProbe) *Scheduler {
	config.SetDefaults()
	return &Scheduler{
		logger:    logger,
		config:    config,
		state:     state,
		backups:   backups,
		validator: validator,
		retention: scanner,
		probe:     probe,
	}
}

// SetNotifier registers the channel for job-failure alerts
func (s *Scheduler) SetNotifier(notifier *notify.Notifier) {
	s.notifier = notifier
}

func (s *Scheduler) notifyFailure(ctx context.Context, eventType notify.EventType, title string, cause error) {
	if s.notifier == nil {
		return
	}
	event := notify.NewEvent(eventType, notify.SeverityCritical, title, cause.Error())
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warnf("Failed to send %s notification: %v", string(eventType), err)
	}
}

// Run executes scheduling cycles until ctx is cancelled, then waits for
// in-flight jobs to finish
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started")
	for {
		interval := s.config.CycleInterval
		if err := s.Cycle(ctx, time.Now()); err != nil {
			if isResourceBreach(err) {
				interval = s.config.ResourceBackoff
				s.logger.Warnf("Cycle skipped on resource pressure, backing off %s: %v", interval, err)
			} else {
				s.logger.Errorf("Scheduling cycle failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping, waiting for running jobs")
			s.wg.Wait()
			return
		case <-time.After(interval):
		}
	}
}

// Wait blocks until all dispatched jobs complete
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunningJobs returns the number of jobs currently executing
func (s *Scheduler) RunningJobs() int {
	return int(atomic.LoadInt32(&s.running))
}

func isResourceBreach(err error) bool {
	drErr, ok := err.(*apperrors.DRError)
	if !ok {
		return false
	}
	return drErr.Type == apperrors.ErrorTypeResourceExhaustion || drErr.Type == apperrors.ErrorTypeInsufficientSpace
}

// Cycle performs one scheduling pass. Resource breaches are returned as
// typed errors so the caller can back off; everything else is absorbed
// into statistics.
func (s *Scheduler) Cycle(ctx context.Context, now time.Time) error {
	if active, err := s.failoverActive(ctx); err != nil {
		return err
	} else if active {
		return s.recordSkip(ctx, "failover in progress")
	}

	usage, err := s.probe.Usage()
	if err != nil {
		if skipErr := s.recordSkip(ctx, err.Error()); skipErr != nil {
			return skipErr
		}
		return err
	}
	if err := s.config.Thresholds.Check(usage); err != nil {
		if skipErr := s.recordSkip(ctx, err.Error()); skipErr != nil {
			return skipErr
		}
		return err
	}

	validationTarget, validationFull, err := s.pickValidationTarget(ctx)
	if err != nil {
		return err
	}

	var dispatchBackup *candidate
	var dispatchValidation bool
	var dispatchRetention bool

	err = s.state.Update(ctx, statestore.KeySchedulerState, func(raw json.RawMessage) (interface{}, error) {
		state := record.NewSchedulerState()
		if raw != nil {
			if err := json.Unmarshal(raw, state); err != nil {
				return nil, err
			}
		}
		dispatchBackup = nil
		dispatchValidation = false
		dispatchRetention = false

		state.CycleCount++
		state.LastSkipReason = ""
		capacity := s.config.MaxConcurrentJobs - s.RunningJobs()

		if validationTarget != "" && s.validationDue(state, now) {
			if s.config.PeakWindow.Contains(now) && state.CyclesSinceVal < s.config.ValidationStarvationCycles {
				state.CyclesSinceVal++
			} else if capacity > 0 {
				dispatchValidation = true
				state.JobsDispatched++
				capacity--
			}
		}

		if best := s.bestCandidate(state, now); best != nil && capacity > 0 {
			dispatchBackup = best
			state.JobsDispatched++
			capacity--
		}

		// A retention cycle that lands on a full slate stays pending
		// until a later cycle has capacity for it
		if state.CycleCount%int64(s.config.RetentionEveryCycles) == 0 {
			state.RetentionPending = true
		}
		if state.RetentionPending && capacity > 0 {
			dispatchRetention = true
			state.RetentionPending = false
			state.JobsDispatched++
		}

		for t, interval := range s.config.Intervals {
			base := now
			if last, ok := state.LastRun[t]; ok {
				base = last
			}
			state.NextEstimated[t] = base.Add(interval)
		}
		return state, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to persist scheduler state", err)
	}

	if dispatchValidation {
		s.launchValidation(ctx, validationTarget, validationFull)
	}
	if dispatchBackup != nil {
		s.launchBackup(ctx, dispatchBackup.backupType, dispatchBackup.priority)
	}
	if dispatchRetention {
		s.launchRetention(ctx, now)
	}
	return nil
}

func (s *Scheduler) failoverActive(ctx context.Context) (bool, error) {
	var state record.FailoverState
	err := s.state.Load(ctx, statestore.KeyFailoverState, &state)
	if err == statestore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStateError("failed to read failover state", err)
	}
	return state.Active(), nil
}

func (s *Scheduler) recordSkip(ctx context.Context, reason string) error {
	err := s.state.Update(ctx, statestore.KeySchedulerState, func(raw json.RawMessage) (interface{}, error) {
		state := record.NewSchedulerState()
		if raw != nil {
			if err := json.Unmarshal(raw, state); err != nil {
				return nil, err
			}
		}
		state.CycleCount++
		state.CyclesSkipped++
		state.LastSkipReason = reason
		return state, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to record skipped cycle", err)
	}
	s.logger.WithField("reason", reason).Warn("Scheduling cycle skipped")
	return nil
}

func (s *Scheduler) validationDue(state *record.SchedulerState, now time.Time) bool {
	if state.LastValidationAt == nil {
		return true
	}
	return now.Sub(*state.LastValidationAt) >= s.config.ValidationInterval
}

// pickValidationTarget returns the newest backup that has never been
// validated, preferring it over re-validating old verdicts
func (s *Scheduler) pickValidationTarget(ctx context.Context) (string, bool, error) {
	registry := record.NewBackupRegistry()
	err := s.state.Load(ctx, statestore.KeyBackupRegistry, registry)
	if err == statestore.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStateError("failed to load backup registry", err)
	}

	var target *record.BackupRecord
	for _, rec := range registry.Records {
		if rec.ValidationStatus != record.ValidationUntested {
			continue
		}
		if target == nil || rec.CreatedAt.After(target.CreatedAt) {
			target = rec
		}
	}
	if target == nil {
		return "", false, nil
	}
	return target.ID, target.Type == record.BackupTypeFull, nil
}

// bestCandidate scores every eligible backup type and returns the winner,
// ties broken by type order
func (s *Scheduler) bestCandidate(state *record.SchedulerState, now time.Time) *candidate {
	var candidates []candidate
	for _, t := range record.AllBackupTypes {
		priority, eligible := s.priorityFor(t, state, now)
		if eligible {
			candidates = append(candidates, candidate{backupType: t, priority: priority})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].backupType.Order() < candidates[j].backupType.Order()
	})
	return &candidates[0]
}

// priorityFor computes the dispatch priority of t at now. The second
// return is false when the type's interval has not elapsed or the type
// is suppressed by the peak window.
func (s *Scheduler) priorityFor(t record.BackupType, state *record.SchedulerState, now time.Time) (int, bool) {
	interval, ok := s.config.Intervals[t]
	if !ok || interval <= 0 {
		return 0, false
	}

	priority := t.BasePriority()
	last, ran := state.LastRun[t]
	if ran {
		elapsed := now.Sub(last)
		if elapsed < interval {
			return 0, false
		}
		switch {
		case elapsed > time.Duration(float64(interval)*1.5):
			priority += overdueBonusHigh
		case elapsed > time.Duration(float64(interval)*1.2):
			priority += overdueBonusLow
		}
	} else {
		// Never run: immediately eligible and maximally overdue
		priority += overdueBonusHigh
	}

	if s.config.MaintenanceWindow.Contains(now) {
		priority += maintenanceBonus
	}
	if s.config.PeakWindow.Contains(now) {
		priority -= peakPenalty
		if t == record.BackupTypeFull && priority < s.config.PriorityFloor {
			return 0, false
		}
	}
	return priority, true
}

func (s *Scheduler) launchBackup(ctx context.Context, t record.BackupType, priority int) {
	job := record.NewJob(record.JobKindBackup, priority)
	job.Status = record.JobStatusRunning
	job.StartedAt = time.Now().UTC()

	s.wg.Add(1)
	atomic.AddInt32(&s.running, 1)
	s.logger.WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"backup_type": string(t),
		"priority":    priority,
	}).Info("Dispatching backup job")

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.running, -1)

		_, err := s.backups.Run(ctx, t)
		job.Complete(err)
		if err != nil {
			s.notifyFailure(ctx, notify.EventBackupFailed, "Backup failed: "+string(t), err)
		}
		s.finishJob(ctx, job, func(state *record.SchedulerState) {
			if err == nil {
				state.LastRun[t] = *job.EndedAt
			}
		})
	}()
}

func (s *Scheduler) launchValidation(ctx context.Context, backupID string, full bool) {
	job := record.NewJob(record.JobKindValidation, 0)
	job.Status = record.JobStatusRunning
	job.StartedAt = time.Now().UTC()

	s.wg.Add(1)
	atomic.AddInt32(&s.running, 1)
	s.logger.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"backup_id": backupID,
	}).Info("Dispatching validation job")

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.running, -1)

		_, err := s.validator.Validate(ctx, backupID, full)
		job.Complete(err)
		if err != nil {
			s.notifyFailure(ctx, notify.EventValidationFailed, "Validation failed: "+backupID, err)
		}
		s.finishJob(ctx, job, func(state *record.SchedulerState) {
			state.LastValidationAt = job.EndedAt
			state.CyclesSinceVal = 0
		})
	}()
}

func (s *Scheduler) launchRetention(ctx context.Context, now time.Time) {
	job := record.NewJob(record.JobKindCleanup, 0)
	job.Status = record.JobStatusRunning
	job.StartedAt = time.Now().UTC()

	s.wg.Add(1)
	atomic.AddInt32(&s.running, 1)
	s.logger.WithField("job_id", job.ID).Info("Dispatching retention job")

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.running, -1)

		_, err := s.retention.RunOnce(ctx, now)
		job.Complete(err)
		s.finishJob(ctx, job, func(state *record.SchedulerState) {
			state.LastRetentionScan = job.EndedAt
		})
	}()
}

// finishJob folds a completed job back into the persisted scheduler state
func (s *Scheduler) finishJob(ctx context.Context, job *record.Job, apply func(*record.SchedulerState)) {
	err := s.state.Update(ctx, statestore.KeySchedulerState, func(raw json.RawMessage) (interface{}, error) {
		state := record.NewSchedulerState()
		if raw != nil {
			if err := json.Unmarshal(raw, state); err != nil {
				return nil, err
			}
		}
		if job.Status == record.JobStatusSucceeded {
			state.JobsSucceeded++
			apply(state)
		} else {
			state.JobsFailed++
		}
		state.RecordJob(job, s.config.RecentJobsKept)
		return state, nil
	})
	if err != nil {
		s.logger.Errorf("Failed to record job %s completion: %v", job.ID, err)
	}

	if job.Status == record.JobStatusFailed {
		s.logger.WithFields(map[string]interface{}{
			"job_id": job.ID,
			"kind":   string(job.Kind),
			"error":  job.Error,
		}).Error("Job failed")
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"duration": job.EndedAt.Sub(job.StartedAt).String(),
	}).Info("Job completed")
}

// Status returns the persisted scheduler state for reporting
func (s *Scheduler) Status(ctx context.Context) (*record.SchedulerState, error) {
	state := record.NewSchedulerState()
	err := s.state.Load(ctx, statestore.KeySchedulerState, state)
	if err == statestore.ErrNotFound {
		return state, nil
	}
	if err != nil {
		return nil, apperrors.NewStateError("failed to load scheduler state", err)
	}
	return state, nil
}
