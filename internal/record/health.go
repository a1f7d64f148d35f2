package record

import (
	"fmt"
	"time"
)

// RegionHealth is the latest health snapshot for one region. Only the
// current snapshot is retained; there is no history.
type RegionHealth struct {
	Region           string        `json:"region"`
	Available        bool          `json:"available"`
	ReplicationLag   time.Duration `json:"replication_lag_ns"`
	BackupCountDelta int           `json:"backup_count_delta"`
	Score            int           `json:"score"`
	Issues           []string      `json:"issues,omitempty"`
	LastCheckedAt    time.Time     `json:"last_checked_at"`
}

// Healthy reports whether the region can serve as a failover target.
// Availability, lag, and count consistency must all hold.
func (h *RegionHealth) Healthy(maxLag time.Duration, maxCountDelta int) bool {
	if !h.Available {
		return false
	}
	if h.ReplicationLag > maxLag {
		return false
	}
	delta := h.BackupCountDelta
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxCountDelta
}

// FailoverPhase is the failover controller's state machine position
type FailoverPhase string

const (
	PhaseStable      FailoverPhase = "stable"
	PhaseFailingOver FailoverPhase = "failing_over"
	PhaseFailedOver  FailoverPhase = "failed_over"
	PhaseFailingBack FailoverPhase = "failing_back"
)

var failoverTransitions = map[FailoverPhase][]FailoverPhase{
	PhaseStable:      {PhaseFailingOver},
	PhaseFailingOver: {PhaseFailedOver, PhaseStable},
	PhaseFailedOver:  {PhaseFailingBack},
	PhaseFailingBack: {PhaseStable, PhaseFailedOver},
}

// IsValid reports whether p is a known phase
func (p FailoverPhase) IsValid() bool {
	_, ok := failoverTransitions[p]
	return ok
}

// CanTransitionTo reports whether moving from p to next is allowed
func (p FailoverPhase) CanTransitionTo(next FailoverPhase) bool {
	for _, allowed := range failoverTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FailoverState is the singleton cutover state document. Only the failover
// controller mutates it; the scheduler reads it to suppress conflicting work.
type FailoverState struct {
	Phase           FailoverPhase `json:"phase"`
	PrimaryRegion   string        `json:"primary_region"`
	ActiveRegion    string        `json:"active_region"`
	LastFailoverAt  *time.Time    `json:"last_failover_at,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	CooldownExpires *time.Time    `json:"cooldown_expires,omitempty"`
}

// NewFailoverState returns a stable state serving from the primary region
func NewFailoverState(primaryRegion string) *FailoverState {
	return &FailoverState{
		Phase:         PhaseStable,
		PrimaryRegion: primaryRegion,
		ActiveRegion:  primaryRegion,
	}
}

// Active reports whether a cutover or failback is in progress, or traffic
// is currently served away from the primary
func (s *FailoverState) Active() bool {
	return s.Phase != PhaseStable
}

// InCooldown reports whether a new failover is rejected at now
func (s *FailoverState) InCooldown(now time.Time) bool {
	return s.CooldownExpires != nil && now.Before(*s.CooldownExpires)
}

// Transition moves the state machine to next, rejecting invalid moves
func (s *FailoverState) Transition(next FailoverPhase) error {
	if !next.IsValid() {
		return fmt.Errorf("unknown failover phase %q", next)
	}
	if !s.Phase.CanTransitionTo(next) {
		return fmt.Errorf("invalid failover transition %s -> %s", s.Phase, next)
	}
	s.Phase = next
	return nil
}

// RefreshCooldown extends the cooldown window from now
func (s *FailoverState) RefreshCooldown(now time.Time, cooldown time.Duration) {
	expiry := now.Add(cooldown)
	s.CooldownExpires = &expiry
}
