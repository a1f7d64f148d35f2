// Package failover decides when to move traffic to a replica region and
// executes the cutover: DNS update, storage promotion, state persistence,
// and operator notification.
package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"drguard/internal/dns"
	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/replication"
	"drguard/internal/statestore"
)

// Promoter promotes a region's storage replica to primary during cutover
type Promoter interface {
	// Promote makes the region's replica writable and waits until it
	// reports available
	Promote(ctx context.Context, region string) error
}

// NoopPromoter is used when the storage layer has no replica promotion
type NoopPromoter struct{}

// Promote does nothing
func (NoopPromoter) Promote(ctx context.Context, region string) error { return nil }

// Config configures the failover controller
type Config struct {
	PrimaryRegion string `json:"primary_region" yaml:"primary_region"`
	// Endpoints maps each region to the DNS target serving it
	Endpoints     map[string]string `json:"endpoints" yaml:"endpoints"`
	RecordName    string            `json:"record_name" yaml:"record_name"`
	RecordType    dns.RecordType    `json:"record_type" yaml:"record_type"`
	RecordTTL     int               `json:"record_ttl" yaml:"record_ttl"`
	Cooldown      time.Duration     `json:"cooldown" yaml:"cooldown"`
	AutoFailback  bool              `json:"auto_failback" yaml:"auto_failback"`
	HealthyScore  int               `json:"healthy_score" yaml:"healthy_score"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.HealthyScore == 0 {
		c.HealthyScore = 60
	}
	if c.RecordType == "" {
		c.RecordType = dns.RecordTypeCNAME
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = 60
	}
}

// Controller runs the failover state machine
type Controller struct {
	logger   *logging.Logger
	config   Config
	state    statestore.Store
	dns      dns.Provider
	monitor  *replication.Monitor
	notifier *notify.Notifier
	promoter Promoter
}

// NewController creates a failover controller
func NewController(logger *logging.Logger, config Config, state statestore.Store, dnsProvider dns.Provider,
	monitor *replication.Monitor, notifier *notify.Notifier, promoter Promoter) (*Controller, error) {
	config.SetDefaults()
	if config.PrimaryRegion == "" || config.RecordName == "" {
		return nil, apperrors.NewConfigurationError("failover requires a primary region and a DNS record name", nil)
	}
	if _, ok := config.Endpoints[config.PrimaryRegion]; !ok {
		return nil, apperrors.NewConfigurationError("no endpoint configured for primary region "+config.PrimaryRegion, nil)
	}
	if promoter == nil {
		promoter = NoopPromoter{}
	}
	return &Controller{
		logger:   logger,
		config:   config,
		state:    state,
		dns:      dnsProvider,
		monitor:  monitor,
		notifier: notifier,
		promoter: promoter,
	}, nil
}

// State loads the current failover state, initializing it on first use
func (c *Controller) State(ctx context.Context) (*record.FailoverState, error) {
	var state record.FailoverState
	err := c.state.Load(ctx, statestore.KeyFailoverState, &state)
	if err == statestore.ErrNotFound {
		return record.NewFailoverState(c.config.PrimaryRegion), nil
	}
	if err != nil {
		return nil, apperrors.NewStateError("failed to load failover state", err)
	}
	return &state, nil
}

// Evaluate consumes a health snapshot and triggers automatic failover or
// failback when the conditions are met
func (c *Controller) Evaluate(ctx context.Context, snapshot *record.RegionHealthSnapshot) error {
	state, err := c.State(ctx)
	if err != nil {
		return err
	}

	switch state.Phase {
	case record.PhaseFailedOver:
		if !c.config.AutoFailback {
			return nil
		}
		original := state.PrimaryRegion
		if health, ok := snapshot.Regions[original]; ok && c.isHealthy(health) {
			c.logger.Infof("Original primary region %s recovered, starting automatic failback", original)
			return c.Failback(ctx, "original primary recovered")
		}
		return nil
	case record.PhaseStable:
	default:
		// A cutover is already in flight
		return nil
	}

	active := state.ActiveRegion
	health, ok := snapshot.Regions[active]
	if !ok || c.isHealthy(health) {
		return nil
	}
	if state.InCooldown(time.Now()) {
		c.logger.WithField("region", active).Warn("Primary region unhealthy but failover is in cooldown")
		return nil
	}

	target, targetHealthy := c.SelectTarget(snapshot, active)
	if target == "" || !targetHealthy {
		// Auto failover requires at least one genuinely healthy region
		return nil
	}

	reason := fmt.Sprintf("region %s unhealthy (score %d): %v", active, health.Score, health.Issues)
	return c.Failover(ctx, target, reason, true)
}

func (c *Controller) isHealthy(health *record.RegionHealth) bool {
	return health.Score >= c.config.HealthyScore &&
		health.Healthy(c.monitor.MaxLag(), c.monitor.MaxCountDelta())
}

// SelectTarget picks the failover destination: the healthy region with
// the lowest replication lag, or failing that the least-unhealthy one.
// The second return reports whether the choice is fully healthy.
func (c *Controller) SelectTarget(snapshot *record.RegionHealthSnapshot, exclude string) (string, bool) {
	var best string
	var bestHealth *record.RegionHealth
	bestHealthy := false

	for region, health := range snapshot.Regions {
		if region == exclude {
			continue
		}
		if _, ok := c.config.Endpoints[region]; !ok {
			continue
		}
		healthy := c.isHealthy(health)

		switch {
		case best == "":
			best, bestHealth, bestHealthy = region, health, healthy
		case healthy && !bestHealthy:
			best, bestHealth, bestHealthy = region, health, healthy
		case healthy == bestHealthy && better(health, bestHealth):
			best, bestHealth = region, health
		}
	}

	if best != "" && !bestHealthy {
		c.logger.WithField("region", best).Warn("No fully healthy failover target, selecting least-unhealthy region")
	}
	return best, bestHealthy
}

// better orders candidates by lag, breaking ties on score
func better(a, b *record.RegionHealth) bool {
	if a.ReplicationLag != b.ReplicationLag {
		return a.ReplicationLag < b.ReplicationLag
	}
	return a.Score > b.Score
}

// Failover moves traffic to targetRegion. The whole cutover runs under
// the exclusive failover lock so no backup, validation, or replication
// cycle observes a half-applied state.
func (c *Controller) Failover(ctx context.Context, targetRegion, reason string, automatic bool) error {
	endpoint, ok := c.config.Endpoints[targetRegion]
	if !ok {
		return apperrors.NewFailoverAbortError("no endpoint configured for target region "+targetRegion, nil)
	}

	return c.state.WithLock(ctx, statestore.KeyFailoverState, func() error {
		state, err := c.State(ctx)
		if err != nil {
			return err
		}

		// Failover to the active region is a no-op that still refreshes
		// the cooldown timer
		if state.ActiveRegion == targetRegion {
			state.RefreshCooldown(time.Now(), c.config.Cooldown)
			return c.persist(ctx, state)
		}

		if state.InCooldown(time.Now()) {
			return apperrors.NewFailoverAbortError(
				fmt.Sprintf("failover rejected: cooldown active until %s", state.CooldownExpires.Format(time.RFC3339)), nil)
		}

		from := state.ActiveRegion
		if err := state.Transition(record.PhaseFailingOver); err != nil {
			return apperrors.NewFailoverAbortError("failover not possible from current phase", err)
		}
		if err := c.persist(ctx, state); err != nil {
			return err
		}

		started := notify.NewEvent(notify.EventFailoverStarted, notify.SeverityCritical,
			"Failover started", fmt.Sprintf("moving traffic from %s to %s", from, targetRegion))
		started.Target = targetRegion
		started.Reason = reason
		if err := c.notifier.Notify(ctx, started); err != nil {
			c.logger.Errorf("Failed to notify operators of failover start: %v", err)
		}

		if err := c.cutover(ctx, targetRegion, endpoint); err != nil {
			return c.abort(ctx, state, targetRegion, err)
		}

		now := time.Now().UTC()
		if err := state.Transition(record.PhaseFailedOver); err != nil {
			return apperrors.NewStateError("failover state transition failed after cutover", err)
		}
		state.ActiveRegion = targetRegion
		state.LastFailoverAt = &now
		state.Reason = reason
		state.RefreshCooldown(now, c.config.Cooldown)
		if err := c.persist(ctx, state); err != nil {
			return err
		}

		c.monitor.SetPrimary(targetRegion)
		c.logger.LogFailoverEvent(from, targetRegion, reason, automatic)

		event := notify.NewEvent(notify.EventFailoverCompleted, notify.SeverityCritical,
			"Failover completed", fmt.Sprintf("traffic moved from %s to %s", from, targetRegion))
		event.Target = targetRegion
		event.Reason = reason
		if err := c.notifier.Notify(ctx, event); err != nil {
			c.logger.Errorf("Failed to notify operators of failover: %v", err)
		}
		return nil
	})
}

// cutover performs the externally visible steps: DNS update with
// propagation wait, then storage promotion
func (c *Controller) cutover(ctx context.Context, targetRegion, endpoint string) error {
	rec := dns.Record{
		Name:   c.config.RecordName,
		Type:   c.config.RecordType,
		TTL:    c.config.RecordTTL,
		Target: endpoint,
	}
	if err := c.dns.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := c.dns.WaitForPropagation(ctx, rec); err != nil {
		return err
	}
	return c.promoter.Promote(ctx, targetRegion)
}

// abort rolls the state machine back to stable and alerts operators.
// Nothing is persisted as failed-over.
func (c *Controller) abort(ctx context.Context, state *record.FailoverState, targetRegion string, cause error) error {
	if err := state.Transition(record.PhaseStable); err != nil {
		return apperrors.NewStateError("failed to restore stable state after aborted cutover", err)
	}
	if err := c.persist(ctx, state); err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"target": targetRegion,
		"error":  cause.Error(),
	}).Error("Failover cutover aborted")

	event := notify.NewEvent(notify.EventFailoverAborted, notify.SeverityCritical,
		"Failover aborted", "cutover failed, system remains in the prior stable state")
	event.Target = targetRegion
	event.Reason = cause.Error()
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.logger.Errorf("Failed to notify operators of aborted failover: %v", err)
	}

	return apperrors.NewFailoverAbortError("failover to "+targetRegion+" aborted", cause)
}

// Failback returns traffic to the original primary region
func (c *Controller) Failback(ctx context.Context, reason string) error {
	endpoint, ok := c.config.Endpoints[c.config.PrimaryRegion]
	if !ok {
		return apperrors.NewFailoverAbortError("no endpoint configured for primary region", nil)
	}

	return c.state.WithLock(ctx, statestore.KeyFailoverState, func() error {
		state, err := c.State(ctx)
		if err != nil {
			return err
		}
		if err := state.Transition(record.PhaseFailingBack); err != nil {
			return apperrors.NewFailoverAbortError("failback is only possible while failed over", err)
		}
		if err := c.persist(ctx, state); err != nil {
			return err
		}

		if err := c.cutover(ctx, state.PrimaryRegion, endpoint); err != nil {
			// Stay failed over; the replica is still serving traffic
			if terr := state.Transition(record.PhaseFailedOver); terr != nil {
				return apperrors.NewStateError("failed to restore failed-over state after aborted failback", terr)
			}
			if perr := c.persist(ctx, state); perr != nil {
				return perr
			}
			return apperrors.NewFailoverAbortError("failback cutover failed", err)
		}

		now := time.Now().UTC()
		if err := state.Transition(record.PhaseStable); err != nil {
			return apperrors.NewStateError("failback state transition failed", err)
		}
		from := state.ActiveRegion
		state.ActiveRegion = state.PrimaryRegion
		state.LastFailoverAt = &now
		state.Reason = reason
		state.RefreshCooldown(now, c.config.Cooldown)
		if err := c.persist(ctx, state); err != nil {
			return err
		}

		c.monitor.SetPrimary(state.PrimaryRegion)
		c.logger.LogFailoverEvent(from, state.PrimaryRegion, reason, false)

		event := notify.NewEvent(notify.EventFailbackCompleted, notify.SeverityWarning,
			"Failback completed", fmt.Sprintf("traffic returned from %s to %s", from, state.PrimaryRegion))
		event.Target = state.PrimaryRegion
		event.Reason = reason
		if err := c.notifier.Notify(ctx, event); err != nil {
			c.logger.Errorf("Failed to notify operators of failback: %v", err)
		}
		return nil
	})
}

func (c *Controller) persist(ctx context.Context, state *record.FailoverState) error {
	err := c.state.Update(ctx, statestore.KeyFailoverState, func(raw json.RawMessage) (interface{}, error) {
		return state, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to persist failover state", err)
	}
	return nil
}
