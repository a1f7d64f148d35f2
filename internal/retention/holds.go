package retention

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/statestore"
)

// HoldService manages the legal hold registry. Holds are append-only:
// creation and release both add audit entries, and released holds stay
// in the registry permanently.
type HoldService struct {
	logger   *logging.Logger
	state    statestore.Store
	notifier *notify.Notifier
}

// NewHoldService creates a hold service
func NewHoldService(logger *logging.Logger, state statestore.Store, notifier *notify.Notifier) *HoldService {
	return &HoldService{logger: logger, state: state, notifier: notifier}
}

// Create registers a new active hold
func (hs *HoldService) Create(ctx context.Context, name, reason, actor string, criteria record.HoldCriteria) (*record.LegalHold, error) {
	if name == "" || reason == "" {
		return nil, apperrors.NewValidationError("legal holds require a name and a reason", nil)
	}
	if len(criteria.BackupIDs) == 0 && criteria.CreatedAfter == nil && criteria.CreatedBefore == nil && criteria.Classification == nil {
		return nil, apperrors.NewValidationError("legal hold criteria must select at least one dimension", nil)
	}
	if criteria.Classification != nil && !criteria.Classification.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown classification level %q", *criteria.Classification), nil)
	}

	hold := record.NewLegalHold(name, reason, actor, criteria)
	if err := hs.mutateRegistry(ctx, func(registry *record.LegalHoldRegistry) error {
		registry.Put(hold)
		return nil
	}); err != nil {
		return nil, err
	}

	hs.logger.WithFields(map[string]interface{}{
		"hold_id": hold.ID,
		"name":    name,
		"actor":   actor,
	}).Info("Legal hold created")

	event := notify.NewEvent(notify.EventLegalHoldChanged, notify.SeverityWarning,
		"Legal hold created", fmt.Sprintf("hold %q now blocks deletion of matching backups: %s", name, reason))
	event.Target = hold.ID
	if err := hs.notifier.Notify(ctx, event); err != nil {
		hs.logger.Errorf("Failed to notify operators of hold creation: %v", err)
	}
	return hold, nil
}

// Release deactivates the hold. The hold record and its audit trail
// remain in the registry.
func (hs *HoldService) Release(ctx context.Context, holdID, actor, reason string) (*record.LegalHold, error) {
	var released *record.LegalHold
	err := hs.mutateRegistry(ctx, func(registry *record.LegalHoldRegistry) error {
		hold := registry.Get(holdID)
		if hold == nil {
			return apperrors.NewNotFoundError("legal hold "+holdID+" does not exist", nil)
		}
		if !hold.IsActive() {
			return apperrors.NewValidationError("legal hold "+holdID+" is already released", nil)
		}
		hold.Release(actor, reason)
		released = hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	hs.logger.WithFields(map[string]interface{}{
		"hold_id": holdID,
		"actor":   actor,
	}).Info("Legal hold released")

	event := notify.NewEvent(notify.EventLegalHoldChanged, notify.SeverityWarning,
		"Legal hold released", fmt.Sprintf("hold %q no longer blocks deletion: %s", released.Name, reason))
	event.Target = holdID
	if err := hs.notifier.Notify(ctx, event); err != nil {
		hs.logger.Errorf("Failed to notify operators of hold release: %v", err)
	}
	return released, nil
}

// Get returns one hold by ID
func (hs *HoldService) Get(ctx context.Context, holdID string) (*record.LegalHold, error) {
	registry, err := hs.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	hold := registry.Get(holdID)
	if hold == nil {
		return nil, apperrors.NewNotFoundError("legal hold "+holdID+" does not exist", nil)
	}
	return hold, nil
}

// List returns all holds, active and released, oldest first
func (hs *HoldService) List(ctx context.Context) ([]*record.LegalHold, error) {
	registry, err := hs.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return registry.Sorted(), nil
}

func (hs *HoldService) loadRegistry(ctx context.Context) (*record.LegalHoldRegistry, error) {
	registry := record.NewLegalHoldRegistry()
	err := hs.state.Load(ctx, statestore.KeyLegalHolds, registry)
	if err != nil && err != statestore.ErrNotFound {
		return nil, apperrors.NewStateError("failed to load legal hold registry", err)
	}
	return registry, nil
}

// mutateRegistry applies fn under the same section lock the retention
// deletion pass holds for its hold-check-then-destroy sequence. A hold
// created while a deletion is in flight waits for the deletion to finish
// rather than landing between the check and the destruction.
func (hs *HoldService) mutateRegistry(ctx context.Context, fn func(*record.LegalHoldRegistry) error) error {
	err := hs.state.WithLock(ctx, statestore.KeyLegalHolds, func() error {
		return hs.state.Update(ctx, statestore.KeyLegalHolds, func(raw json.RawMessage) (interface{}, error) {
			registry := record.NewLegalHoldRegistry()
			if raw != nil {
				if err := json.Unmarshal(raw, registry); err != nil {
					return nil, err
				}
			}
			if err := fn(registry); err != nil {
				return nil, err
			}
			return registry, nil
		})
	})
	if err != nil {
		if drErr, ok := err.(*apperrors.DRError); ok {
			return drErr
		}
		return apperrors.NewStateError("failed to update legal hold registry", err)
	}
	return nil
}
