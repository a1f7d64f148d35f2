package record

import "fmt"

// ValidationStatus reflects the latest validation verdict for a backup
type ValidationStatus string

const (
	ValidationUntested ValidationStatus = "untested"
	ValidationPassed   ValidationStatus = "passed"
	ValidationFailed   ValidationStatus = "failed"
	ValidationWarning  ValidationStatus = "warning"
)

// validationTransitions lists the allowed status moves. A verdict can be
// re-issued in any direction once the backup has been tested at least once.
var validationTransitions = map[ValidationStatus][]ValidationStatus{
	ValidationUntested: {ValidationPassed, ValidationFailed, ValidationWarning},
	ValidationPassed:   {ValidationPassed, ValidationFailed, ValidationWarning},
	ValidationFailed:   {ValidationPassed, ValidationFailed, ValidationWarning},
	ValidationWarning:  {ValidationPassed, ValidationFailed, ValidationWarning},
}

// IsValid reports whether s is a known validation status
func (s ValidationStatus) IsValid() bool {
	_, ok := validationTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s ValidationStatus) CanTransitionTo(next ValidationStatus) bool {
	for _, allowed := range validationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SetValidationStatus applies a verdict transition, rejecting moves the
// status machine does not allow
func (r *BackupRecord) SetValidationStatus(next ValidationStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("unknown validation status %q", next)
	}
	if !r.ValidationStatus.CanTransitionTo(next) {
		return fmt.Errorf("invalid validation status transition %s -> %s for backup %s",
			r.ValidationStatus, next, r.ID)
	}
	r.ValidationStatus = next
	return nil
}
