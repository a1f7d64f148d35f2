package validation

import (
	"time"

	"drguard/internal/record"
)

// TestStatus is the outcome of one validation test
type TestStatus string

const (
	TestPassed  TestStatus = "pass"
	TestFailed  TestStatus = "fail"
	TestWarning TestStatus = "warning"
	TestSkipped TestStatus = "skip"
)

// TestResult records one validation test independently of the others
type TestResult struct {
	Name     string        `json:"name"`
	Status   TestStatus    `json:"status"`
	Required bool          `json:"required"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the full outcome of validating one backup
type Report struct {
	BackupID       string                  `json:"backup_id"`
	Verdict        record.ValidationStatus `json:"verdict"`
	Results        []TestResult            `json:"results"`
	StartedAt      time.Time               `json:"started_at"`
	Duration       time.Duration           `json:"duration_ns"`
	FullValidation bool                    `json:"full_validation"`
	RTOTarget      time.Duration           `json:"rto_target_ns"`
	RTOCompliant   bool                    `json:"rto_compliant"`
}

// add records a test result
func (r *Report) add(result TestResult) {
	r.Results = append(r.Results, result)
}

// computeVerdict derives the overall verdict from the individual tests.
// Any required failure means failed; warnings alone downgrade to warning.
func (r *Report) computeVerdict() {
	verdict := record.ValidationPassed
	for _, result := range r.Results {
		if result.Status == TestFailed && result.Required {
			r.Verdict = record.ValidationFailed
			return
		}
		if result.Status == TestFailed || result.Status == TestWarning {
			verdict = record.ValidationWarning
		}
	}
	r.Verdict = verdict
}

// Result returns the named test result, if present
func (r *Report) Result(name string) *TestResult {
	for i := range r.Results {
		if r.Results[i].Name == name {
			return &r.Results[i]
		}
	}
	return nil
}
