package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
	"drguard/internal/retention"
)

// policySchema validates operator-supplied retention policy documents
// before they override the built-in classifier policies.
const policySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "sample_bytes": {"type": "integer", "minimum": 1024},
    "defaults": {"$ref": "#/definitions/policy"},
    "frameworks": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "gdpr": {"$ref": "#/definitions/policy"},
        "sox": {"$ref": "#/definitions/policy"},
        "hipaa": {"$ref": "#/definitions/policy"}
      }
    }
  },
  "definitions": {
    "policy": {
      "type": "object",
      "additionalProperties": false,
      "required": ["retention_days"],
      "properties": {
        "retention_days": {"type": "integer", "minimum": 1},
        "archive_after_days": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// PolicyDocument is a parsed retention policy override file
type PolicyDocument struct {
	SampleBytes int64                       `json:"sample_bytes,omitempty"`
	Defaults    *retention.Policy           `json:"defaults,omitempty"`
	Frameworks  map[string]retention.Policy `json:"frameworks,omitempty"`
}

// ValidatePolicy checks a policy document against the schema
func ValidatePolicy(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(policySchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return apperrors.NewConfigurationError("failed to validate retention policy", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return apperrors.NewConfigurationError(
			fmt.Sprintf("invalid retention policy: %s", strings.Join(problems, "; ")), nil)
	}
	return nil
}

// LoadPolicyFile reads and validates a retention policy JSON file
func LoadPolicyFile(path string) (*PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to read retention policy "+path, err)
	}
	if err := ValidatePolicy(data); err != nil {
		return nil, err
	}
	doc := &PolicyDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse retention policy "+path, err)
	}
	return doc, nil
}

// ApplyTo overlays the document onto a classifier configuration.
// Unset fields keep the configured values.
func (d *PolicyDocument) ApplyTo(cfg *retention.ClassifierConfig) {
	if d.SampleBytes > 0 {
		cfg.SampleBytes = d.SampleBytes
	}
	if d.Defaults != nil {
		cfg.Defaults = *d.Defaults
	}
	if len(d.Frameworks) > 0 {
		if cfg.Frameworks == nil {
			cfg.Frameworks = make(map[record.Framework]retention.Policy, len(d.Frameworks))
		}
		for name, policy := range d.Frameworks {
			cfg.Frameworks[record.Framework(name)] = policy
		}
	}
}
