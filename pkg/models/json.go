package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON decodes a TEXT/BLOB column into dst.
func scanJSON(value any, dst any, typeName string) error {
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for %s: %T", typeName, value)
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dst)
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSON(value, (*[]string)(s), "JSONStringSlice")
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return jsonValue([]string(s))
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, (*map[string]any)(m), "JSONAny")
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(map[string]any(m))
}

// Transitions maps a pipeline state to the signer identities its gate
// requires. A state with no entry uses the default gate.
type Transitions map[string][]string

// Scan implements the sql.Scanner interface for Transitions.
func (t *Transitions) Scan(value any) error {
	if value == nil {
		*t = nil
		return nil
	}
	return scanJSON(value, (*map[string][]string)(t), "Transitions")
}

// Value implements the driver.Valuer interface for Transitions.
func (t Transitions) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return jsonValue(map[string][]string(t))
}

// EnvOverrides holds tool environment overrides. A nil value removes the
// variable from the tool's environment.
type EnvOverrides map[string]*string

// Scan implements the sql.Scanner interface for EnvOverrides.
func (e *EnvOverrides) Scan(value any) error {
	if value == nil {
		*e = nil
		return nil
	}
	return scanJSON(value, (*map[string]*string)(e), "EnvOverrides")
}

// Value implements the driver.Valuer interface for EnvOverrides.
func (e EnvOverrides) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	return jsonValue(map[string]*string(e))
}

// Fingerprint is the chunked content digest of a file. Chunks holds one
// truncated BLAKE3 digest per 64 KiB chunk; Digest covers all of them.
type Fingerprint struct {
	Digest string   `json:"digest"`
	Chunks []string `json:"chunks"`
}

// IsZero reports whether no fingerprint has been recorded.
func (f Fingerprint) IsZero() bool { return f.Digest == "" }

// Scan implements the sql.Scanner interface for Fingerprint.
func (f *Fingerprint) Scan(value any) error {
	if value == nil {
		*f = Fingerprint{}
		return nil
	}
	type plain Fingerprint
	return scanJSON(value, (*plain)(f), "Fingerprint")
}

// Value implements the driver.Valuer interface for Fingerprint.
func (f Fingerprint) Value() (driver.Value, error) {
	if f.IsZero() {
		return nil, nil
	}
	type plain Fingerprint
	return jsonValue(plain(f))
}

// TriggerFilter narrows which events a rule fires on. Empty fields match
// everything; set fields are ANDed.
type TriggerFilter struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	FileType string `json:"file_type,omitempty" yaml:"file_type,omitempty"`
	Tag      string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Sign     string `json:"sign,omitempty" yaml:"sign,omitempty"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
}

// Scan implements the sql.Scanner interface for TriggerFilter.
func (f *TriggerFilter) Scan(value any) error {
	if value == nil {
		*f = TriggerFilter{}
		return nil
	}
	type plain TriggerFilter
	return scanJSON(value, (*plain)(f), "TriggerFilter")
}

// Value implements the driver.Valuer interface for TriggerFilter.
func (f TriggerFilter) Value() (driver.Value, error) {
	type plain TriggerFilter
	return jsonValue(plain(f))
}

// ActionParams parameterizes a rule action. Which fields matter depends on
// the action kind.
type ActionParams struct {
	Tool     string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Tag      string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
	Signer   string `json:"signer,omitempty" yaml:"signer,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Scan implements the sql.Scanner interface for ActionParams.
func (p *ActionParams) Scan(value any) error {
	if value == nil {
		*p = ActionParams{}
		return nil
	}
	type plain ActionParams
	return scanJSON(value, (*plain)(p), "ActionParams")
}

// Value implements the driver.Valuer interface for ActionParams.
func (p ActionParams) Value() (driver.Value, error) {
	type plain ActionParams
	return jsonValue(plain(p))
}
