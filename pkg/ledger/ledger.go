// pkg/ledger/ledger.go - error and warning bookkeeping for a single monitoring run.

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the ordinal classification attached to an error record.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{Critical, High, Medium, Low}

// String returns the upper-case name used in logs and reports.
func (s Severity) String() string {
	switch s {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Description is the human explanation printed next to a severity.
func (s Severity) Description() string {
	switch s {
	case Low:
		return "Minor issue - doesn't affect functionality"
	case Medium:
		return "Some features may be limited"
	case High:
		return "Critical functionality missing"
	case Critical:
		return "Installation failed"
	default:
		return ""
	}
}

// ParseSeverity converts a severity name back into its value.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	case "CRITICAL":
		return Critical, nil
	}
	return Low, fmt.Errorf("unknown severity %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ErrorRecord is one error observed during the run. Records are never changed
// after they are appended.
type ErrorRecord struct {
	ID         string    `json:"id" yaml:"id"`
	Category   string    `json:"category" yaml:"category"`
	Message    string    `json:"error" yaml:"error"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Suggestion string    `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	RetryCount int       `json:"retry_count" yaml:"retry_count"`
}

// WarningRecord is an advisory that never escalates into an error.
type WarningRecord struct {
	ID         string    `json:"id" yaml:"id"`
	Category   string    `json:"category" yaml:"category"`
	Message    string    `json:"warning" yaml:"warning"`
	Suggestion string    `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// Ledger accumulates errors, warnings and per-category retry counters.
// One Ledger is created per run and handed to every component that records
// into it; it is not safe for concurrent use.
type Ledger struct {
	errors   []ErrorRecord
	warnings []WarningRecord
	retries  map[string]int

	now func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		retries: make(map[string]int),
		now:     time.Now,
	}
}

// SetClock replaces the timestamp source.
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// AddError appends an error record. The severity is taken as given.
func (l *Ledger) AddError(category, message string, severity Severity, suggestion string) ErrorRecord {
	rec := ErrorRecord{
		ID:         uuid.NewString(),
		Category:   category,
		Message:    message,
		Severity:   severity,
		Suggestion: suggestion,
		Timestamp:  l.now(),
		RetryCount: l.retries[category],
	}
	l.errors = append(l.errors, rec)
	return rec
}

// AddWarning appends a warning record.
func (l *Ledger) AddWarning(category, message, suggestion string) WarningRecord {
	rec := WarningRecord{
		ID:         uuid.NewString(),
		Category:   category,
		Message:    message,
		Suggestion: suggestion,
		Timestamp:  l.now(),
	}
	l.warnings = append(l.warnings, rec)
	return rec
}

// IncrementRetry bumps the retry counter for category.
func (l *Ledger) IncrementRetry(category string) {
	l.retries[category]++
}

// RetryCount returns the retry counter for category.
func (l *Ledger) RetryCount(category string) int {
	return l.retries[category]
}

// Errors returns a copy of the recorded errors in insertion order.
func (l *Ledger) Errors() []ErrorRecord {
	out := make([]ErrorRecord, len(l.errors))
	copy(out, l.errors)
	return out
}

// Warnings returns a copy of the recorded warnings in insertion order.
func (l *Ledger) Warnings() []WarningRecord {
	out := make([]WarningRecord, len(l.warnings))
	copy(out, l.warnings)
	return out
}

// CountBySeverity tallies errors per severity.
func (l *Ledger) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, e := range l.errors {
		counts[e.Severity]++
	}
	return counts
}

// CountByCategory tallies errors per category.
func (l *Ledger) CountByCategory() map[string]int {
	counts := make(map[string]int)
	for _, e := range l.errors {
		counts[e.Category]++
	}
	return counts
}

// Categories returns the distinct error categories in first-appearance order.
func (l *Ledger) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range l.errors {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// HasErrorCategory reports whether any error category contains substr.
func (l *Ledger) HasErrorCategory(substr string) bool {
	for _, e := range l.errors {
		if strings.Contains(e.Category, substr) {
			return true
		}
	}
	return false
}

// HasWarningCategory reports whether any warning category contains substr.
func (l *Ledger) HasWarningCategory(substr string) bool {
	for _, w := range l.warnings {
		if strings.Contains(w.Category, substr) {
			return true
		}
	}
	return false
}

// Serious returns the HIGH and CRITICAL errors in insertion order.
func (l *Ledger) Serious() []ErrorRecord {
	var out []ErrorRecord
	for _, e := range l.errors {
		if e.Severity >= High {
			out = append(out, e)
		}
	}
	return out
}
