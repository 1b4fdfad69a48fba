// pkg/steplog/steplog.go - append-only record of the steps a run went through.

package steplog

import (
	"time"

	"github.com/windowsadmins/installwatch/pkg/logging"
)

// Status is the state reported for a step.
type Status string

const (
	Running Status = "RUNNING"
	Success Status = "SUCCESS"
	Warning Status = "WARNING"
	Failed  Status = "FAILED"
)

// Step is a single entry. A step name may recur; every occurrence is a new entry.
type Step struct {
	Name      string    `json:"name" yaml:"name"`
	Status    Status    `json:"status" yaml:"status"`
	Detail    string    `json:"details,omitempty" yaml:"details,omitempty"`
	Attempt   int       `json:"attempt" yaml:"attempt"`
	Timestamp time.Time `json:"time" yaml:"time"`
}

// Log holds steps in insertion order. It is not safe for concurrent use.
type Log struct {
	steps []Step
	now   func() time.Time
}

// New returns an empty step log.
func New() *Log {
	return &Log{now: time.Now}
}

// SetClock replaces the timestamp source.
func (l *Log) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Append records a step and mirrors it to the audit log. Attempts below 1 are
// stored as 1.
func (l *Log) Append(name string, status Status, detail string, attempt int) Step {
	if attempt < 1 {
		attempt = 1
	}
	step := Step{
		Name:      name,
		Status:    status,
		Detail:    detail,
		Attempt:   attempt,
		Timestamp: l.now(),
	}
	l.steps = append(l.steps, step)

	logging.Info(string(status)+": "+name, "attempt", attempt, "details", detail)
	return step
}

// Start is shorthand for appending a RUNNING step for attempt 1.
func (l *Log) Start(name string) Step {
	return l.Append(name, Running, "", 1)
}

// Steps returns a copy of every recorded step.
func (l *Log) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of recorded steps.
func (l *Log) Len() int {
	return len(l.steps)
}

// Count returns how many steps carry the given status.
func (l *Log) Count(status Status) int {
	n := 0
	for _, s := range l.steps {
		if s.Status == status {
			n++
		}
	}
	return n
}
