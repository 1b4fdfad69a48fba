// pkg/logging/helpers.go - package-level helpers for common monitoring events

package logging

import (
	"fmt"
	"time"
)

// Event writes a structured event through the package-level logger. It is a
// no-op when logging has not been initialised.
func Event(eventType, action, status, message string, opts ...EventOption) error {
	l := current()
	if l == nil {
		return nil
	}
	return l.LogEvent(eventType, action, status, message, opts...)
}

// LogAttemptStart logs the launch of an installer attempt.
func LogAttemptStart(attempt, maxAttempts int, command string) error {
	return Event("installer", "start", "started",
		fmt.Sprintf("Starting installer attempt %d/%d", attempt, maxAttempts),
		WithAttempt(attempt),
		WithContext("command", command))
}

// LogAttemptProgress logs a heartbeat while an attempt is running.
func LogAttemptProgress(attempt int, elapsed time.Duration, pid int) error {
	return Event("installer", "progress", "running",
		fmt.Sprintf("Installer running... (%s, attempt %d)", elapsed, attempt),
		WithAttempt(attempt),
		WithDuration(elapsed),
		WithContext("pid", pid),
		WithLevel("DEBUG"))
}

// LogAttemptComplete logs a successful attempt.
func LogAttemptComplete(attempt int, duration time.Duration) error {
	return Event("installer", "complete", "completed",
		fmt.Sprintf("Installer completed successfully on attempt %d", attempt),
		WithAttempt(attempt),
		WithDuration(duration))
}

// LogAttemptFailed logs a failed attempt with its classified outcome.
func LogAttemptFailed(attempt int, outcome string, duration time.Duration, err error) error {
	return Event("installer", "complete", "failed",
		fmt.Sprintf("Installer attempt %d failed: %s", attempt, outcome),
		WithAttempt(attempt),
		WithDuration(duration),
		WithError(err),
		WithContext("outcome", outcome),
		WithLevel("ERROR"))
}

// LogVerificationEvent logs the result of the install tree verification.
func LogVerificationEvent(status string, found, missing, empty int, totalBytes int64) error {
	return Event("verification", "verify", status,
		fmt.Sprintf("Installation Analysis: %d found, %d missing, %d empty", found, missing, empty),
		WithContext("found", found),
		WithContext("missing", missing),
		WithContext("empty", empty),
		WithContext("install_size_bytes", totalBytes))
}

// LogHookEvent logs a preflight or postflight hook run.
func LogHookEvent(hook, status, message string, duration time.Duration, err error) error {
	opts := []EventOption{WithDuration(duration)}
	if err != nil {
		opts = append(opts, WithError(err), WithLevel("ERROR"))
	}
	return Event(hook, "execute", status, message, opts...)
}

// LogSessionEvent logs session start/end markers.
func LogSessionEvent(action, status, message string, context map[string]interface{}) error {
	opts := make([]EventOption, 0, len(context))
	for k, v := range context {
		opts = append(opts, WithContext(k, v))
	}
	return Event("session", action, status, message, opts...)
}
