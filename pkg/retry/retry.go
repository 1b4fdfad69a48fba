// pkg/retry/retry.go - supervised installer attempts with constant-backoff retries.

package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/process"
	"github.com/windowsadmins/installwatch/pkg/steplog"
)

// Category is the ledger category every installer attempt is recorded under.
const Category = "Installer Execution"

const (
	DefaultMaxAttempts    = 3
	DefaultPollInterval   = time.Second
	DefaultHeartbeatEvery = 30
	DefaultRetryDelay     = 5 * time.Second
)

// AttemptOutcome classifies how an attempt ended.
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "SUCCESS"
	OutcomeNonzeroExit AttemptOutcome = "NONZERO_EXIT"
	OutcomeTimeout     AttemptOutcome = "TIMEOUT"
	OutcomeCrash       AttemptOutcome = "CRASH"
)

// Attempt is the result of one installer run.
type Attempt struct {
	Number   int
	PID      int // zero when the launch itself failed
	ExitCode *int
	Outcome  AttemptOutcome
	Err      error
	Duration time.Duration
}

// Outcome is what Run reports back to the orchestrator.
type Outcome struct {
	Success      bool
	AttemptsUsed int
	Attempts     []Attempt
	// Interrupted is set when the context was cancelled and the remaining
	// attempts were skipped.
	Interrupted bool
}

// Last returns the final attempt, or nil when nothing ran.
func (o Outcome) Last() *Attempt {
	if len(o.Attempts) == 0 {
		return nil
	}
	return &o.Attempts[len(o.Attempts)-1]
}

// Heartbeat is emitted periodically while an attempt is still running.
type Heartbeat struct {
	Attempt int
	Elapsed time.Duration
	PID     int
	Stats   process.Stats
}

// Runner drives the attempt state machine for one installer.
type Runner struct {
	Ledger   *ledger.Ledger
	Steps    *steplog.Log
	Launcher process.Launcher

	InstallerPath string
	WorkDir       string

	PollInterval   time.Duration
	HeartbeatEvery int
	RetryDelay     time.Duration
	KillOnTimeout  bool

	// Sleep and Sample are replaceable so the loop can run without a wall clock
	// or a real process table.
	Sleep  func(time.Duration)
	Sample func(pid int) (process.Stats, error)

	// OnHeartbeat is called after each heartbeat is logged.
	OnHeartbeat func(Heartbeat)
}

// NewRunner returns a Runner with default polling and backoff settings.
func NewRunner(l *ledger.Ledger, steps *steplog.Log, launcher process.Launcher, installerPath, workDir string) *Runner {
	return &Runner{
		Ledger:         l,
		Steps:          steps,
		Launcher:       launcher,
		InstallerPath:  installerPath,
		WorkDir:        workDir,
		PollInterval:   DefaultPollInterval,
		HeartbeatEvery: DefaultHeartbeatEvery,
		RetryDelay:     DefaultRetryDelay,
		KillOnTimeout:  true,
		Sleep:          time.Sleep,
		Sample:         process.Sample,
	}
}

// Run executes the installer up to maxAttempts times, stopping at the first
// attempt that exits with code 0. Failures are recorded in the ledger and the
// step log; they never surface as errors.
func (r *Runner) Run(maxAttempts int, timeout time.Duration) Outcome {
	return r.RunContext(context.Background(), maxAttempts, timeout)
}

// RunContext is Run with interrupt handling. A running attempt is never
// cancelled; once ctx is done no further attempt or backoff starts.
func (r *Runner) RunContext(ctx context.Context, maxAttempts int, timeout time.Duration) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var outcome Outcome
	for n := 1; n <= maxAttempts; n++ {
		if ctx.Err() != nil {
			r.recordInterrupt(&outcome, n, maxAttempts)
			return outcome
		}
		r.Ledger.IncrementRetry(Category)
		stepName := fmt.Sprintf("Run installer - Attempt %d", n)
		r.Steps.Append(stepName, steplog.Running, "", n)

		attempt := r.runAttempt(ctx, n, maxAttempts, timeout)
		outcome.Attempts = append(outcome.Attempts, attempt)
		outcome.AttemptsUsed = n

		if attempt.Outcome == OutcomeSuccess {
			r.Steps.Append(stepName, steplog.Success, fmt.Sprintf("Completed on attempt %d", n), n)
			logging.LogAttemptComplete(n, attempt.Duration)
			outcome.Success = true
			return outcome
		}

		r.recordFailure(stepName, attempt, maxAttempts)
		if n < maxAttempts && ctx.Err() != nil {
			r.recordInterrupt(&outcome, n+1, maxAttempts)
			return outcome
		}
		if n < maxAttempts {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("Attempt %d/%d failed: %s. Retrying in %s...",
					n, maxAttempts, attempt.Outcome, r.RetryDelay),
				map[string]interface{}{
					"attempt":      n,
					"max_attempts": maxAttempts,
					"retry_delay":  r.RetryDelay.String(),
				})
			r.sleep(r.RetryDelay)
		} else {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("Attempt %d/%d failed: %s. No more retries.",
					n, maxAttempts, attempt.Outcome),
				map[string]interface{}{
					"attempt":       n,
					"max_attempts":  maxAttempts,
					"final_failure": true,
				})
		}
	}
	return outcome
}

// recordInterrupt marks the outcome interrupted before attempt next would start.
func (r *Runner) recordInterrupt(outcome *Outcome, next, maxAttempts int) {
	outcome.Interrupted = true
	skipped := maxAttempts - next + 1
	logging.Warn("Interrupt received; remaining attempts skipped", "next_attempt", next, "skipped", skipped)
	r.Ledger.AddWarning(Category,
		fmt.Sprintf("Interrupted before attempt %d; %d attempt(s) skipped", next, skipped),
		"Run installwatch again to retry the installer")
}

func (r *Runner) runAttempt(ctx context.Context, n, maxAttempts int, timeout time.Duration) Attempt {
	attempt := Attempt{Number: n}

	command := r.InstallerPath
	if r.Launcher != nil {
		command = strings.Join(r.Launcher.CommandLine(r.InstallerPath), " ")
	}
	logging.LogAttemptStart(n, maxAttempts, command)

	if r.Launcher == nil {
		attempt.Outcome = OutcomeCrash
		attempt.Err = fmt.Errorf("no launcher configured")
		return attempt
	}
	proc, err := r.Launcher.Launch(r.InstallerPath, r.WorkDir)
	if err != nil {
		attempt.Outcome = OutcomeCrash
		attempt.Err = err
		return attempt
	}
	attempt.PID = proc.Pid()

	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	every := r.HeartbeatEvery
	if every <= 0 {
		every = DefaultHeartbeatEvery
	}
	maxPolls := int(timeout / poll)
	if maxPolls < 1 {
		maxPolls = 1
	}

	deferredLogged := false
	for i := 0; i <= maxPolls; i++ {
		if !deferredLogged && ctx.Err() != nil {
			logging.Warn("Interrupt received; waiting for the current attempt to finish", "attempt", n, "pid", attempt.PID)
			deferredLogged = true
		}
		if done, code, waitErr := proc.Exited(); done {
			attempt.Duration = time.Duration(i) * poll
			if waitErr != nil {
				attempt.Outcome = OutcomeCrash
				attempt.Err = waitErr
				return attempt
			}
			attempt.ExitCode = &code
			if code == 0 {
				attempt.Outcome = OutcomeSuccess
			} else {
				attempt.Outcome = OutcomeNonzeroExit
			}
			return attempt
		}
		if i == maxPolls {
			break
		}
		if i > 0 && i%every == 0 {
			r.heartbeat(n, time.Duration(i)*poll, proc.Pid())
		}
		r.sleep(poll)
	}

	attempt.Outcome = OutcomeTimeout
	attempt.Duration = timeout
	if r.KillOnTimeout {
		if err := proc.Terminate(); err != nil {
			logging.Warn("Failed to terminate timed-out installer", "attempt", n, "pid", proc.Pid(), "error", err)
		}
	} else {
		logging.Warn("Timed-out installer left running", "attempt", n, "pid", proc.Pid())
	}
	return attempt
}

func (r *Runner) heartbeat(attempt int, elapsed time.Duration, pid int) {
	hb := Heartbeat{Attempt: attempt, Elapsed: elapsed, PID: pid}
	if r.Sample != nil {
		if stats, err := r.Sample(pid); err == nil {
			hb.Stats = stats
		}
	}

	logging.Info(fmt.Sprintf("Installer running... (%ds, attempt %d)", int(elapsed.Seconds()), attempt),
		"pid", pid, "rss_bytes", hb.Stats.RSSBytes, "children", hb.Stats.Children)
	logging.LogAttemptProgress(attempt, elapsed, pid)

	if r.OnHeartbeat != nil {
		r.OnHeartbeat(hb)
	}
}

func (r *Runner) recordFailure(stepName string, attempt Attempt, maxAttempts int) {
	n := attempt.Number

	var detail, message string
	switch {
	case attempt.Outcome == OutcomeNonzeroExit:
		detail = fmt.Sprintf("Exit code: %d", *attempt.ExitCode)
		message = fmt.Sprintf("Attempt %d failed: %s", n, detail)
	case attempt.Outcome == OutcomeTimeout:
		detail = fmt.Sprintf("Timed out after %s", attempt.Duration)
		message = fmt.Sprintf("Attempt %d failed: %s", n, detail)
	case attempt.PID != 0:
		detail = fmt.Sprintf("Wait failed: %v", attempt.Err)
		message = fmt.Sprintf("Attempt %d crashed: %v", n, attempt.Err)
	default:
		detail = fmt.Sprintf("Launch failed: %v", attempt.Err)
		message = fmt.Sprintf("Attempt %d crashed: %v", n, attempt.Err)
	}
	r.Steps.Append(stepName, steplog.Failed, detail, n)

	severity := ledger.Medium
	suggestion := fmt.Sprintf("Retrying... (%d/%d)", n, maxAttempts)
	if n >= maxAttempts {
		severity = ledger.High
		suggestion = "All retries exhausted"
	}
	r.Ledger.AddError(Category, message, severity, suggestion)

	logging.LogAttemptFailed(n, string(attempt.Outcome), attempt.Duration, attempt.Err)
}

func (r *Runner) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if r.Sleep != nil {
		r.Sleep(d)
		return
	}
	time.Sleep(d)
}
