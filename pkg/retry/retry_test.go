package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/process"
	"github.com/windowsadmins/installwatch/pkg/steplog"
)

// fakeProcess exits with code after polls calls to Exited; polls < 0 never exits.
type fakeProcess struct {
	pid        int
	code       int
	waitErr    error
	polls      int
	seen       int
	terminated bool
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Exited() (bool, int, error) {
	if p.terminated {
		return true, -1, nil
	}
	if p.polls < 0 || p.seen < p.polls {
		p.seen++
		return false, 0, nil
	}
	return true, p.code, p.waitErr
}

func (p *fakeProcess) Terminate() error {
	p.terminated = true
	return nil
}

// fakeLauncher hands out scripted processes (or launch errors) in order.
type fakeLauncher struct {
	procs    []*fakeProcess
	errs     []error
	launches int
}

func (l *fakeLauncher) CommandLine(path string) []string { return []string{"sh", path} }

func (l *fakeLauncher) Launch(path, dir string) (process.Process, error) {
	i := l.launches
	l.launches++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	return l.procs[i], nil
}

func newTestRunner(launcher *fakeLauncher) (*Runner, *[]time.Duration) {
	var slept []time.Duration
	r := NewRunner(ledger.New(), steplog.New(), launcher, "install.bat", ".")
	r.Sleep = func(d time.Duration) { slept = append(slept, d) }
	r.Sample = func(int) (process.Stats, error) { return process.Stats{}, errors.New("no process table") }
	return r, &slept
}

func exits(codes ...int) *fakeLauncher {
	l := &fakeLauncher{}
	for i, c := range codes {
		l.procs = append(l.procs, &fakeProcess{pid: 100 + i, code: c})
	}
	return l
}

func TestRun_AllAttemptsFail(t *testing.T) {
	r, slept := newTestRunner(exits(1, 1, 1))

	out := r.Run(3, 10*time.Second)

	assert.False(t, out.Success)
	assert.Equal(t, 3, out.AttemptsUsed)
	require.Len(t, out.Attempts, 3)
	for _, a := range out.Attempts {
		assert.Equal(t, OutcomeNonzeroExit, a.Outcome)
		require.NotNil(t, a.ExitCode)
		assert.Equal(t, 1, *a.ExitCode)
	}

	steps := r.Steps.Steps()
	require.Len(t, steps, 6)
	assert.Equal(t, 3, r.Steps.Count(steplog.Failed))
	assert.Equal(t, 3, r.Steps.Count(steplog.Running))
	last := steps[len(steps)-1]
	assert.Equal(t, steplog.Failed, last.Status)
	assert.Equal(t, "Run installer - Attempt 3", last.Name)
	assert.Equal(t, "Exit code: 1", last.Detail)
	assert.Equal(t, 3, last.Attempt)

	errs := r.Ledger.Errors()
	require.Len(t, errs, 3)
	assert.Equal(t, ledger.Medium, errs[0].Severity)
	assert.Equal(t, "Retrying... (1/3)", errs[0].Suggestion)
	assert.Equal(t, ledger.High, errs[2].Severity)
	assert.Equal(t, "All retries exhausted", errs[2].Suggestion)
	assert.Equal(t, "Attempt 3 failed: Exit code: 1", errs[2].Message)

	// constant backoff between attempts, none after the last
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, *slept)
}

func TestRun_StopsAtFirstSuccess(t *testing.T) {
	launcher := exits(1, 0, 0)
	r, _ := newTestRunner(launcher)

	out := r.Run(3, 10*time.Second)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.AttemptsUsed)
	assert.Equal(t, 2, launcher.launches)

	steps := r.Steps.Steps()
	last := steps[len(steps)-1]
	assert.Equal(t, steplog.Success, last.Status)
	assert.Equal(t, "Completed on attempt 2", last.Detail)
	assert.Equal(t, 2, last.Attempt)
	assert.Len(t, r.Ledger.Errors(), 1)
}

func TestRun_RetryCounterMatchesRunningSteps(t *testing.T) {
	r, _ := newTestRunner(exits(2, 2, 0))
	r.Ledger.AddError(Category, "recorded before any attempt", ledger.Low, "")

	r.Run(3, 10*time.Second)

	assert.Equal(t, r.Steps.Count(steplog.Running), r.Ledger.RetryCount(Category))
	assert.Equal(t, 3, r.Ledger.RetryCount(Category))

	// each record captures the counter of the attempt it describes
	errs := r.Ledger.Errors()
	require.Len(t, errs, 3)
	assert.Equal(t, 0, errs[0].RetryCount)
	assert.Equal(t, 1, errs[1].RetryCount)
	assert.Equal(t, 2, errs[2].RetryCount)
}

func TestRun_TimeoutIsOneAttempt(t *testing.T) {
	hung := &fakeProcess{pid: 42, polls: -1}
	launcher := &fakeLauncher{procs: []*fakeProcess{hung}}
	r, slept := newTestRunner(launcher)
	r.HeartbeatEvery = 3

	var beats []Heartbeat
	r.OnHeartbeat = func(hb Heartbeat) { beats = append(beats, hb) }

	out := r.Run(1, 10*time.Second)

	assert.False(t, out.Success)
	assert.Equal(t, 1, out.AttemptsUsed)
	assert.Equal(t, OutcomeTimeout, out.Attempts[0].Outcome)
	assert.Nil(t, out.Attempts[0].ExitCode)
	assert.True(t, hung.terminated)

	assert.Len(t, *slept, 10)
	require.Len(t, beats, 3)
	assert.Equal(t, 3*time.Second, beats[0].Elapsed)
	assert.Equal(t, 42, beats[0].PID)

	errs := r.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, ledger.High, errs[0].Severity)
	assert.Contains(t, errs[0].Message, "Timed out after 10s")
}

func TestRun_TimeoutWithoutKill(t *testing.T) {
	hung := &fakeProcess{pid: 7, polls: -1}
	r, _ := newTestRunner(&fakeLauncher{procs: []*fakeProcess{hung}})
	r.KillOnTimeout = false

	r.Run(1, 2*time.Second)
	assert.False(t, hung.terminated)
}

func TestRun_LaunchErrorIsCrash(t *testing.T) {
	launcher := exits(0, 0)
	launcher.errs = []error{errors.New("file not found")}
	r, _ := newTestRunner(launcher)

	out := r.Run(2, 5*time.Second)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.AttemptsUsed)
	assert.Equal(t, OutcomeCrash, out.Attempts[0].Outcome)
	assert.EqualError(t, out.Attempts[0].Err, "file not found")

	errs := r.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Attempt 1 crashed: file not found", errs[0].Message)

	steps := r.Steps.Steps()
	assert.Equal(t, "Launch failed: file not found", steps[1].Detail)
}

func TestRun_WaitErrorIsCrash(t *testing.T) {
	launcher := &fakeLauncher{procs: []*fakeProcess{{pid: 1, waitErr: errors.New("wait failed")}}}
	r, _ := newTestRunner(launcher)

	out := r.Run(1, time.Second)
	assert.Equal(t, OutcomeCrash, out.Last().Outcome)
	assert.Equal(t, 1, out.Last().PID)

	steps := r.Steps.Steps()
	assert.Equal(t, "Wait failed: wait failed", steps[len(steps)-1].Detail)
	assert.Equal(t, "Attempt 1 crashed: wait failed", r.Ledger.Errors()[0].Message)
}

func TestRun_NonPositiveAttemptsUsesDefault(t *testing.T) {
	launcher := exits(1, 1, 1, 1)
	r, _ := newTestRunner(launcher)

	out := r.Run(0, time.Second)
	assert.Equal(t, DefaultMaxAttempts, out.AttemptsUsed)
	assert.Equal(t, DefaultMaxAttempts, launcher.launches)
}

func TestRun_SlowSuccessWithinTimeout(t *testing.T) {
	launcher := &fakeLauncher{procs: []*fakeProcess{{pid: 5, polls: 4, code: 0}}}
	r, slept := newTestRunner(launcher)

	out := r.Run(3, 10*time.Second)

	assert.True(t, out.Success)
	assert.Equal(t, 4*time.Second, out.Attempts[0].Duration)
	assert.Len(t, *slept, 4)
}

// cancelOnLaunch cancels the run context when the first process is handed out.
type cancelOnLaunch struct {
	*fakeLauncher
	cancel context.CancelFunc
}

func (l *cancelOnLaunch) Launch(path, dir string) (process.Process, error) {
	l.cancel()
	return l.fakeLauncher.Launch(path, dir)
}

func TestRunContext_InterruptSkipsRemainingAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := exits(1, 1, 1)
	launcher := &cancelOnLaunch{fakeLauncher: inner, cancel: cancel}

	r := NewRunner(ledger.New(), steplog.New(), launcher, "install.bat", ".")
	var slept []time.Duration
	r.Sleep = func(d time.Duration) { slept = append(slept, d) }

	out := r.RunContext(ctx, 3, 10*time.Second)

	assert.False(t, out.Success)
	assert.True(t, out.Interrupted)
	assert.Equal(t, 1, out.AttemptsUsed)
	assert.Equal(t, 1, inner.launches)
	assert.Empty(t, slept, "no backoff after an interrupt")
	assert.Equal(t, 1, r.Ledger.RetryCount(Category))
	require.Len(t, r.Ledger.Warnings(), 1)
	assert.Equal(t, "Interrupted before attempt 2; 2 attempt(s) skipped", r.Ledger.Warnings()[0].Message)
}

func TestRunContext_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	launcher := exits(0)
	r, _ := newTestRunner(launcher)

	out := r.RunContext(ctx, 3, time.Second)

	assert.True(t, out.Interrupted)
	assert.Equal(t, 0, out.AttemptsUsed)
	assert.Equal(t, 0, launcher.launches)
	assert.Equal(t, 0, r.Steps.Len())
}
