// Package executor runs the image simulator for one job.
//
// Two backends exist: Local runs the simulator as a child process and waits
// for it; Batch hands the same command line to a batch submission tool and
// waits for the submitter. Both report the exit status instead of
// discarding it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/nvandessel/stargal/internal/config"
	"github.com/nvandessel/stargal/internal/constants"
)

// waitDelay bounds how long Wait keeps copying output after the process is killed.
const waitDelay = 10 * time.Second

// Invocation is the simulator command line for one job, minus the executable.
type Invocation struct {
	Catalogue string
	Profile   string
	Sensor    string
	WorkDir   string
	OutDir    string
}

// Args returns [catalogue, -c, profile, -s, sensor, -w, workdir, -o, outdir].
func (inv Invocation) Args() []string {
	return []string{
		inv.Catalogue,
		"-c", inv.Profile,
		"-s", inv.Sensor,
		"-w", inv.WorkDir,
		"-o", inv.OutDir,
	}
}

// Result is the outcome of a process that was started.
type Result struct {
	// ExitCode is the process exit code, or -1 when it was killed by a signal.
	ExitCode int `json:"exit_code"`

	// State is the human-readable process state, e.g. "exit status 2".
	State string `json:"state"`

	// TimedOut is set when the per-job timeout killed the process.
	TimedOut bool `json:"timed_out,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// InvocationError reports a process that could not be started at all.
// A process that starts and exits non-zero is not an InvocationError.
type InvocationError struct {
	Command string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Command, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Executor runs one simulator invocation and blocks until it completes.
type Executor interface {
	// Name identifies the backend in logs and the ledger.
	Name() string

	// Run executes inv. The returned error is non-nil only when the
	// process could not be launched.
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// New returns the backend selected by cfg.Executor.Backend.
func New(cfg *config.Config) (Executor, error) {
	switch cfg.Executor.Backend {
	case constants.BackendLocal:
		return NewLocal(LocalConfig{
			Path:    cfg.Simulator.Path,
			Dir:     cfg.Simulator.Dir,
			LogFile: cfg.Simulator.LogFile,
			Timeout: cfg.Simulator.Timeout,
		}), nil
	case constants.BackendBatch:
		b := cfg.Executor.Batch
		return NewBatch(BatchConfig{
			Submit:      b.Submit,
			Queue:       b.Queue,
			Resources:   b.Resources,
			Interpreter: b.Interpreter,
			Script:      b.Script,
			Dir:         cfg.Simulator.Dir,
			Timeout:     cfg.Simulator.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown executor backend: %s", cfg.Executor.Backend)
	}
}

// run starts name with args and classifies how it ended.
func run(ctx context.Context, name string, args []string, dir string, stdout, stderr io.Writer, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start)}

	if err == nil {
		res.State = cmd.ProcessState.String()
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		res.State = exitErr.ProcessState.String()
		res.TimedOut = timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)
		return res, nil
	}

	res.ExitCode = -1
	res.State = "not started"
	return res, &InvocationError{Command: name, Err: err}
}
