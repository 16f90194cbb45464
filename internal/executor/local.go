package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalConfig configures the child-process backend.
type LocalConfig struct {
	// Path is the simulator executable. Relative paths resolve against Dir.
	Path string

	// Dir is the working directory of the child process.
	Dir string

	// LogFile, when set, receives stdout and stderr inside the job's workdir.
	LogFile string

	// Timeout bounds one run; zero means no limit.
	Timeout time.Duration
}

// Local runs the simulator as a blocking child process.
type Local struct {
	path    string
	dir     string
	logFile string
	timeout time.Duration

	// Stdout and Stderr receive simulator output when no LogFile is set.
	Stdout io.Writer
	Stderr io.Writer
}

// NewLocal creates a Local executor.
func NewLocal(cfg LocalConfig) *Local {
	return &Local{
		path:    cfg.Path,
		dir:     cfg.Dir,
		logFile: cfg.LogFile,
		timeout: cfg.Timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Name implements Executor.
func (l *Local) Name() string {
	return "local"
}

// Command returns the full argument vector, executable first.
func (l *Local) Command(inv Invocation) []string {
	return append([]string{l.path}, inv.Args()...)
}

// Run implements Executor.
func (l *Local) Run(ctx context.Context, inv Invocation) (Result, error) {
	stdout, stderr := l.Stdout, l.Stderr
	if l.logFile != "" {
		path := filepath.Join(inv.WorkDir, l.logFile)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return Result{ExitCode: -1, State: "not started"}, &InvocationError{Command: l.path, Err: err}
		}
		defer f.Close()
		stdout, stderr = f, f
	}

	return run(ctx, l.path, inv.Args(), l.dir, stdout, stderr, l.timeout)
}
