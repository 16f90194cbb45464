package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/stargal/internal/constants"
)

// BatchConfig configures the batch submission backend.
type BatchConfig struct {
	Submit      string
	Queue       string
	Resources   string
	Interpreter string
	Script      string
	Dir         string
	Timeout     time.Duration
}

// Batch submits the simulator to an LSF-style batch system.
// The Result describes the submission, not the simulation it queued.
type Batch struct {
	cfg BatchConfig

	Stdout io.Writer
	Stderr io.Writer
}

// NewBatch creates a Batch executor.
func NewBatch(cfg BatchConfig) *Batch {
	return &Batch{cfg: cfg, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Name implements Executor.
func (b *Batch) Name() string {
	return "batch"
}

// Command returns the full submission argument vector, submitter first.
// The job's batch log is written to <workdir>/log.log.
func (b *Batch) Command(inv Invocation) []string {
	args := []string{b.cfg.Submit}
	if b.cfg.Queue != "" {
		args = append(args, "-q", b.cfg.Queue)
	}
	args = append(args, "-o", filepath.Join(inv.WorkDir, constants.BatchLogFileName))
	if b.cfg.Resources != "" {
		args = append(args, "-R", b.cfg.Resources)
	}
	if b.cfg.Interpreter != "" {
		args = append(args, b.cfg.Interpreter)
	}
	args = append(args, b.cfg.Script)
	return append(args, inv.Args()...)
}

// Run implements Executor.
func (b *Batch) Run(ctx context.Context, inv Invocation) (Result, error) {
	argv := b.Command(inv)
	return run(ctx, argv[0], argv[1:], b.cfg.Dir, b.Stdout, b.Stderr, b.cfg.Timeout)
}
