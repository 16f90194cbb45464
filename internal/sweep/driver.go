// Package sweep runs the simulator once per catalogue type and atmospheric
// realisation, strictly in sequence, and summarises the outcomes.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/stargal/internal/catalogue"
	"github.com/nvandessel/stargal/internal/config"
	"github.com/nvandessel/stargal/internal/constants"
	"github.com/nvandessel/stargal/internal/executor"
	"github.com/nvandessel/stargal/internal/ledger"
	"github.com/nvandessel/stargal/internal/logging"
	"github.com/nvandessel/stargal/internal/metrics"
	"github.com/nvandessel/stargal/internal/pacing"
	"github.com/nvandessel/stargal/internal/workspace"
)

// Directories prepares job directories.
type Directories interface {
	Prepare(path string, clear bool) error
}

// Recorder persists sweep and job outcomes.
type Recorder interface {
	BeginSweep(ctx context.Context, s ledger.Sweep) error
	RecordJob(ctx context.Context, j ledger.Job) error
	FinishSweep(ctx context.Context, id, status string, finishedAt time.Time) error
}

// Deps are the driver's collaborators. Executor is required; everything
// else has a default.
type Deps struct {
	Executor executor.Executor

	// Pacer defaults to one built from cfg.Throttle.
	Pacer pacing.Pacer

	// Dirs defaults to a workspace.Preparer confined to cfg.BaseDir.
	Dirs Directories

	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Events   *logging.EventLog

	// Now defaults to time.Now.
	Now func() time.Time
}

// Driver runs sweeps.
type Driver struct {
	cfg  *config.Config
	deps Deps
}

// New creates a driver for cfg.
func New(cfg *config.Config, deps Deps) (*Driver, error) {
	if deps.Executor == nil {
		return nil, fmt.Errorf("sweep driver needs an executor")
	}
	if deps.Pacer == nil {
		p, err := pacing.New(cfg.Throttle)
		if err != nil {
			return nil, err
		}
		deps.Pacer = p
	}
	if deps.Dirs == nil {
		deps.Dirs = workspace.NewPreparer(cfg.BaseDir)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Driver{cfg: cfg, deps: deps}, nil
}

// Run executes the sweep. A preflight failure returns before any directory
// is touched. Otherwise a summary is always returned; the error is a
// *JobError when the abort policy stopped the sweep, or ctx.Err() when
// the sweep was cancelled.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	in, err := LoadInputs(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	jobs, err := PlanJobs(d.cfg, in)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	d.warnInputs(in)

	summary := &Summary{
		ID:        uuid.NewString(),
		StartedAt: d.deps.Now(),
		Planned:   len(jobs),
	}
	log := d.deps.Logger.With("sweep_id", summary.ID)

	// Bookkeeping must land even after ctx is cancelled.
	recCtx := context.WithoutCancel(ctx)
	if err := d.beginSweep(recCtx, summary); err != nil {
		return nil, err
	}
	d.deps.Metrics.SweepStarted(summary.StartedAt, len(jobs))

	log.Info("sweep started",
		"jobs", len(jobs),
		"types", strings.Join(d.cfg.Types, ","),
		"first", d.cfg.Realisations.First,
		"count", d.cfg.Realisations.Count,
		"backend", d.deps.Executor.Name())

	var runErr error
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			runErr = err
			d.skipRemaining(recCtx, log, summary, jobs[i:])
			break
		}

		res := d.runJob(ctx, log, job, in.Templates[job.Type])
		d.record(recCtx, log, summary, res)

		if err := ctx.Err(); err != nil {
			runErr = err
			d.skipRemaining(recCtx, log, summary, jobs[i+1:])
			break
		}
		if res.Status.Failing() && d.cfg.OnFailure == constants.FailureAbort {
			runErr = &JobError{Result: res}
			d.skipRemaining(recCtx, log, summary, jobs[i+1:])
			break
		}

		if i < len(jobs)-1 {
			if err := d.deps.Pacer.Wait(ctx); err != nil {
				runErr = err
				d.skipRemaining(recCtx, log, summary, jobs[i+1:])
				break
			}
		}
	}

	summary.FinishedAt = d.deps.Now()
	d.finishSweep(recCtx, log, summary, runErr)
	return summary, runErr
}

// runJob prepares the directories, writes the derived catalogue and runs
// the simulator.
func (d *Driver) runJob(ctx context.Context, log *slog.Logger, job Job, tmpl *catalogue.Template) JobResult {
	res := JobResult{Job: job, StartedAt: d.deps.Now()}
	errored := func(err error) JobResult {
		res.Status = StatusErrored
		res.ExitCode = -1
		res.Err = err
		res.Duration = d.deps.Now().Sub(res.StartedAt)
		return res
	}

	log.Info("running job", "type", job.Type, "realisation", job.Realisation,
		"seed", job.Seed, "seeing", job.Seeing)

	for _, dir := range []string{job.WorkDir, job.OutDir} {
		if err := d.deps.Dirs.Prepare(dir, true); err != nil {
			return errored(err)
		}
	}

	lines := tmpl.Derive(job.Seed, job.Seeing)
	if log.Enabled(ctx, logging.LevelTrace) {
		log.Log(ctx, logging.LevelTrace, "derived catalogue",
			"path", job.CataloguePath, "content", strings.Join(lines, "\n"))
	}
	if err := catalogue.WriteLines(job.CataloguePath, lines); err != nil {
		return errored(err)
	}

	inv := job.Invocation(d.cfg.Simulator.Profile, d.cfg.Sensor)
	log.Debug("invoking simulator", "backend", d.deps.Executor.Name(), "args", inv.Args())
	out, err := d.deps.Executor.Run(ctx, inv)
	if err != nil {
		return errored(err)
	}

	res.ExitCode = out.ExitCode
	res.State = out.State
	res.TimedOut = out.TimedOut
	res.Duration = out.Duration
	if out.Success() {
		res.Status = StatusSucceeded
	} else {
		res.Status = StatusFailed
	}
	return res
}

// warnInputs logs atmosphere rows the sweep never reads and templates that
// do not carry exactly one of each rewritten directive.
func (d *Driver) warnInputs(in *Inputs) {
	for _, r := range in.Atmosphere.Unused(d.cfg.Realisations.First, d.cfg.Realisations.Count) {
		d.deps.Logger.Warn("atmosphere rows not used by this sweep",
			"file", in.Atmosphere.Source(), "from", r[0], "to", r[1]-1)
	}
	for _, t := range d.cfg.Types {
		tmpl := in.Templates[t]
		for _, directive := range []string{constants.SeedDirective, constants.SeeingDirective} {
			if n := tmpl.Count(directive); n != 1 {
				d.deps.Logger.Warn("catalogue directive count is not 1",
					"type", t, "file", tmpl.Source, "directive", directive, "count", n)
			}
		}
	}
}

func (d *Driver) beginSweep(ctx context.Context, s *Summary) error {
	if d.deps.Recorder == nil {
		return nil
	}
	snapshot, err := json.Marshal(d.cfg)
	if err != nil {
		return fmt.Errorf("encoding config snapshot: %w", err)
	}
	if err := d.deps.Recorder.BeginSweep(ctx, ledger.Sweep{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		Status:    ledger.SweepRunning,
		BaseDir:   d.cfg.BaseDir,
		Sensor:    d.cfg.Sensor,
		Backend:   d.deps.Executor.Name(),
		Config:    string(snapshot),
	}); err != nil {
		return fmt.Errorf("recording sweep start: %w", err)
	}
	return nil
}

// record adds res to the summary and reports it to the logger, event log,
// metrics and ledger. Recording failures are logged, never fatal.
func (d *Driver) record(ctx context.Context, log *slog.Logger, s *Summary, res JobResult) {
	s.add(res)

	attrs := []any{
		"type", res.Type,
		"realisation", res.Realisation,
		"status", res.Status,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	}
	switch res.Status {
	case StatusSucceeded:
		log.Info("job finished", attrs...)
	case StatusSkipped:
		log.Debug("job skipped", attrs...)
	default:
		log.Warn("job did not succeed", append(attrs, "reason", res.Reason())...)
	}

	d.deps.Events.Log(map[string]any{
		"event":       "job",
		"sweep_id":    s.ID,
		"type":        res.Type,
		"realisation": res.Realisation,
		"seed":        res.Seed,
		"seeing":      res.Seeing,
		"status":      string(res.Status),
		"exit_code":   res.ExitCode,
		"reason":      res.Reason(),
		"duration_ms": res.Duration.Milliseconds(),
		"work_dir":    res.WorkDir,
		"out_dir":     res.OutDir,
	})

	d.deps.Metrics.ObserveJob(res.Type, string(res.Status), res.Duration)

	if d.deps.Recorder == nil {
		return
	}
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	if err := d.deps.Recorder.RecordJob(ctx, ledger.Job{
		SweepID:       s.ID,
		Type:          res.Type,
		Realisation:   res.Realisation,
		Seed:          res.Seed,
		Seeing:        res.Seeing,
		WorkDir:       res.WorkDir,
		OutDir:        res.OutDir,
		CataloguePath: res.CataloguePath,
		Status:        string(res.Status),
		ExitCode:      res.ExitCode,
		State:         res.State,
		Error:         errText,
		StartedAt:     res.StartedAt,
		Duration:      res.Duration,
	}); err != nil {
		log.Warn("failed to record job in ledger", "type", res.Type, "realisation", res.Realisation, "error", err)
	}
}

func (d *Driver) skipRemaining(ctx context.Context, log *slog.Logger, s *Summary, jobs []Job) {
	for _, job := range jobs {
		d.record(ctx, log, s, JobResult{Job: job, Status: StatusSkipped})
	}
}

func (d *Driver) finishSweep(ctx context.Context, log *slog.Logger, s *Summary, runErr error) {
	status := ledger.SweepCompleted
	var jobErr *JobError
	switch {
	case errors.As(runErr, &jobErr):
		status = ledger.SweepAborted
	case runErr != nil:
		status = ledger.SweepCancelled
	}

	if d.deps.Recorder != nil {
		if err := d.deps.Recorder.FinishSweep(ctx, s.ID, status, s.FinishedAt); err != nil {
			log.Warn("failed to record sweep finish in ledger", "error", err)
		}
	}

	d.deps.Metrics.SweepFinished(s.FinishedAt)
	if err := d.deps.Metrics.WriteTextfile(d.cfg.Metrics.Textfile); err != nil {
		log.Warn("failed to write metrics", "path", d.cfg.Metrics.Textfile, "error", err)
	}

	d.deps.Events.Log(map[string]any{
		"event":     "sweep",
		"sweep_id":  s.ID,
		"status":    status,
		"planned":   s.Planned,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"errored":   s.Errored,
		"skipped":   s.Skipped,
	})

	log.Info("sweep finished",
		"status", status,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"errored", s.Errored,
		"skipped", s.Skipped,
		"elapsed", s.FinishedAt.Sub(s.StartedAt))
	for _, f := range s.Failures {
		log.Info("failed realisation", "type", f.Type, "realisation", f.Realisation,
			"status", f.Status, "reason", f.Reason)
	}
}
