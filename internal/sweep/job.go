package sweep

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/stargal/internal/constants"
	"github.com/nvandessel/stargal/internal/executor"
)

// Status is the outcome of one job.
type Status string

const (
	// StatusSucceeded means the simulator exited 0.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the simulator ran and exited non-zero or was killed.
	StatusFailed Status = "failed"

	// StatusErrored means the job never reached a simulator exit status:
	// directory preparation, catalogue IO or process launch failed.
	StatusErrored Status = "errored"

	// StatusSkipped means the job was not attempted because the sweep
	// aborted or was cancelled first.
	StatusSkipped Status = "skipped"
)

// Failing reports whether the status counts against the failure policy.
func (s Status) Failing() bool {
	return s == StatusFailed || s == StatusErrored
}

// Job is one (catalogue type, realisation) unit of work.
type Job struct {
	Type          string `json:"type"`
	Realisation   int    `json:"realisation"`
	Seed          string `json:"seed"`
	Seeing        string `json:"seeing"`
	WorkDir       string `json:"work_dir"`
	OutDir        string `json:"out_dir"`
	CataloguePath string `json:"catalogue_path"`
}

// Invocation builds the simulator invocation for the job.
func (j Job) Invocation(profile, sensor string) executor.Invocation {
	return executor.Invocation{
		Catalogue: j.CataloguePath,
		Profile:   profile,
		Sensor:    sensor,
		WorkDir:   j.WorkDir,
		OutDir:    j.OutDir,
	}
}

// JobDirs returns the absolute work and output directories of a job:
// <base>/work_<type>_<sensor>_atm<i> and <base>/output_<type>_<sensor>_atm<i>.
func JobDirs(baseDir, catalogueType, sensor string, realisation int) (workDir, outDir string) {
	suffix := fmt.Sprintf("%s_%s_atm%d", catalogueType, sensor, realisation)
	workDir = filepath.Join(baseDir, constants.WorkDirPrefix+"_"+suffix)
	outDir = filepath.Join(baseDir, constants.OutDirPrefix+"_"+suffix)
	return workDir, outDir
}

// JobResult is the recorded outcome of a job.
type JobResult struct {
	Job
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	State     string        `json:"state,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Err       error         `json:"-"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration"`
}

// Reason is a one-line explanation of a non-successful result.
func (r JobResult) Reason() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.TimedOut:
		return "timed out: " + r.State
	case r.State != "":
		return r.State
	case r.Status == StatusSkipped:
		return "not attempted"
	}
	return ""
}

// Failure identifies a job that did not succeed.
type Failure struct {
	Type        string `json:"type"`
	Realisation int    `json:"realisation"`
	Status      Status `json:"status"`
	ExitCode    int    `json:"exit_code"`
	Reason      string `json:"reason"`
}

// Summary describes a whole sweep.
type Summary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Planned    int       `json:"planned"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Errored    int       `json:"errored"`
	Skipped    int       `json:"skipped"`

	// Failures lists failed and errored jobs in execution order.
	Failures []Failure `json:"failures"`

	Results []JobResult `json:"-"`
}

func (s *Summary) add(r JobResult) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusErrored:
		s.Errored++
	case StatusSkipped:
		s.Skipped++
	}
	if r.Status.Failing() {
		s.Failures = append(s.Failures, Failure{
			Type:        r.Type,
			Realisation: r.Realisation,
			Status:      r.Status,
			ExitCode:    r.ExitCode,
			Reason:      r.Reason(),
		})
	}
}

// OK reports whether every planned job succeeded.
func (s *Summary) OK() bool {
	return s.Succeeded == s.Planned
}

// JobError is returned by Driver.Run when the abort policy stops a sweep.
type JobError struct {
	Result JobResult
}

func (e *JobError) Error() string {
	return fmt.Sprintf("sweep aborted: %s realisation %d %s: %s",
		e.Result.Type, e.Result.Realisation, e.Result.Status, e.Result.Reason())
}

func (e *JobError) Unwrap() error {
	return e.Result.Err
}
