package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Sweep lifecycle states.
const (
	SweepRunning   = "running"
	SweepCompleted = "completed"
	SweepAborted   = "aborted"
	SweepCancelled = "cancelled"
)

// ErrNoSweeps is returned by LatestSweep on an empty ledger.
var ErrNoSweeps = errors.New("no sweeps recorded")

// Sweep is one run of the driver.
type Sweep struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     string    `json:"status"`
	BaseDir    string    `json:"base_dir"`
	Sensor     string    `json:"sensor"`
	Backend    string    `json:"backend"`
	Config     string    `json:"-"`

	// Counts per job status, filled by ListSweeps and LatestSweep.
	Counts map[string]int `json:"counts,omitempty"`
}

// Job is the recorded outcome of one (type, realisation) pair.
type Job struct {
	SweepID       string        `json:"sweep_id"`
	Type          string        `json:"type"`
	Realisation   int           `json:"realisation"`
	Seed          string        `json:"seed"`
	Seeing        string        `json:"seeing"`
	WorkDir       string        `json:"work_dir"`
	OutDir        string        `json:"out_dir"`
	CataloguePath string        `json:"catalogue_path,omitempty"`
	Status        string        `json:"status"`
	ExitCode      int           `json:"exit_code"`
	State         string        `json:"state,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitzero"`
	Duration      time.Duration `json:"duration"`
}

// Ledger is a SQLite-backed record of sweeps.
type Ledger struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginSweep inserts a sweep in the running state.
func (l *Ledger) BeginSweep(ctx context.Context, s Sweep) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s.Status == "" {
		s.Status = SweepRunning
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sweeps (id, started_at, status, base_dir, sensor, backend, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, formatTime(s.StartedAt), s.Status, s.BaseDir, s.Sensor, s.Backend, nullString(s.Config))
	if err != nil {
		return fmt.Errorf("failed to insert sweep %s: %w", s.ID, err)
	}
	return nil
}

// RecordJob stores a job outcome, replacing any earlier row for the same
// (sweep, type, realisation).
func (l *Ledger) RecordJob(ctx context.Context, j Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (
			sweep_id, catalogue_type, realisation, seed, seeing, work_dir, out_dir,
			catalogue_path, status, exit_code, state, error, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.SweepID, j.Type, j.Realisation, j.Seed, j.Seeing, j.WorkDir, j.OutDir,
		nullString(j.CataloguePath), j.Status, j.ExitCode, nullString(j.State), nullString(j.Error),
		nullString(formatTime(j.StartedAt)), j.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record job %s/%d: %w", j.Type, j.Realisation, err)
	}
	return nil
}

// FinishSweep stamps the finish time and final status.
func (l *Ledger) FinishSweep(ctx context.Context, id, status string, finishedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`UPDATE sweeps SET finished_at = ?, status = ? WHERE id = ?`,
		formatTime(finishedAt), status, id)
	if err != nil {
		return fmt.Errorf("failed to finish sweep %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish sweep %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sweep not found: %s", id)
	}
	return nil
}

// ListJobs returns the jobs of a sweep in execution order. With onlyFailed
// set, only failed and errored jobs are returned.
func (l *Ledger) ListJobs(ctx context.Context, sweepID string, onlyFailed bool) ([]Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := `
		SELECT sweep_id, catalogue_type, realisation, seed, seeing, work_dir, out_dir,
		       catalogue_path, status, exit_code, state, error, started_at, duration_ms
		FROM jobs WHERE sweep_id = ?`
	if onlyFailed {
		query += ` AND status IN ('failed', 'errored')`
	}
	query += ` ORDER BY rowid`

	rows, err := l.db.QueryContext(ctx, query, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j                                            Job
			seed, seeing, catPath, state, errText, start sql.NullString
			exitCode, durationMS                         sql.NullInt64
		)
		if err := rows.Scan(&j.SweepID, &j.Type, &j.Realisation, &seed, &seeing, &j.WorkDir, &j.OutDir,
			&catPath, &j.Status, &exitCode, &state, &errText, &start, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Seed = seed.String
		j.Seeing = seeing.String
		j.CataloguePath = catPath.String
		j.ExitCode = int(exitCode.Int64)
		j.State = state.String
		j.Error = errText.String
		j.StartedAt = parseTime(start.String)
		j.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetSweep returns one sweep with its job counts.
func (l *Ledger) GetSweep(ctx context.Context, id string) (*Sweep, error) {
	sweeps, err := l.listSweeps(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sweeps) == 0 {
		return nil, fmt.Errorf("sweep not found: %s", id)
	}
	return &sweeps[0], nil
}

// LatestSweep returns the most recently started sweep.
func (l *Ledger) LatestSweep(ctx context.Context) (*Sweep, error) {
	sweeps, err := l.listSweeps(ctx, `ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(sweeps) == 0 {
		return nil, ErrNoSweeps
	}
	return &sweeps[0], nil
}

// ListSweeps returns up to limit sweeps, newest first. limit <= 0 returns all.
func (l *Ledger) ListSweeps(ctx context.Context, limit int) ([]Sweep, error) {
	if limit <= 0 {
		return l.listSweeps(ctx, `ORDER BY started_at DESC, rowid DESC`)
	}
	return l.listSweeps(ctx, `ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
}

func (l *Ledger) listSweeps(ctx context.Context, tail string, args ...any) ([]Sweep, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, base_dir, sensor, backend, config FROM sweeps `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}

	var sweeps []Sweep
	for rows.Next() {
		var (
			s                  Sweep
			started            string
			finished, snapshot sql.NullString
		)
		if err := rows.Scan(&s.ID, &started, &finished, &s.Status, &s.BaseDir, &s.Sensor, &s.Backend, &snapshot); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		s.StartedAt = parseTime(started)
		s.FinishedAt = parseTime(finished.String)
		s.Config = snapshot.String
		sweeps = append(sweeps, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range sweeps {
		counts, err := l.countJobs(ctx, sweeps[i].ID)
		if err != nil {
			return nil, err
		}
		sweeps[i].Counts = counts
	}
	return sweeps, nil
}

// countJobs groups a sweep's jobs by status. Callers hold mu.
func (l *Ledger) countJobs(ctx context.Context, sweepID string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE sweep_id = ? GROUP BY status`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Helper functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
