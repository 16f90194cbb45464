// Package config provides unified configuration loading for stargal.
// It supports loading from YAML or TOML files and environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/nvandessel/stargal/internal/constants"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory when no --config is given.
const DefaultFileName = "stargal.yaml"

// Config contains all settings for one atmospheric-realisation sweep.
type Config struct {
	// Types lists the catalogue types to sweep, in processing order.
	Types []string `json:"types" yaml:"types" toml:"types" env:"STARGAL_TYPES"`

	// Realisations bounds the realisation indices visited.
	Realisations RealisationConfig `json:"realisations" yaml:"realisations" toml:"realisations"`

	// Sensor is the raft/sensor identifier held constant across the sweep.
	Sensor string `json:"sensor" yaml:"sensor" toml:"sensor" env:"STARGAL_SENSOR"`

	// BaseDir holds job directories and is the root for relative paths.
	BaseDir string `json:"base_dir" yaml:"base_dir" toml:"base_dir" env:"STARGAL_BASE_DIR"`

	// AtmosphereFile holds one "<seed> <seeing>" row per realisation.
	AtmosphereFile string `json:"atmosphere_file" yaml:"atmosphere_file" toml:"atmosphere_file" env:"STARGAL_ATMOSPHERE_FILE"`

	// CatalogueTemplate is the per-type template path; "{type}" is substituted.
	CatalogueTemplate string `json:"catalogue_template" yaml:"catalogue_template" toml:"catalogue_template" env:"STARGAL_CATALOGUE_TEMPLATE"`

	// Simulator describes the external simulator binary.
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator" toml:"simulator"`

	// Executor selects and configures the execution backend.
	Executor ExecutorConfig `json:"executor" yaml:"executor" toml:"executor"`

	// Throttle paces consecutive jobs.
	Throttle ThrottleConfig `json:"throttle" yaml:"throttle" toml:"throttle"`

	// OnFailure is "continue" (default) or "abort".
	OnFailure constants.FailurePolicy `json:"on_failure" yaml:"on_failure" toml:"on_failure" env:"STARGAL_ON_FAILURE"`

	// Ledger configures the SQLite record of sweeps and jobs.
	Ledger LedgerConfig `json:"ledger" yaml:"ledger" toml:"ledger"`

	// Metrics configures the Prometheus textfile export.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

// RealisationConfig bounds the half-open realisation range [First, Count).
// Realisation i reads row i (0-based) of the atmosphere table.
type RealisationConfig struct {
	First int `json:"first" yaml:"first" toml:"first" env:"STARGAL_FIRST_REALISATION"`
	Count int `json:"count" yaml:"count" toml:"count" env:"STARGAL_REALISATIONS"`
}

// Indices returns the realisation indices in visiting order.
func (r RealisationConfig) Indices() []int {
	if r.Count <= r.First {
		return nil
	}
	out := make([]int, 0, r.Count-r.First)
	for i := r.First; i < r.Count; i++ {
		out = append(out, i)
	}
	return out
}

// SimulatorConfig describes how the simulator is invoked.
type SimulatorConfig struct {
	// Path is the simulator executable. Relative paths resolve against Dir.
	Path string `json:"path" yaml:"path" toml:"path" env:"STARGAL_SIMULATOR"`

	// Dir is the working directory of the simulator process (its install dir).
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir" env:"STARGAL_SIMULATOR_DIR"`

	// Profile is passed with -c.
	Profile string `json:"profile" yaml:"profile" toml:"profile" env:"STARGAL_PROFILE"`

	// LogFile, when set, captures simulator output inside each workdir.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file"`

	// Timeout bounds a single simulator run; zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout" env:"STARGAL_SIMULATOR_TIMEOUT"`
}

// ExecutorConfig selects the execution backend.
type ExecutorConfig struct {
	// Backend is "local" or "batch".
	Backend constants.Backend `json:"backend" yaml:"backend" toml:"backend" env:"STARGAL_BACKEND"`

	// Batch configures the batch submission backend.
	Batch BatchConfig `json:"batch" yaml:"batch" toml:"batch"`
}

// BatchConfig configures submission to an LSF-style batch system.
type BatchConfig struct {
	// Submit is the submission command.
	Submit string `json:"submit" yaml:"submit" toml:"submit"`

	// Queue is passed with -q.
	Queue string `json:"queue" yaml:"queue" toml:"queue" env:"STARGAL_BATCH_QUEUE"`

	// Resources is passed with -R.
	Resources string `json:"resources,omitempty" yaml:"resources,omitempty" toml:"resources"`

	// Interpreter, when set, precedes Script on the submitted command line.
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty" toml:"interpreter"`

	// Script is the simulator entry point as seen by the batch hosts.
	Script string `json:"script" yaml:"script" toml:"script"`
}

// ThrottleConfig paces consecutive simulator runs.
type ThrottleConfig struct {
	// Mode is "none", "fixed" or "token_bucket".
	Mode constants.ThrottleMode `json:"mode" yaml:"mode" toml:"mode" env:"STARGAL_THROTTLE_MODE"`

	// Delay is the pause between jobs in fixed mode.
	Delay time.Duration `json:"delay" yaml:"delay" toml:"delay" env:"STARGAL_THROTTLE_DELAY"`

	// Rate is jobs per second in token_bucket mode.
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty" toml:"rate"`

	// Burst is the bucket size in token_bucket mode.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty" toml:"burst"`
}

// LedgerConfig configures the sweep ledger.
type LedgerConfig struct {
	// Disabled turns the ledger off.
	Disabled bool `json:"disabled" yaml:"disabled" toml:"disabled" env:"STARGAL_LEDGER_DISABLED"`

	// Path is the database file; defaults to <base_dir>/.stargal/ledger.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path" env:"STARGAL_LEDGER_PATH"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written at sweep end when non-empty.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty" toml:"textfile" env:"STARGAL_METRICS_TEXTFILE"`
}

// LoggingConfig configures stargal's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the job event trace in .stargal/events.jsonl.
	// "trace" additionally logs every rewritten catalogue line.
	Level string `json:"level" yaml:"level" toml:"level" env:"STARGAL_LOG_LEVEL"`
}

// Default returns a Config reproducing the star/galaxy recipe.
func Default() *Config {
	return &Config{
		Types: []string{"stars", "galaxies"},
		Realisations: RealisationConfig{
			First: constants.DefaultFirstRealisation,
			Count: constants.DefaultRealisationCount,
		},
		Sensor:            constants.DefaultSensor,
		BaseDir:           ".",
		AtmosphereFile:    constants.DefaultAtmosphereFile,
		CatalogueTemplate: constants.DefaultCatalogueTemplate,
		Simulator: SimulatorConfig{
			Path:    "./phosim",
			Profile: constants.DefaultProfile,
		},
		Executor: ExecutorConfig{
			Backend: constants.BackendLocal,
			Batch: BatchConfig{
				Submit:    constants.DefaultBatchSubmit,
				Queue:     constants.DefaultBatchQueue,
				Resources: constants.DefaultBatchResources,
			},
		},
		Throttle: ThrottleConfig{
			Mode:  constants.ThrottleFixed,
			Delay: constants.DefaultThrottleDelay,
			Burst: constants.DefaultTokenBucketBurst,
		},
		OnFailure: constants.FailureContinue,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration.
// Order: defaults -> config file -> environment variables -> path normalization.
// An empty path falls back to ./stargal.yaml when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileConfig
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by extension.
// Keys absent from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in config file: %v", undecoded)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}

	return cfg, nil
}

// Save writes the configuration to path as YAML or TOML, chosen by extension.
func (c *Config) Save(path string) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = buf.Bytes()
	case ".yaml", ".yml", "":
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = out
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides overwrites fields whose STARGAL_* variables are set.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Normalize makes BaseDir absolute and resolves the relative input and
// output paths against it. It is idempotent.
func (c *Config) Normalize() error {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	abs, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return fmt.Errorf("resolving base_dir: %w", err)
	}
	c.BaseDir = abs

	c.AtmosphereFile = c.resolve(c.AtmosphereFile)
	c.CatalogueTemplate = c.resolve(c.CatalogueTemplate)
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.StateDir(), constants.LedgerFileName)
	}
	c.Ledger.Path = c.resolve(c.Ledger.Path)
	c.Metrics.Textfile = c.resolve(c.Metrics.Textfile)
	return nil
}

// resolve joins a relative path onto BaseDir. Empty paths stay empty.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// StateDir is the directory holding the ledger and event log.
func (c *Config) StateDir() string {
	return filepath.Join(c.BaseDir, constants.StateDirName)
}

// CataloguePath returns the template path for a catalogue type.
func (c *Config) CataloguePath(catalogueType string) string {
	return strings.ReplaceAll(c.CatalogueTemplate, constants.TypePlaceholder, catalogueType)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Types) == 0 {
		return fmt.Errorf("types must list at least one catalogue type")
	}
	seen := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if err := validateName("type", t); err != nil {
			return err
		}
		if seen[t] {
			return fmt.Errorf("duplicate catalogue type: %s", t)
		}
		seen[t] = true
	}

	if err := validateName("sensor", c.Sensor); err != nil {
		return err
	}

	if c.Realisations.First < 0 {
		return fmt.Errorf("realisations.first must be non-negative, got %d", c.Realisations.First)
	}
	if c.Realisations.Count <= c.Realisations.First {
		return fmt.Errorf("realisations.count (%d) must be greater than realisations.first (%d)",
			c.Realisations.Count, c.Realisations.First)
	}

	if c.AtmosphereFile == "" {
		return fmt.Errorf("atmosphere_file is required")
	}
	if c.CatalogueTemplate == "" {
		return fmt.Errorf("catalogue_template is required")
	}
	if len(c.Types) > 1 && !strings.Contains(c.CatalogueTemplate, constants.TypePlaceholder) {
		return fmt.Errorf("catalogue_template must contain %s when sweeping several types", constants.TypePlaceholder)
	}

	if c.Simulator.Profile == "" {
		return fmt.Errorf("simulator.profile is required")
	}
	if c.Simulator.Timeout < 0 {
		return fmt.Errorf("simulator.timeout must be non-negative, got %v", c.Simulator.Timeout)
	}

	if !c.Executor.Backend.Valid() {
		return fmt.Errorf("invalid executor backend: %s (valid: local, batch)", c.Executor.Backend)
	}
	switch c.Executor.Backend {
	case constants.BackendLocal:
		if c.Simulator.Path == "" {
			return fmt.Errorf("simulator.path is required for the local backend")
		}
	case constants.BackendBatch:
		if c.Executor.Batch.Submit == "" {
			return fmt.Errorf("executor.batch.submit is required for the batch backend")
		}
		if c.Executor.Batch.Script == "" {
			return fmt.Errorf("executor.batch.script is required for the batch backend")
		}
	}

	if !c.Throttle.Mode.Valid() {
		return fmt.Errorf("invalid throttle mode: %s (valid: none, fixed, token_bucket)", c.Throttle.Mode)
	}
	if c.Throttle.Delay < 0 {
		return fmt.Errorf("throttle.delay must be non-negative, got %v", c.Throttle.Delay)
	}
	if c.Throttle.Mode == constants.ThrottleTokenBucket {
		if c.Throttle.Rate <= 0 {
			return fmt.Errorf("throttle.rate must be positive for token_bucket, got %f", c.Throttle.Rate)
		}
		if c.Throttle.Burst < 1 {
			return fmt.Errorf("throttle.burst must be at least 1, got %d", c.Throttle.Burst)
		}
	}

	if !c.OnFailure.Valid() {
		return fmt.Errorf("invalid on_failure policy: %s (valid: continue, abort)", c.OnFailure)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// validateName rejects identifiers that would escape or split a job directory name.
func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if value == "." || value == ".." || strings.ContainsAny(value, `/\`) || strings.ContainsRune(value, '\x00') {
		return fmt.Errorf("invalid %s %q: must not contain path separators", field, value)
	}
	if strings.ContainsAny(value, " \t\n") {
		return fmt.Errorf("invalid %s %q: must not contain whitespace", field, value)
	}
	return nil
}
