package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/stargal/internal/constants"
)

func TestDefault(t *testing.T) {
	config := Default()

	if !reflect.DeepEqual(config.Types, []string{"stars", "galaxies"}) {
		t.Errorf("expected Types [stars galaxies], got %v", config.Types)
	}
	if config.Realisations.First != 1 || config.Realisations.Count != 100 {
		t.Errorf("expected realisations [1, 100), got [%d, %d)", config.Realisations.First, config.Realisations.Count)
	}
	if config.Sensor != "R22_S21" {
		t.Errorf("expected Sensor 'R22_S21', got '%s'", config.Sensor)
	}
	if config.Simulator.Profile != "examples/nobackground" {
		t.Errorf("expected Profile 'examples/nobackground', got '%s'", config.Simulator.Profile)
	}
	if config.Executor.Backend != constants.BackendLocal {
		t.Errorf("expected Backend 'local', got '%s'", config.Executor.Backend)
	}
	if config.Throttle.Mode != constants.ThrottleFixed || config.Throttle.Delay != 5*time.Second {
		t.Errorf("expected fixed 5s throttle, got %s %v", config.Throttle.Mode, config.Throttle.Delay)
	}
	if config.OnFailure != constants.FailureContinue {
		t.Errorf("expected OnFailure 'continue', got '%s'", config.OnFailure)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestRealisationConfig_Indices(t *testing.T) {
	tests := []struct {
		name  string
		first int
		count int
		want  []int
	}{
		{"recipe bounds", 1, 4, []int{1, 2, 3}},
		{"from zero", 0, 3, []int{0, 1, 2}},
		{"empty", 3, 3, nil},
		{"inverted", 5, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RealisationConfig{First: tt.first, Count: tt.count}.Indices()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Indices() = %v, want %v", got, tt.want)
			}
		})
	}

	if n := len(Default().Realisations.Indices()); n != 99 {
		t.Errorf("default sweep visits %d realisations, want 99", n)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.yaml")

	configContent := `
types: [msstars, bdgals]
realisations:
  count: 10
sensor: R22_S11
catalogue_template: stargal-{type}.pars
simulator:
  path: ./phosim
  dir: /opt/phosim
  timeout: 2h
throttle:
  mode: token_bucket
  rate: 0.5
  burst: 3
on_failure: abort
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if !reflect.DeepEqual(config.Types, []string{"msstars", "bdgals"}) {
		t.Errorf("expected Types [msstars bdgals], got %v", config.Types)
	}
	if config.Realisations.Count != 10 {
		t.Errorf("expected Count 10, got %d", config.Realisations.Count)
	}
	if config.Realisations.First != 1 {
		t.Errorf("expected First to keep default 1, got %d", config.Realisations.First)
	}
	if config.Simulator.Dir != "/opt/phosim" {
		t.Errorf("expected Simulator.Dir '/opt/phosim', got '%s'", config.Simulator.Dir)
	}
	if config.Simulator.Timeout != 2*time.Hour {
		t.Errorf("expected Timeout 2h, got %v", config.Simulator.Timeout)
	}
	if config.Throttle.Mode != constants.ThrottleTokenBucket || config.Throttle.Burst != 3 {
		t.Errorf("expected token_bucket burst 3, got %s burst %d", config.Throttle.Mode, config.Throttle.Burst)
	}
	if config.OnFailure != constants.FailureAbort {
		t.Errorf("expected OnFailure 'abort', got '%s'", config.OnFailure)
	}
	if config.Simulator.Profile != "examples/nobackground" {
		t.Errorf("expected Profile to keep its default, got '%s'", config.Simulator.Profile)
	}
}

func TestLoadFromFile_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.toml")

	configContent := `
types = ["stars"]
sensor = "R01_S00"

[executor]
backend = "batch"

[executor.batch]
queue = "long"
script = "/afs/phosim/phosim.py"
interpreter = "python"

[throttle]
delay = "30s"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Executor.Backend != constants.BackendBatch {
		t.Errorf("expected Backend 'batch', got '%s'", config.Executor.Backend)
	}
	if config.Executor.Batch.Queue != "long" {
		t.Errorf("expected Queue 'long', got '%s'", config.Executor.Batch.Queue)
	}
	if config.Executor.Batch.Submit != "bsub" {
		t.Errorf("expected Submit to keep default 'bsub', got '%s'", config.Executor.Batch.Submit)
	}
	if config.Throttle.Delay != 30*time.Second {
		t.Errorf("expected Delay 30s, got %v", config.Throttle.Delay)
	}
}

func TestLoadFromFile_TOMLUnknownKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.toml")

	if err := os.WriteFile(configPath, []byte("sensr = \"R22_S21\"\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("expected unknown keys error, got %v", err)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.ini")
	if err := os.WriteFile(configPath, []byte("sensor=x\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/stargal.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.yaml")

	invalidYAML := `
types: [stars
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STARGAL_TYPES", "msstars,bdgals")
	t.Setenv("STARGAL_SENSOR", "R10_S01")
	t.Setenv("STARGAL_REALISATIONS", "5")
	t.Setenv("STARGAL_BACKEND", "batch")
	t.Setenv("STARGAL_THROTTLE_DELAY", "250ms")
	t.Setenv("STARGAL_ON_FAILURE", "abort")
	t.Setenv("STARGAL_LOG_LEVEL", "debug")

	config := Default()
	if err := applyEnvOverrides(config); err != nil {
		t.Fatalf("applyEnvOverrides failed: %v", err)
	}

	if !reflect.DeepEqual(config.Types, []string{"msstars", "bdgals"}) {
		t.Errorf("expected Types [msstars bdgals], got %v", config.Types)
	}
	if config.Sensor != "R10_S01" {
		t.Errorf("expected Sensor 'R10_S01', got '%s'", config.Sensor)
	}
	if config.Realisations.Count != 5 {
		t.Errorf("expected Count 5, got %d", config.Realisations.Count)
	}
	if config.Realisations.First != 1 {
		t.Errorf("expected First to stay 1, got %d", config.Realisations.First)
	}
	if config.Executor.Backend != constants.BackendBatch {
		t.Errorf("expected Backend 'batch', got '%s'", config.Executor.Backend)
	}
	if config.Throttle.Delay != 250*time.Millisecond {
		t.Errorf("expected Delay 250ms, got %v", config.Throttle.Delay)
	}
	if config.OnFailure != constants.FailureAbort {
		t.Errorf("expected OnFailure 'abort', got '%s'", config.OnFailure)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestEnvOverrides_InvalidDuration(t *testing.T) {
	t.Setenv("STARGAL_THROTTLE_DELAY", "soon")

	if err := applyEnvOverrides(Default()); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargal.yaml")
	content := "base_dir: " + tmpDir + "\nsensor: R22_S11\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("STARGAL_SENSOR", "R22_S12")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Sensor != "R22_S12" {
		t.Errorf("expected env to win with 'R22_S12', got '%s'", config.Sensor)
	}
	if config.AtmosphereFile != filepath.Join(tmpDir, "atmosphere.dat") {
		t.Errorf("expected atmosphere file under base dir, got '%s'", config.AtmosphereFile)
	}
	wantLedger := filepath.Join(tmpDir, ".stargal", "ledger.db")
	if config.Ledger.Path != wantLedger {
		t.Errorf("expected ledger path %s, got %s", wantLedger, config.Ledger.Path)
	}
}

func TestNormalize(t *testing.T) {
	tmpDir := t.TempDir()
	config := Default()
	config.BaseDir = tmpDir
	config.AtmosphereFile = "/data/atmos.dat"
	config.CatalogueTemplate = "cats/stargal-{type}.pars"
	config.Metrics.Textfile = "stargal.prom"

	if err := config.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	// Idempotent.
	if err := config.Normalize(); err != nil {
		t.Fatalf("second Normalize failed: %v", err)
	}

	if config.AtmosphereFile != "/data/atmos.dat" {
		t.Errorf("absolute path changed: %s", config.AtmosphereFile)
	}
	if got, want := config.CataloguePath("stars"), filepath.Join(tmpDir, "cats", "stargal-stars.pars"); got != want {
		t.Errorf("CataloguePath(stars) = %s, want %s", got, want)
	}
	if got, want := config.Metrics.Textfile, filepath.Join(tmpDir, "stargal.prom"); got != want {
		t.Errorf("Metrics.Textfile = %s, want %s", got, want)
	}
}

func TestValidate_Valid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no types", func(c *Config) { c.Types = nil }},
		{"duplicate type", func(c *Config) { c.Types = []string{"stars", "stars"} }},
		{"type with separator", func(c *Config) { c.Types = []string{"../stars"} }},
		{"type with space", func(c *Config) { c.Types = []string{"bright stars"} }},
		{"empty sensor", func(c *Config) { c.Sensor = "" }},
		{"sensor with separator", func(c *Config) { c.Sensor = "R22/S21" }},
		{"negative first", func(c *Config) { c.Realisations.First = -1 }},
		{"count not above first", func(c *Config) { c.Realisations.Count = 1 }},
		{"template without placeholder", func(c *Config) { c.CatalogueTemplate = "cat.pars" }},
		{"missing profile", func(c *Config) { c.Simulator.Profile = "" }},
		{"negative timeout", func(c *Config) { c.Simulator.Timeout = -time.Second }},
		{"unknown backend", func(c *Config) { c.Executor.Backend = "slurm" }},
		{"local without simulator", func(c *Config) { c.Simulator.Path = "" }},
		{"batch without script", func(c *Config) { c.Executor.Backend = constants.BackendBatch }},
		{"unknown throttle", func(c *Config) { c.Throttle.Mode = "exponential" }},
		{"negative delay", func(c *Config) { c.Throttle.Delay = -time.Second }},
		{"bucket without rate", func(c *Config) { c.Throttle.Mode = constants.ThrottleTokenBucket }},
		{"bucket without burst", func(c *Config) {
			c.Throttle.Mode = constants.ThrottleTokenBucket
			c.Throttle.Rate = 1
			c.Throttle.Burst = 0
		}},
		{"unknown policy", func(c *Config) { c.OnFailure = "retry" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_SingleTypeTemplate(t *testing.T) {
	config := Default()
	config.Types = []string{"stars"}
	config.CatalogueTemplate = "stars.pars"
	if err := config.Validate(); err != nil {
		t.Errorf("single type may use a fixed template path, got error: %v", err)
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	validLevels := []string{"", "info", "debug", "trace"}

	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			config := Default()
			config.Logging.Level = level
			if err := config.Validate(); err != nil {
				t.Errorf("expected log level '%s' to be valid, got error: %v", level, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"stargal.yaml", "stargal.toml"} {
		t.Run(name, func(t *testing.T) {
			original := Default()
			original.Types = []string{"msstars", "bdgals"}
			original.Throttle.Delay = 90 * time.Second
			original.OnFailure = constants.FailureAbort

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := original.Save(path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile failed: %v", err)
			}
			if !reflect.DeepEqual(loaded.Types, original.Types) {
				t.Errorf("Types = %v, want %v", loaded.Types, original.Types)
			}
			if loaded.Throttle.Delay != 90*time.Second {
				t.Errorf("Throttle.Delay = %v, want 1m30s", loaded.Throttle.Delay)
			}
			if loaded.OnFailure != constants.FailureAbort {
				t.Errorf("OnFailure = %q, want abort", loaded.OnFailure)
			}
			if loaded.Executor.Batch.Queue != constants.DefaultBatchQueue {
				t.Errorf("Batch.Queue = %q, want %q", loaded.Executor.Batch.Queue, constants.DefaultBatchQueue)
			}
		})
	}
}

func TestSave_UnsupportedExtension(t *testing.T) {
	if err := Default().Save(filepath.Join(t.TempDir(), "stargal.json")); err == nil {
		t.Error("expected error for .json")
	}
}
