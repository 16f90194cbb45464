package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/stargal/internal/config"
	"github.com/nvandessel/stargal/internal/constants"
)

// writeScript creates an executable shell script standing in for the simulator.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func testInvocation(dir string) Invocation {
	return Invocation{
		Catalogue: filepath.Join(dir, "cat-stars-atm1.dat"),
		Profile:   "examples/nobackground",
		Sensor:    "R22_S21",
		WorkDir:   dir,
		OutDir:    filepath.Join(dir, "out"),
	}
}

func TestInvocation_Args(t *testing.T) {
	inv := Invocation{
		Catalogue: "/w/cat-stars-atm3.dat",
		Profile:   "examples/nobackground",
		Sensor:    "R22_S21",
		WorkDir:   "/w",
		OutDir:    "/o",
	}
	want := []string{"/w/cat-stars-atm3.dat", "-c", "examples/nobackground", "-s", "R22_S21", "-w", "/w", "-o", "/o"}
	if got := inv.Args(); !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}

func TestLocal_Success(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	sim := writeScript(t, dir, "phosim", `echo "$@" > "`+argsFile+`"`)

	local := NewLocal(LocalConfig{Path: sim})
	res, err := local.Run(context.Background(), testInvocation(dir))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success() || res.ExitCode != 0 {
		t.Errorf("expected success, got %+v", res)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("simulator did not record its arguments: %v", err)
	}
	want := strings.Join(testInvocation(dir).Args(), " ")
	if strings.TrimSpace(string(data)) != want {
		t.Errorf("simulator args = %q, want %q", strings.TrimSpace(string(data)), want)
	}
}

func TestLocal_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	sim := writeScript(t, dir, "phosim", "exit 3")

	res, err := NewLocal(LocalConfig{Path: sim}).Run(context.Background(), testInvocation(dir))
	if err != nil {
		t.Fatalf("non-zero exit must not be an invocation error: %v", err)
	}
	if res.Success() || res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %+v", res)
	}
	if res.State != "exit status 3" {
		t.Errorf("State = %q, want %q", res.State, "exit status 3")
	}
}

func TestLocal_LaunchFailure(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "no-phosim")

	_, err := NewLocal(LocalConfig{Path: missing}).Run(context.Background(), testInvocation(dir))
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Command != missing {
		t.Errorf("Command = %s, want %s", invErr.Command, missing)
	}
}

func TestLocal_RelativePathResolvesAgainstDir(t *testing.T) {
	install := t.TempDir()
	marker := filepath.Join(install, "ran")
	writeScript(t, install, "phosim", `touch "`+marker+`"`)

	local := NewLocal(LocalConfig{Path: "./phosim", Dir: install})
	res, err := local.Run(context.Background(), testInvocation(t.TempDir()))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success() {
		t.Errorf("expected success, got %+v", res)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("simulator in Dir was not run: %v", err)
	}
}

func TestLocal_LogFile(t *testing.T) {
	dir := t.TempDir()
	sim := writeScript(t, dir, "phosim", `echo "tracing photons"; echo "warning: bright star" >&2`)

	local := NewLocal(LocalConfig{Path: sim, LogFile: "phosim.log"})
	if _, err := local.Run(context.Background(), testInvocation(dir)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "phosim.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "tracing photons") || !strings.Contains(string(data), "bright star") {
		t.Errorf("log file = %q", string(data))
	}
}

func TestLocal_CapturesOutputWriters(t *testing.T) {
	dir := t.TempDir()
	sim := writeScript(t, dir, "phosim", `echo out; echo err >&2`)

	var stdout, stderr bytes.Buffer
	local := NewLocal(LocalConfig{Path: sim})
	local.Stdout, local.Stderr = &stdout, &stderr
	if _, err := local.Run(context.Background(), testInvocation(dir)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stdout.String() != "out\n" || stderr.String() != "err\n" {
		t.Errorf("stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestLocal_Timeout(t *testing.T) {
	dir := t.TempDir()
	sim := writeScript(t, dir, "phosim", "exec sleep 5")

	local := NewLocal(LocalConfig{Path: sim, Timeout: 100 * time.Millisecond})
	res, err := local.Run(context.Background(), testInvocation(dir))
	if err != nil {
		t.Fatalf("timeout must not be an invocation error: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("expected TimedOut, got %+v", res)
	}
	if res.Success() {
		t.Error("timed out run must not be a success")
	}
	if res.Duration >= 5*time.Second {
		t.Errorf("run was not cut short: %v", res.Duration)
	}
}

func TestBatch_Command(t *testing.T) {
	b := NewBatch(BatchConfig{
		Submit:      "bsub",
		Queue:       "xlong",
		Resources:   "rhel60",
		Interpreter: "python",
		Script:      "/afs/phosim-3.3.2/phosim.py",
	})
	inv := Invocation{Catalogue: "/w/cat.dat", Profile: "p", Sensor: "R22_S21", WorkDir: "/w", OutDir: "/o"}

	want := []string{
		"bsub", "-q", "xlong", "-o", filepath.Join("/w", "log.log"), "-R", "rhel60",
		"python", "/afs/phosim-3.3.2/phosim.py",
		"/w/cat.dat", "-c", "p", "-s", "R22_S21", "-w", "/w", "-o", "/o",
	}
	if got := b.Command(inv); !reflect.DeepEqual(got, want) {
		t.Errorf("Command() = %q\nwant %q", got, want)
	}
}

func TestBatch_CommandOmitsEmptyOptions(t *testing.T) {
	b := NewBatch(BatchConfig{Submit: "bsub", Script: "phosim.py"})
	got := b.Command(Invocation{WorkDir: "/w"})
	for _, flag := range []string{"-q", "-R"} {
		for _, a := range got {
			if a == flag {
				t.Errorf("Command() should omit %s when unset: %q", flag, got)
			}
		}
	}
	if got[3] != "phosim.py" {
		t.Errorf("script should follow the log option, got %q", got)
	}
}

func TestBatch_RunReportsSubmitStatus(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "submitted.txt")
	submit := writeScript(t, dir, "bsub", `echo "$@" > "`+argsFile+`"; exit 255`)

	b := NewBatch(BatchConfig{Submit: submit, Queue: "long", Script: "phosim.py"})
	b.Stdout, b.Stderr = &bytes.Buffer{}, &bytes.Buffer{}
	res, err := b.Run(context.Background(), testInvocation(dir))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 255 {
		t.Errorf("ExitCode = %d, want 255", res.ExitCode)
	}

	data, _ := os.ReadFile(argsFile)
	if !strings.HasPrefix(string(data), "-q long -o ") {
		t.Errorf("submitted args = %q", string(data))
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default()

	ex, err := New(cfg)
	if err != nil {
		t.Fatalf("New(local) failed: %v", err)
	}
	if ex.Name() != "local" {
		t.Errorf("Name() = %s, want local", ex.Name())
	}

	cfg.Executor.Backend = constants.BackendBatch
	cfg.Executor.Batch.Script = "phosim.py"
	ex, err = New(cfg)
	if err != nil {
		t.Fatalf("New(batch) failed: %v", err)
	}
	if ex.Name() != "batch" {
		t.Errorf("Name() = %s, want batch", ex.Name())
	}

	cfg.Executor.Backend = "slurm"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}
