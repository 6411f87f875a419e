package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeTool writes an executable fixture standing in for the build tool.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script build tool fixtures are unix-only")
	}
	path := filepath.Join(t.TempDir(), "fake-build-tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestToolRunner_Success(t *testing.T) {
	store := t.TempDir()
	tool := writeTool(t, "echo 'these derivations will be built:'\necho '"+store+"'\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 30 * time.Second}, nil)
	path, err := r.Materialize(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if path != store {
		t.Errorf("path = %q, want last stdout line %q", path, store)
	}
}

func TestToolRunner_PlaceholderSubstitution(t *testing.T) {
	store := t.TempDir()
	outFile := filepath.Join(t.TempDir(), "args")
	tool := writeTool(t, `echo "$@" > `+outFile+"\necho '"+store+"'\n")

	r := NewToolRunner(ToolConfig{
		Binary:  tool,
		Args:    []string{"--attr", "pkgs.{pkg}", "--no-out-link"},
		Timeout: 30 * time.Second,
	}, nil)
	if _, err := r.Materialize(context.Background(), "alpha"); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	got, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "--attr pkgs.alpha --no-out-link"
	if strings.TrimSpace(string(got)) != want {
		t.Errorf("tool saw args %q, want %q", strings.TrimSpace(string(got)), want)
	}
}

func TestToolRunner_NonZeroExitCarriesStderr(t *testing.T) {
	tool := writeTool(t, "echo \"error: attribute 'alpha' missing\" >&2\nexit 1\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 30 * time.Second}, nil)
	_, err := r.Materialize(context.Background(), "alpha")

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if be.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", be.ExitCode)
	}
	if be.Stderr != "error: attribute 'alpha' missing" {
		t.Errorf("stderr not captured verbatim: %q", be.Stderr)
	}
}

func TestToolRunner_Timeout(t *testing.T) {
	tool := writeTool(t, "sleep 10\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 300 * time.Millisecond}, nil)
	start := time.Now()
	_, err := r.Materialize(context.Background(), "alpha")
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Limit != 300*time.Millisecond {
		t.Errorf("limit = %v, want 300ms", te.Limit)
	}
	if elapsed > 5*time.Second {
		t.Errorf("timeout did not bound the call, elapsed %v", elapsed)
	}
}

func TestToolRunner_EmptyOutputIsFailure(t *testing.T) {
	tool := writeTool(t, "exit 0\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 30 * time.Second}, nil)
	_, err := r.Materialize(context.Background(), "alpha")

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError for empty output, got %v", err)
	}
}

func TestToolRunner_NonexistentPathIsFailure(t *testing.T) {
	tool := writeTool(t, "echo /definitely/not/a/real/store/path\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 30 * time.Second}, nil)
	_, err := r.Materialize(context.Background(), "alpha")

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError for missing path, got %v", err)
	}
}

func TestToolRunner_StartFailureIsFailure(t *testing.T) {
	r := NewToolRunner(ToolConfig{
		Binary:  filepath.Join(t.TempDir(), "does-not-exist"),
		Timeout: 30 * time.Second,
	}, nil)
	_, err := r.Materialize(context.Background(), "alpha")

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError for start failure, got %v", err)
	}
	if be.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for a process that never ran", be.ExitCode)
	}
}

func TestToolRunner_InvalidIdentifierNeverExecutes(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "executed")
	tool := writeTool(t, "touch "+marker+"\necho /tmp\n")

	r := NewToolRunner(ToolConfig{Binary: tool, Timeout: 30 * time.Second}, nil)
	for _, id := range []string{"", "a/b", "a;b", "../x"} {
		if _, err := r.Materialize(context.Background(), id); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Materialize(%q) = %v, want ErrInvalidIdentifier", id, err)
		}
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("build tool was executed for an invalid identifier")
	}
}

func TestToolRunner_PathGlobRefinement(t *testing.T) {
	store := t.TempDir()
	srcRoot := filepath.Join(store, "lib", "go", "src")
	if err := os.MkdirAll(srcRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	tool := writeTool(t, "echo '"+store+"'\n")

	r := NewToolRunner(ToolConfig{
		Binary:    tool,
		Timeout:   30 * time.Second,
		PathGlobs: []string{"lib/*/src", "share/src"},
	}, nil)
	path, err := r.Materialize(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if path != srcRoot {
		t.Errorf("path = %q, want glob-refined %q", path, srcRoot)
	}
}

func TestToolRunner_Index(t *testing.T) {
	tool := writeTool(t, "echo alpha\necho beta\necho ''\necho 'not a name!'\n")

	r := NewToolRunner(ToolConfig{
		Binary:   tool,
		ListArgs: []string{"--list"},
		Timeout:  30 * time.Second,
	}, nil)
	names, err := r.Index(context.Background())
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v, want [alpha beta]", names)
	}
}

func TestToolRunner_IndexUnsupported(t *testing.T) {
	r := NewToolRunner(ToolConfig{Binary: "true", Timeout: time.Second}, nil)
	if _, err := r.Index(context.Background()); !errors.Is(err, ErrIndexUnsupported) {
		t.Errorf("Index = %v, want ErrIndexUnsupported", err)
	}
}
