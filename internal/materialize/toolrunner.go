// Package materialize turns package identifiers into concrete filesystem
// locations by invoking an external, content-addressed build tool as a
// subprocess. It is the only place in the resolver that performs I/O
// beyond module loading.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Materializer is the narrow capability the cache builds on: one
// identifier in, one usable path (or a classified failure) out. Exactly
// one external invocation happens per call; retry policy lives entirely
// in the caller.
type Materializer interface {
	Materialize(ctx context.Context, identifier string) (string, error)
}

// Indexer is an optional capability: enumerate the package identifiers
// the build tool knows about, for completion and the list command.
type Indexer interface {
	Index(ctx context.Context) ([]string, error)
}

// ErrIndexUnsupported is returned by Index when no list invocation is
// configured.
var ErrIndexUnsupported = errors.New("build tool has no list invocation configured")

// PackagePlaceholder is substituted with the identifier inside the
// configured argument template. If no argument contains it, the
// identifier is appended as the final argument.
const PackagePlaceholder = "{pkg}"

// ToolConfig describes how to invoke the external build tool.
type ToolConfig struct {
	// Binary is the build tool executable.
	Binary string

	// Args is the argument template; PackagePlaceholder is replaced with
	// the identifier.
	Args []string

	// ListArgs, when non-empty, is a fixed argument list whose stdout is
	// one available package identifier per line.
	ListArgs []string

	// Timeout bounds each invocation. A hung build tool must never wedge
	// the whole process's ability to import.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr individually.
	MaxOutputBytes int64

	// PathGlobs, when non-empty, are patterns tried inside the tool's
	// output path to locate the importable source root. The first pattern
	// with an existing directory match wins; with no match the output
	// path itself is used.
	PathGlobs []string

	// WorkDir is the working directory for invocations. Empty means the
	// process's current directory.
	WorkDir string
}

const (
	defaultTimeout        = 5 * time.Minute
	defaultMaxOutputBytes = 10 << 20
)

// ToolRunner invokes the build tool synchronously and derives the
// materialized path from its stdout.
//
// Parsing rule (fixed): the last non-empty line of stdout, trimmed of
// surrounding whitespace, is the path. Tools like nix-build print one
// store path per line with the requested derivation last, so the last
// line is the unambiguous choice. Non-zero exit or empty stdout is always
// a failure regardless of textual content.
type ToolRunner struct {
	cfg ToolConfig
	log *zap.Logger
}

// NewToolRunner builds a runner, filling in defaults for unset limits.
func NewToolRunner(cfg ToolConfig, log *zap.Logger) *ToolRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ToolRunner{cfg: cfg, log: log}
}

// Materialize implements Materializer.
func (t *ToolRunner) Materialize(ctx context.Context, identifier string) (string, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	args := t.expandArgs(identifier)

	log := t.log.With(
		zap.String("request_id", requestID),
		zap.String("package", identifier))
	log.Info("invoking build tool",
		zap.String("binary", t.cfg.Binary),
		zap.Strings("args", args),
		zap.Duration("timeout", t.cfg.Timeout))

	stdout, stderr, exitCode, runErr := t.run(ctx, args)

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			log.Warn("build tool timed out", zap.Duration("limit", t.cfg.Timeout))
			return "", &TimeoutError{Identifier: identifier, Limit: t.cfg.Timeout}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			log.Warn("build tool exited non-zero",
				zap.Int("exit_code", exitCode),
				zap.String("stderr", stderr))
			return "", &BuildError{Identifier: identifier, ExitCode: exitCode, Stderr: stderr}
		}
		// The subprocess never started.
		log.Warn("build tool failed to start", zap.Error(runErr))
		return "", &BuildError{
			Identifier: identifier,
			ExitCode:   -1,
			Stderr:     fmt.Sprintf("failed to start %s: %v", t.cfg.Binary, runErr),
		}
	}

	path := lastNonEmptyLine(stdout)
	if path == "" {
		return "", &BuildError{
			Identifier: identifier,
			ExitCode:   exitCode,
			Stderr:     withFallback(stderr, "build tool produced no output path"),
		}
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", &BuildError{
			Identifier: identifier,
			ExitCode:   exitCode,
			Stderr:     withFallback(stderr, fmt.Sprintf("build tool output %q is not a readable directory", path)),
		}
	}

	resolved := t.refinePath(path)
	log.Info("package materialized", zap.String("path", resolved))
	return resolved, nil
}

// Index implements Indexer using the configured list invocation.
func (t *ToolRunner) Index(ctx context.Context) ([]string, error) {
	if len(t.cfg.ListArgs) == 0 {
		return nil, ErrIndexUnsupported
	}

	stdout, stderr, exitCode, runErr := t.run(ctx, t.cfg.ListArgs)
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			return nil, &TimeoutError{Identifier: "", Limit: t.cfg.Timeout}
		}
		return nil, &BuildError{Identifier: "", ExitCode: exitCode, Stderr: withFallback(stderr, runErr.Error())}
	}

	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || ValidateIdentifier(line) != nil {
			continue
		}
		names = append(names, line)
	}
	return names, nil
}

// run executes one invocation and captures its output. The returned exit
// code is -1 when the process never ran.
func (t *ToolRunner) run(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	execCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.cfg.Binary, args...)
	cmd.Dir = t.cfg.WorkDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, max: t.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, max: t.cfg.MaxOutputBytes}

	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = strings.TrimSpace(stderrBuf.String())
	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if execCtx.Err() == context.DeadlineExceeded {
		err = context.DeadlineExceeded
	}
	return stdout, stderr, exitCode, err
}

// expandArgs substitutes the identifier into the argument template.
func (t *ToolRunner) expandArgs(identifier string) []string {
	args := make([]string, 0, len(t.cfg.Args)+1)
	substituted := false
	for _, arg := range t.cfg.Args {
		if strings.Contains(arg, PackagePlaceholder) {
			arg = strings.ReplaceAll(arg, PackagePlaceholder, identifier)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, identifier)
	}
	return args
}

// refinePath applies the configured globs inside the tool's output path
// to locate the importable source root.
func (t *ToolRunner) refinePath(path string) string {
	for _, pattern := range t.cfg.PathGlobs {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			t.log.Warn("bad path glob", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, match := range matches {
			if info, err := os.Stat(match); err == nil && info.IsDir() {
				return match
			}
		}
	}
	return path
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func withFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// limitedWriter caps how much subprocess output is retained; the excess
// is discarded, not an error, so a chatty build tool cannot exhaust
// memory.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}
