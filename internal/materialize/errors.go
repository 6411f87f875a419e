package materialize

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidIdentifier marks identifiers that fail syntactic validation.
// Invalid identifiers never reach the build tool.
var ErrInvalidIdentifier = errors.New("invalid package identifier")

// BuildError reports that the build tool ran but produced no usable
// package: non-zero exit, malformed output, or an output path that does
// not exist on disk. Stderr carries the tool's diagnostic text verbatim.
type BuildError struct {
	Identifier string
	ExitCode   int
	Stderr     string
}

func (e *BuildError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("build of %q failed (exit code %d)", e.Identifier, e.ExitCode)
	}
	return fmt.Sprintf("build of %q failed (exit code %d): %s", e.Identifier, e.ExitCode, e.Stderr)
}

// TimeoutError reports that the build tool exceeded the allotted time.
// It is distinct from BuildError so callers can tell "package does not
// exist" apart from "slow network or build".
type TimeoutError struct {
	Identifier string
	Limit      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("build of %q timed out after %s", e.Identifier, e.Limit)
}

// Diagnostic extracts the human-readable diagnostic text carried by a
// resolution error, for surfacing to the importing statement.
func Diagnostic(err error) string {
	var be *BuildError
	if errors.As(err, &be) && be.Stderr != "" {
		return be.Stderr
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
