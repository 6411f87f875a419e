package materialize

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern admits bare package names only: no path separators,
// no shell metacharacters, no leading dash or dot (so an identifier can
// never be mistaken for a flag or a relative path when handed to the
// build tool as a process argument).
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._+-]*$`)

// ValidateIdentifier checks a package identifier before it is allowed
// anywhere near a subprocess invocation.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	if strings.ContainsAny(identifier, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentifier, identifier)
	}
	if !identifierPattern.MatchString(identifier) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
	return nil
}
