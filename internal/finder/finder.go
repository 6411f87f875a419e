// Package finder implements the import interception layer: a chain of
// module finders consulted for every import event the host runtime sees,
// plus the virtual-namespace finder that materializes packages on demand.
//
// The chain mirrors the host's own resolution discipline: each finder is
// asked whether it recognizes a request, and the first one that does is
// responsible for producing a loadable location. Finders that do not
// recognize a request decline it so resolution falls through unchanged.
package finder

import (
	"context"
	"strings"
)

// Request is a single import event as supplied by the host runtime.
// It is created once per event and discarded after resolution.
type Request struct {
	// Path is the import path, normalized to slash-separated segments.
	Path string

	// Alias is the caller's alias context, if any. Finders may use it for
	// diagnostics; it never affects recognition.
	Alias string
}

// ParseRequest builds a Request from a raw import name. Slash-separated
// paths are taken as-is. A name with no slashes is also accepted in dotted
// form ("nixpkgs.alpha.sub"), since interactive front-ends commonly present
// virtual imports that way. Names that contain slashes keep their dots
// untouched so ordinary host paths ("github.com/...") pass through intact.
func ParseRequest(name, alias string) Request {
	if !strings.Contains(name, "/") && strings.Contains(name, ".") {
		name = strings.ReplaceAll(name, ".", "/")
	}
	return Request{Path: strings.Trim(name, "/"), Alias: alias}
}

// Segments returns the slash-separated segments of the request path.
func (r Request) Segments() []string {
	if r.Path == "" {
		return nil
	}
	return strings.Split(r.Path, "/")
}

// Location is the result of a successful resolution: either an on-disk
// directory containing the package's source files, or a synthetic
// in-memory package (used for the bare namespace root).
type Location struct {
	// Dir is the directory holding the package source. Empty when the
	// location is synthetic.
	Dir string

	// Synthetic maps file names to generated contents for packages that
	// exist only in memory.
	Synthetic map[string][]byte
}

// IsSynthetic reports whether the location is served from memory.
func (l Location) IsSynthetic() bool { return l.Dir == "" }

// Finder is the polymorphic module-finder capability. CanResolve must be
// cheap and side-effect free; Resolve may perform I/O and block.
type Finder interface {
	// Name identifies the finder within a chain. Registration of a second
	// finder with the same name is a no-op.
	Name() string

	// CanResolve reports whether this finder recognizes the request.
	// Returning false means "not found by me": the chain falls through.
	CanResolve(req Request) bool

	// Resolve produces a loadable location for a recognized request.
	Resolve(ctx context.Context, req Request) (Location, error)
}
