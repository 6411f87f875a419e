package finder

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PackageResolver is the narrow view of the resolution cache the virtual
// finder needs: turn a package identifier into a materialized directory,
// or explain why that is impossible.
type PackageResolver interface {
	GetOrResolve(ctx context.Context, identifier string) (string, error)
}

// VirtualFinder recognizes import paths whose first segment equals the
// reserved virtual-namespace root and splices materialized packages into
// the host's search configuration.
type VirtualFinder struct {
	root     string
	resolver PackageResolver
	registry *PathRegistry
	log      *zap.Logger
}

// NewVirtualFinder builds a finder for the given root token. The registry
// receives one mount per successfully materialized package.
func NewVirtualFinder(root string, resolver PackageResolver, registry *PathRegistry, log *zap.Logger) *VirtualFinder {
	if log == nil {
		log = zap.NewNop()
	}
	return &VirtualFinder{
		root:     root,
		resolver: resolver,
		registry: registry,
		log:      log,
	}
}

// Name implements Finder. The name carries the root token so chains can
// host distinct virtual namespaces side by side.
func (f *VirtualFinder) Name() string {
	return "virtual:" + f.root
}

// Root returns the reserved namespace token.
func (f *VirtualFinder) Root() string {
	return f.root
}

// CanResolve implements Finder: relevant iff the first segment is the
// reserved root. Everything else is declined so the host's own resolution
// proceeds untouched.
func (f *VirtualFinder) CanResolve(req Request) bool {
	segs := req.Segments()
	return len(segs) > 0 && segs[0] == f.root
}

// Resolve implements Finder.
//
// The bare root resolves to a synthesized empty namespace: importing it
// alone always succeeds and exposes nothing. Deeper paths extract the
// package identifier (second segment), resolve it through the cache, and
// register the resulting directory scoped to (root, identifier). The
// remainder of the path is not resolved here; serving the mounted
// directory hands those segments back to the host's standard loader.
func (f *VirtualFinder) Resolve(ctx context.Context, req Request) (Location, error) {
	segs := req.Segments()
	if len(segs) == 0 || segs[0] != f.root {
		return Location{}, ErrNotRecognized
	}

	if len(segs) == 1 {
		return Location{Synthetic: f.rootPackage()}, nil
	}

	identifier := segs[1]
	dir, err := f.resolver.GetOrResolve(ctx, identifier)
	if err != nil {
		f.log.Warn("virtual package resolution failed",
			zap.String("root", f.root),
			zap.String("package", identifier),
			zap.Error(err))
		return Location{}, fmt.Errorf("cannot provide %s/%s: %w", f.root, identifier, err)
	}

	dir = f.registry.Register(f.root, identifier, dir)
	f.log.Info("virtual package mounted",
		zap.String("root", f.root),
		zap.String("package", identifier),
		zap.String("dir", dir))
	return Location{Dir: dir}, nil
}

// rootPackage synthesizes the empty namespace package served when the
// bare root is imported. The root token is validated at configuration
// time to be a legal identifier, so it can name the package directly.
func (f *VirtualFinder) rootPackage() map[string][]byte {
	src := fmt.Sprintf("// Package %s is a virtual namespace; its packages are\n"+
		"// materialized on demand at first import.\n"+
		"package %s\n", f.root, f.root)
	return map[string][]byte{"doc.go": []byte(src)}
}
