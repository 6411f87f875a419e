package session

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niximport/internal/finder"
	"niximport/internal/materialize"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls map[string]int
	paths map[string]string
	errs  map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls: make(map[string]int),
		paths: make(map[string]string),
		errs:  make(map[string]error),
	}
}

func (r *fakeResolver) GetOrResolve(ctx context.Context, identifier string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[identifier]++
	if err, ok := r.errs[identifier]; ok {
		return "", err
	}
	if path, ok := r.paths[identifier]; ok {
		return path, nil
	}
	return "", &materialize.BuildError{Identifier: identifier, ExitCode: 1, Stderr: "unknown package"}
}

// newTestFS wires a sourceFS over a fake resolver, skipping the real
// cache and subprocess layers.
func newTestFS(t *testing.T, resolver *fakeResolver, fallback fs.FS) *sourceFS {
	t.Helper()
	chain := finder.NewChain()
	registry := finder.NewPathRegistry()
	chain.Register(finder.NewVirtualFinder("nixpkgs", resolver, registry, nil))
	return newSourceFS("go", "nixpkgs", chain, registry, fallback, nil)
}

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestSourceFS_ServesMaterializedPackage(t *testing.T) {
	resolver := newFakeResolver()
	resolver.paths["alpha"] = writePackage(t, map[string]string{
		"alpha.go":   "package alpha\n\nfunc Greet() string { return \"hi\" }\n",
		"sub/sub.go": "package sub\n",
	})
	vfs := newTestFS(t, resolver, nil)

	// The host probes with Stat before reading; probes are cheap and do
	// not materialize anything.
	info, err := vfs.Stat("go/src/nixpkgs/alpha")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	resolver.mu.Lock()
	assert.Empty(t, resolver.calls, "stat probes must not invoke resolution")
	resolver.mu.Unlock()

	entries, err := vfs.ReadDir("go/src/nixpkgs/alpha")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "alpha.go")
	assert.Contains(t, names, "sub")

	data, err := fs.ReadFile(vfs, "go/src/nixpkgs/alpha/alpha.go")
	require.NoError(t, err)
	assert.Contains(t, string(data), "func Greet()")

	// Submodule directories are served by the same mount.
	sub, err := fs.ReadFile(vfs, "go/src/nixpkgs/alpha/sub/sub.go")
	require.NoError(t, err)
	assert.Contains(t, string(sub), "package sub")

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Equal(t, 1, resolver.calls["alpha"],
		"repeated filesystem touches must resolve at most once")
}

func TestSourceFS_MissingSubmoduleIsPlainNotFound(t *testing.T) {
	resolver := newFakeResolver()
	resolver.paths["alpha"] = writePackage(t, map[string]string{
		"alpha.go": "package alpha\n",
	})
	vfs := newTestFS(t, resolver, nil)

	_, err := vfs.ReadDir("go/src/nixpkgs/alpha/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	var be *materialize.BuildError
	assert.False(t, errors.As(err, &be),
		"a missing submodule inside a resolved package is not a build failure")
}

func TestSourceFS_ResolutionFailureCarriesDiagnostic(t *testing.T) {
	resolver := newFakeResolver()
	resolver.errs["bad"] = &materialize.BuildError{
		Identifier: "bad",
		ExitCode:   1,
		Stderr:     "attribute 'bad' not found",
	}
	vfs := newTestFS(t, resolver, nil)

	_, err := vfs.Open("go/src/nixpkgs/bad/bad.go")
	require.Error(t, err)

	var be *materialize.BuildError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, "attribute 'bad' not found", be.Stderr)
	assert.Contains(t, err.Error(), "attribute 'bad' not found")
}

func TestSourceFS_BareRootIsEmptyPackage(t *testing.T) {
	resolver := newFakeResolver()
	vfs := newTestFS(t, resolver, nil)

	info, err := vfs.Stat("go/src/nixpkgs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := vfs.ReadDir("go/src/nixpkgs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.go", entries[0].Name())

	data, err := fs.ReadFile(vfs, "go/src/nixpkgs/doc.go")
	require.NoError(t, err)
	assert.Contains(t, string(data), "package nixpkgs")

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Empty(t, resolver.calls, "bare root must not invoke resolution")
}

func TestSourceFS_NonVirtualPathsFallThrough(t *testing.T) {
	resolver := newFakeResolver()

	// Without a fallback, unrelated paths are simply absent.
	vfs := newTestFS(t, resolver, nil)
	_, err := vfs.Open("go/src/other/thing.go")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	// The interpreter probes vendor directories first; those must fall
	// through too, not trigger resolution.
	_, err = vfs.Stat("go/src/vendor/nixpkgs/alpha")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	// With a fallback configured, unrelated paths are served unchanged.
	fallbackDir := writePackage(t, map[string]string{
		"other/thing.go": "package other\n",
	})
	vfs = newTestFS(t, resolver, os.DirFS(fallbackDir))
	data, err := fs.ReadFile(vfs, "go/src/other/thing.go")
	require.NoError(t, err)
	assert.Contains(t, string(data), "package other")

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Empty(t, resolver.calls)
}

func TestSourceFS_ToleratesPlatformSeparators(t *testing.T) {
	resolver := newFakeResolver()
	resolver.paths["alpha"] = writePackage(t, map[string]string{
		"alpha.go": "package alpha\n",
	})
	vfs := newTestFS(t, resolver, nil)

	data, err := fs.ReadFile(vfs, `go\src\nixpkgs\alpha\alpha.go`)
	require.NoError(t, err)
	assert.Contains(t, string(data), "package alpha")
}

func TestSourceFS_PathsOutsideGopathAreAbsent(t *testing.T) {
	vfs := newTestFS(t, newFakeResolver(), nil)

	for _, name := range []string{"elsewhere/file.go", "go", "go/src"} {
		_, err := vfs.Open(name)
		assert.True(t, errors.Is(err, fs.ErrNotExist), "Open(%q) = %v", name, err)
	}
}
