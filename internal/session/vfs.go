package session

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"niximport/internal/finder"
)

// sourceFS is the splice point into the interpreter's module-loading
// pipeline. The interpreter resolves `import "x/y"` by statting and
// reading `<gopath>/src/x/y` through this filesystem, so the first read
// of a path under the reserved root is the import event that triggers
// resolution. Paths outside the root are forwarded unchanged to the
// fallback filesystem (or reported absent), never swallowed.
//
// A package directory only becomes visible here after the materializer
// has returned success, so there is no partial-visibility window.
type sourceFS struct {
	goPath   string
	root     string
	chain    *finder.Chain
	registry *finder.PathRegistry
	fallback fs.FS
	log      *zap.Logger

	// mount serves a resolved package directory.
	mount func(dir string) fs.FS
}

var (
	_ fs.FS        = (*sourceFS)(nil)
	_ fs.StatFS    = (*sourceFS)(nil)
	_ fs.ReadDirFS = (*sourceFS)(nil)
)

func newSourceFS(goPath, root string, chain *finder.Chain, registry *finder.PathRegistry, fallback fs.FS, log *zap.Logger) *sourceFS {
	if log == nil {
		log = zap.NewNop()
	}
	return &sourceFS{
		goPath:   goPath,
		root:     root,
		chain:    chain,
		registry: registry,
		fallback: fallback,
		log:      log,
		mount:    mountDir,
	}
}

// target classifies a filesystem request against the virtual namespace.
type target struct {
	virtual  bool
	pkg      string   // second segment; empty for the bare root
	rest     []string // segments below the package directory
	rootFile string   // synthetic file directly under the bare root
	relPath  string   // path relative to <gopath>/src, for fallback serving
}

// classify normalizes a request path and decides whether it addresses the
// virtual root. Backslashes are tolerated because the interpreter builds
// source paths with the platform separator.
func (s *sourceFS) classify(name string) (target, bool) {
	norm := strings.ReplaceAll(name, `\`, "/")
	norm = path.Clean(strings.TrimPrefix(norm, "/"))

	prefix := s.goPath + "/src"
	if norm == prefix {
		return target{}, false
	}
	if !strings.HasPrefix(norm, prefix+"/") {
		return target{}, false
	}
	rel := norm[len(prefix)+1:]
	segs := strings.Split(rel, "/")
	if segs[0] != s.root {
		return target{virtual: false, relPath: rel}, true
	}

	t := target{virtual: true, relPath: rel}
	if len(segs) > 1 {
		// A .go entry directly under the root belongs to the synthesized
		// root package, not to a virtual package of that name.
		if len(segs) == 2 && strings.HasSuffix(segs[1], ".go") {
			t.rootFile = segs[1]
			return t, true
		}
		t.pkg = segs[1]
		t.rest = segs[2:]
	}
	return t, true
}

func (s *sourceFS) Open(name string) (fs.File, error) {
	f, err := s.open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

func (s *sourceFS) open(name string) (fs.File, error) {
	t, ok := s.classify(name)
	if !ok {
		return nil, fs.ErrNotExist
	}
	if !t.virtual {
		return s.fallbackOpen(t.relPath)
	}

	if t.rootFile != "" {
		return s.rootDir().open(t.rootFile)
	}
	if t.pkg == "" {
		return s.rootDir().open(".")
	}

	dir, err := s.ensure(t.pkg)
	if err != nil {
		return nil, err
	}
	f, err := s.mount(dir).Open(joinRest(t.rest))
	if err != nil {
		// The package resolved but this entry does not exist inside it:
		// an ordinary not-found for the standard loader to report.
		return nil, fs.ErrNotExist
	}
	return f, nil
}

func (s *sourceFS) Stat(name string) (fs.FileInfo, error) {
	t, ok := s.classify(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	if !t.virtual {
		return s.fallbackStat(name, t.relPath)
	}

	if t.rootFile != "" {
		return s.rootDir().stat(t.rootFile)
	}
	if t.pkg == "" {
		return s.rootDir().stat(".")
	}

	// Stat stays passive: the host probes candidate directories with it
	// and discards the error detail, so materialization (and its
	// diagnostics) is deferred to Open/ReadDir. Unmounted virtual paths
	// claim to be directories; the truth is established on first read.
	if dir, ok := s.registry.Lookup(s.root, t.pkg); ok {
		info, err := fs.Stat(s.mount(dir), joinRest(t.rest))
		if err != nil {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
		}
		return info, nil
	}
	return memInfo{name: path.Base(t.relPath), dir: true}, nil
}

func (s *sourceFS) ReadDir(name string) ([]fs.DirEntry, error) {
	t, ok := s.classify(name)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	if !t.virtual {
		if s.fallback == nil {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
		}
		return fs.ReadDir(s.fallback, t.relPath)
	}

	if t.rootFile != "" {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if t.pkg == "" {
		return s.rootDir().entries(), nil
	}
	dir, err := s.ensure(t.pkg)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	entries, err := fs.ReadDir(s.mount(dir), joinRest(t.rest))
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return entries, nil
}

// ensure resolves the package through the finder chain. The chain's
// cache guarantees at most one materializer invocation per identifier,
// so repeated filesystem touches are cheap map hits.
func (s *sourceFS) ensure(pkg string) (string, error) {
	if dir, ok := s.registry.Lookup(s.root, pkg); ok {
		return dir, nil
	}
	req := finder.ParseRequest(s.root+"/"+pkg, "")
	loc, err := s.chain.Resolve(context.Background(), req)
	if err != nil {
		return "", err
	}
	return loc.Dir, nil
}

func (s *sourceFS) fallbackOpen(rel string) (fs.File, error) {
	if s.fallback == nil {
		return nil, fs.ErrNotExist
	}
	return s.fallback.Open(rel)
}

func (s *sourceFS) fallbackStat(name, rel string) (fs.FileInfo, error) {
	if s.fallback == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fs.Stat(s.fallback, rel)
}

// rootDir synthesizes the bare-root namespace package: importing the root
// alone succeeds and exposes nothing.
func (s *sourceFS) rootDir() *memDir {
	loc, err := s.chain.Resolve(context.Background(), finder.ParseRequest(s.root, ""))
	files := loc.Synthetic
	if err != nil || len(files) == 0 {
		files = map[string][]byte{"doc.go": []byte("package " + s.root + "\n")}
	}
	return &memDir{name: s.root, files: files}
}

func joinRest(rest []string) string {
	if len(rest) == 0 {
		return "."
	}
	return path.Join(rest...)
}

// memDir is an in-memory directory holding a synthetic package.
type memDir struct {
	name  string
	files map[string][]byte
}

func (d *memDir) open(name string) (fs.File, error) {
	if name == "." {
		return &memDirHandle{dir: d}, nil
	}
	data, ok := d.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return &memFile{name: name, data: data}, nil
}

func (d *memDir) stat(name string) (fs.FileInfo, error) {
	if name == "." {
		return memInfo{name: d.name, dir: true}, nil
	}
	data, ok := d.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return memInfo{name: name, size: int64(len(data))}, nil
}

func (d *memDir) entries() []fs.DirEntry {
	entries := make([]fs.DirEntry, 0, len(d.files))
	for name, data := range d.files {
		entries = append(entries, memEntry{info: memInfo{name: name, size: int64(len(data))}})
	}
	return entries
}

type memFile struct {
	name   string
	data   []byte
	offset int
}

func (f *memFile) Stat() (fs.FileInfo, error) {
	return memInfo{name: f.name, size: int64(len(f.data))}, nil
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.offset:])
	f.offset += n
	return n, nil
}

func (f *memFile) Close() error { return nil }

type memDirHandle struct {
	dir    *memDir
	served bool
}

func (h *memDirHandle) Stat() (fs.FileInfo, error) {
	return memInfo{name: h.dir.name, dir: true}, nil
}

func (h *memDirHandle) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: h.dir.name, Err: fs.ErrInvalid}
}

func (h *memDirHandle) Close() error { return nil }

func (h *memDirHandle) ReadDir(n int) ([]fs.DirEntry, error) {
	if h.served {
		if n <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}
	h.served = true
	return h.dir.entries(), nil
}

type memEntry struct {
	info memInfo
}

func (e memEntry) Name() string               { return e.info.name }
func (e memEntry) IsDir() bool                { return e.info.dir }
func (e memEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e memEntry) Info() (fs.FileInfo, error) { return e.info, nil }

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() interface{}   { return nil }
