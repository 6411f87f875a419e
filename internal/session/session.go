// Package session hosts the embedded Go interpreter and wires the
// on-demand import resolver into its module-loading pipeline. A session
// owns one interpreter; the finder chain it registers into may be shared
// process-wide.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"niximport/internal/cache"
	"niximport/internal/config"
	"niximport/internal/finder"
	"niximport/internal/materialize"
)

// interpGoPath is the virtual GOPATH presented to the interpreter; all
// source imports resolve beneath <interpGoPath>/src inside sourceFS.
const interpGoPath = "go"

// Session is an interactive interpreter with virtual-namespace imports.
type Session struct {
	cfg      *config.Config
	interp   *interp.Interpreter
	chain    *finder.Chain
	cache    *cache.Cache
	runner   *materialize.ToolRunner
	registry *finder.PathRegistry
	log      *zap.Logger
}

// New builds a session registered into the process-wide finder chain.
func New(cfg *config.Config, log *zap.Logger) (*Session, error) {
	return NewWithChain(cfg, finder.Default(), log)
}

// NewWithChain builds a session on an explicit chain; tests use private
// chains for isolation. Registration is idempotent: building two sessions
// for the same root on one chain installs a single finder.
func NewWithChain(cfg *config.Config, chain *finder.Chain, log *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	runner := materialize.NewToolRunner(cfg.RunnerConfig(), log.Named("materialize"))
	rc := cache.New(runner, cache.Options{StickyFailures: cfg.Cache.StickyFailures}, log.Named("cache"))
	registry := finder.NewPathRegistry()

	vf := finder.NewVirtualFinder(cfg.Root, resolverAdapter{rc}, registry, log.Named("finder"))
	chain.Register(vf)

	var fallback fs.FS
	if dir := cfg.Session.SourceFallback; dir != "" {
		fallback = os.DirFS(dir)
	}
	vfs := newSourceFS(interpGoPath, cfg.Root, chain, registry, fallback, log.Named("vfs"))

	i := interp.New(interp.Options{
		GoPath:               interpGoPath,
		SourcecodeFilesystem: vfs,
		Stdout:               os.Stdout,
		Stderr:               os.Stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}

	return &Session{
		cfg:      cfg,
		interp:   i,
		chain:    chain,
		cache:    rc,
		runner:   runner,
		registry: registry,
		log:      log,
	}, nil
}

// resolverAdapter narrows the cache to the finder's view of it.
type resolverAdapter struct {
	c *cache.Cache
}

func (a resolverAdapter) GetOrResolve(ctx context.Context, identifier string) (string, error) {
	return a.c.GetOrResolvePath(ctx, identifier)
}

// Eval evaluates a chunk of source in the session.
func (s *Session) Eval(ctx context.Context, src string) (reflect.Value, error) {
	return s.interp.EvalWithContext(ctx, src)
}

// Resolve materializes a single package without importing it and returns
// its record. The CLI resolve command uses this for one-shot lookups.
func (s *Session) Resolve(ctx context.Context, identifier string) (*cache.Record, error) {
	return s.cache.GetOrResolve(ctx, identifier)
}

// Packages enumerates the identifiers the build tool can materialize,
// when a list invocation is configured. Index failures are reported, not
// fatal: imports keep working without the index.
func (s *Session) Packages(ctx context.Context) ([]string, error) {
	return s.runner.Index(ctx)
}

// Root returns the reserved namespace token.
func (s *Session) Root() string {
	return s.cfg.Root
}

// Run reads source lines from in and evaluates them until EOF. Import
// failures are printed and the loop continues; a failed import of one
// virtual package never impairs later imports.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "virtual namespace %q ready; try: import \"%s/<package>\"\n", s.cfg.Root, s.cfg.Root)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		v, err := s.Eval(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if v.IsValid() {
			fmt.Fprintf(out, "%v\n", v)
		}
	}
	return scanner.Err()
}

// mountDir serves a materialized package directory.
func mountDir(dir string) fs.FS {
	return os.DirFS(dir)
}
