// Package config holds the resolver configuration: the reserved namespace
// root, the build tool invocation, cache policy, and logging options.
// Configuration is loaded from YAML with environment-variable overrides;
// every field has a working default.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"niximport/internal/materialize"
)

// Config is the top-level configuration.
type Config struct {
	// Root is the reserved first segment of virtual import paths. It must
	// be a legal Go identifier because the bare root is exposed as a
	// synthesized package of that name.
	Root string `yaml:"root"`

	Tool    ToolConfig    `yaml:"tool"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ToolConfig configures the external build tool subprocess.
type ToolConfig struct {
	// Binary is the build tool executable.
	Binary string `yaml:"binary"`

	// Args is the argument template; "{pkg}" is replaced with the package
	// identifier, which is appended if no argument carries the placeholder.
	Args []string `yaml:"args"`

	// ListArgs, when set, enumerates available packages (one identifier
	// per stdout line) for completion and the list command.
	ListArgs []string `yaml:"list_args"`

	// TimeoutSeconds bounds each invocation.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxOutputKB caps captured stdout/stderr.
	MaxOutputKB int `yaml:"max_output_kb"`

	// PathGlobs locate the importable source root inside the tool's
	// output path (first existing directory match wins).
	PathGlobs []string `yaml:"path_globs"`

	// WorkDir is the working directory for invocations.
	WorkDir string `yaml:"work_dir"`
}

// CacheConfig configures resolution-cache policy.
type CacheConfig struct {
	// StickyFailures caches failed resolutions permanently instead of
	// retrying them on the next request.
	StickyFailures bool `yaml:"sticky_failures"`
}

// SessionConfig configures the interpreter host.
type SessionConfig struct {
	// SourceFallback, when set, is a directory of ordinary (non-virtual)
	// package sources served to the interpreter for everything outside
	// the reserved root.
	SourceFallback string `yaml:"source_fallback"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration used when no file is present: resolve
// through nix-build against the ambient nixpkgs channel.
func Default() *Config {
	return &Config{
		Root: "nixpkgs",
		Tool: ToolConfig{
			Binary:         "nix-build",
			Args:           []string{"<nixpkgs>", "--no-out-link", "-A", "{pkg}"},
			TimeoutSeconds: 300,
			MaxOutputKB:    1024,
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file is not an error; overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var rootPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if !rootPattern.MatchString(c.Root) {
		return fmt.Errorf("root %q is not a legal identifier", c.Root)
	}
	if c.Tool.Binary == "" {
		return fmt.Errorf("tool.binary must be set")
	}
	if c.Tool.TimeoutSeconds <= 0 {
		return fmt.Errorf("tool.timeout_seconds must be positive")
	}
	return nil
}

// applyEnvOverrides lets the environment trump the file, matching how the
// CLI is typically pointed at a different tool in CI.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NIXIMPORT_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("NIXIMPORT_TOOL"); v != "" {
		c.Tool.Binary = v
	}
	if v := os.Getenv("NIXIMPORT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tool.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("NIXIMPORT_STICKY_FAILURES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.StickyFailures = b
		}
	}
	if v := os.Getenv("NIXIMPORT_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Verbose = b
		}
	}
}

// RunnerConfig translates the tool section into the materializer's shape.
func (c *Config) RunnerConfig() materialize.ToolConfig {
	return materialize.ToolConfig{
		Binary:         c.Tool.Binary,
		Args:           append([]string(nil), c.Tool.Args...),
		ListArgs:       append([]string(nil), c.Tool.ListArgs...),
		Timeout:        time.Duration(c.Tool.TimeoutSeconds) * time.Second,
		MaxOutputBytes: int64(c.Tool.MaxOutputKB) << 10,
		PathGlobs:      append([]string(nil), c.Tool.PathGlobs...),
		WorkDir:        c.Tool.WorkDir,
	}
}
