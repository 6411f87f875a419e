package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"niximport/internal/config"
	"niximport/internal/logging"
	"niximport/internal/materialize"
	"niximport/internal/session"
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "niximport",
	Short: "On-demand package imports for an interactive Go session",
	Long: `niximport hosts an interactive Go interpreter in which packages under a
reserved virtual namespace are fetched on first import from a declarative
package repository via an external build tool.

Example (inside the repl):
  import "nixpkgs/alpha"
  alpha.Greet()

The build tool, namespace root, and cache policy are configured via YAML
(--config) or NIXIMPORT_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Verbose = true
		}
		logger, err = logging.New(cfg.Logging.Verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepl(cmd, args)
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session with on-demand imports",
	RunE:  runRepl,
}

var evalCmd = &cobra.Command{
	Use:   "eval [source]",
	Short: "Evaluate a chunk of source in a fresh session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session.New(cfg, logger)
		if err != nil {
			return err
		}
		v, err := s.Eval(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if v.IsValid() {
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", v)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [package]",
	Short: "Materialize a single package and print its path",
	Long: `Invokes the build tool for one package identifier (unless it is already
cached in this process) and prints the materialized filesystem path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session.New(cfg, logger)
		if err != nil {
			return err
		}
		rec, err := s.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.Path)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List package identifiers the build tool can materialize",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session.New(cfg, logger)
		if err != nil {
			return err
		}
		names, err := s.Packages(cmd.Context())
		if errors.Is(err, materialize.ErrIndexUnsupported) {
			return fmt.Errorf("no list invocation configured; set tool.list_args in the config")
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func runRepl(cmd *cobra.Command, _ []string) error {
	s, err := session.New(cfg, logger)
	if err != nil {
		return err
	}
	return s.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "niximport.yaml", "path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(replCmd, evalCmd, resolveCmd, listCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
