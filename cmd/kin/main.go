// Command kin parses the console output of instrumented programs.
//
// kin extract collects [kin:start:TAG] ... [kin:end:TAG] sections into a
// digest-stamped result file; kin load evaluates <NUMPY> name = expr
// </NUMPY> blocks into a live context, batch by batch.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kin/internal/config"
	"kin/internal/logging"
	"kin/internal/source"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE; flags override it.
	cfg *config.Config

	// Logger
	logger = zap.NewNop()
)

// newRootCmd builds the command tree. Every call returns fresh commands
// and flag state.
func newRootCmd() *cobra.Command {
	verbose = false
	configPath = ""

	root := &cobra.Command{
		Use:   "kin",
		Short: "kin - inspect instrumented kernel output",
		Long: `kin reconstructs structured records from the console output of an
instrumented program.

  extract  Tag-delimited sections -> per-tag content previews with a
           16-bit content digest, written as JSON, YAML or CBOR.
  load     <NUMPY> name = expression </NUMPY> blocks -> a live context,
           loaded one <BARRIER>-delimited batch at a time.

Expressions are Go, evaluated with the array package imported as np.
They run with full interpreter privileges: only load output you trust.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zc := zap.NewProductionConfig()
			zc.Encoding = "console"
			zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err = config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", path, err)
			}
			if err := logging.Initialize(cfg.Logging.Settings()); err != nil {
				logger.Warn("category logging disabled", zap.Error(err))
			}
			logging.Boot("kin %s starting: %s", version, cmd.CommandPath())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
			logging.CloseAll()
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default .kin/config.yaml)")

	root.AddCommand(
		newExtractCmd(),
		newLoadCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openInput opens a named input, reading stdin from cmd for "-".
func openInput(cmd *cobra.Command, name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return source.Open(name)
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
