package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"kin/internal/block"
	"kin/internal/eval"
	"kin/internal/macros"
	"kin/internal/marker"
	"kin/internal/output"
	"kin/internal/source"
)

type loadOptions struct {
	script      string
	advance     int
	token       string
	barrier     string
	interactive bool
	printMacros bool
	evalTimeout time.Duration
}

func newLoadCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load [FILE]",
		Short: "Evaluate <NUMPY> blocks into a context, one batch at a time",
		Long: `Reads probe output containing blocks of the form

    <NUMPY>
    name = expression
    </NUMPY>

and binds each name to its evaluated expression. A <BARRIER> line ends a
batch; each advance loads one batch. After the initial advances the
context is listed and, when interactive, a shell is started:

    advance [n]   load the next n batches (default 1)
    list          list bound names
    show NAME     print a value
    eval EXPR     evaluate an expression; ctx.Get("name") reads the context
    help          show commands
    quit          exit

Expressions are Go with the array package imported as np, e.g.
np.Array(1, 2, 3, 4).ReshapeF(2, 2). They are evaluated with full
privileges: only load output you trust.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.script, "script", "", "Go source evaluated before the first batch")
	f.IntVar(&opts.advance, "advance", 1, "Batches loaded before the listing")
	f.StringVar(&opts.token, "token", marker.DefaultToken, "Block token")
	f.StringVar(&opts.barrier, "barrier", marker.DefaultBarrier, "Barrier token")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Start the shell (default when stdin is a terminal and FILE is given)")
	f.BoolVar(&opts.printMacros, "print-macros", false, "Print the instrumentation macros and exit")
	f.DurationVar(&opts.evalTimeout, "eval-timeout", eval.DefaultTimeout, "Per-expression evaluation timeout")
	return cmd
}

func (o *loadOptions) applyConfig(cmd *cobra.Command, args []string) {
	f := cmd.Flags()
	if !f.Changed("script") {
		o.script = cfg.Load.Script
	}
	if !f.Changed("advance") {
		o.advance = cfg.Load.Advance
	}
	if !f.Changed("token") {
		o.token = cfg.Load.Token
	}
	if !f.Changed("barrier") {
		o.barrier = cfg.Load.Barrier
	}
	if !f.Changed("eval-timeout") {
		o.evalTimeout = cfg.GetEvalTimeout()
	}
	if !f.Changed("interactive") {
		fromFile := len(args) == 1 && args[0] != source.Stdin
		o.interactive = fromFile && stdinIsTerminal(cmd)
	}
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runLoad(cmd *cobra.Command, opts *loadOptions, args []string) error {
	opts.applyConfig(cmd, args)

	if opts.printMacros {
		fmt.Fprint(cmd.OutOrStdout(), macros.Blocks(opts.token, opts.barrier))
		return nil
	}

	markers, err := marker.NewBlocks(opts.token, opts.barrier)
	if err != nil {
		return err
	}

	name := source.Stdin
	if len(args) == 1 {
		name = args[0]
	}
	if opts.interactive && name == source.Stdin {
		return fmt.Errorf("--interactive needs a log FILE; stdin is used for commands")
	}
	rc, err := openInput(cmd, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	var script string
	if opts.script != "" {
		data, err := os.ReadFile(opts.script)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		script = string(data)
	}

	c := block.NewContext()
	ip, err := eval.New(eval.Options{
		Script:     script,
		ScriptName: opts.script,
		Lookup:     c.Lookup,
		Timeout:    opts.evalTimeout,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	s := &session{
		loader:  block.NewLoader(markers, source.NewCursor(source.NewLines(rc)), ip, c),
		eval:    ip,
		out:     cmd.OutOrStdout(),
		listing: output.NewListing(cmd.OutOrStdout()),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.advance(ctx, opts.advance); err != nil {
		if !opts.interactive {
			return err
		}
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	if err := s.list(); err != nil {
		return err
	}

	if !opts.interactive {
		return nil
	}
	if stdinIsTerminal(cmd) {
		ln, done := s.terminal(shellHistoryPath())
		defer done()
		return s.repl(ctx, ln)
	}
	return s.repl(ctx, newScannerSource(cmd.InOrStdin(), s.out))
}

func (s *session) advance(ctx context.Context, n int) error {
	batches, err := s.loader.AdvanceN(ctx, n)
	for _, b := range batches {
		logger.Debug("batch loaded",
			zap.Int("batch", b.Number),
			zap.Int("bindings", len(b.Bindings)),
			zap.Int("from", b.From),
			zap.Int("to", b.To),
		)
	}
	return err
}
