package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"kin/internal/block"
	"kin/internal/eval"
	"kin/internal/output"
)

const shellHelp = `commands:
  advance [n]   load the next n batches (default 1)
  list          list bound names
  show NAME     print a value
  eval EXPR     evaluate a Go expression; ctx.Get("name") reads the context
  help          show this help
  quit          exit
`

// session is the interactive host around a Loader.
type session struct {
	loader  *block.Loader
	eval    eval.Evaluator
	out     io.Writer
	listing output.Listing
}

func (s *session) list() error {
	return s.listing.Render(s.out, s.loader.Context())
}

// lineSource yields shell command lines. Prompt returns io.EOF at end of
// input. *liner.State satisfies it on a terminal.
type lineSource interface {
	Prompt(prompt string) (string, error)
}

// scannerSource reads commands from a pipe or a test buffer.
type scannerSource struct {
	sc  *bufio.Scanner
	out io.Writer
}

func newScannerSource(in io.Reader, out io.Writer) *scannerSource {
	return &scannerSource{sc: bufio.NewScanner(in), out: out}
}

func (s *scannerSource) Prompt(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		fmt.Fprintln(s.out)
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

const shellPrompt = "kin> "

var shellCommands = []string{"advance", "list", "show", "eval", "help", "quit"}

// repl reads commands from src until quit or end of input. Command errors
// are printed and the shell continues. Ctrl-C abandons the current line.
func (s *session) repl(ctx context.Context, src lineSource) error {
	history, _ := src.(interface{ AppendHistory(string) })
	for {
		line, err := src.Prompt(shellPrompt)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case err != nil:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if history != nil && strings.TrimSpace(line) != "" {
			history.AppendHistory(line)
		}
		quit, err := s.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// complete offers command names, and bound names after show.
func (s *session) complete(line string) []string {
	var out []string
	if cmd, rest, found := strings.Cut(line, " "); found {
		if cmd != "show" && cmd != "p" {
			return nil
		}
		rest = strings.TrimLeft(rest, " ")
		for _, name := range s.loader.Context().SortedNames() {
			if strings.HasPrefix(name, rest) {
				out = append(out, cmd+" "+name)
			}
		}
		return out
	}
	for _, c := range shellCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// terminal opens a line editor on the controlling terminal. History is
// read from and written back to historyPath when it is set. The returned
// func saves history and restores the terminal.
func (s *session) terminal(historyPath string) (*liner.State, func()) {
	ln := liner.NewLiner()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(s.complete)

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
	}
	return ln, func() {
		if historyPath != "" {
			if f, err := os.Create(historyPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}
		_ = ln.Close()
	}
}

// shellHistoryPath is ~/.kin_history, or empty without a home directory.
func shellHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kin_history")
}

// exec runs one shell command line.
func (s *session) exec(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "advance", "a":
		n := 1
		if rest != "" {
			n, err = strconv.Atoi(rest)
			if err != nil || n < 1 {
				return false, fmt.Errorf("advance: want a positive count, got %q", rest)
			}
		}
		if s.loader.Exhausted() {
			fmt.Fprintln(s.out, "input exhausted")
			return false, nil
		}
		c := s.loader.Context()
		before := c.Batches()
		if err := s.advance(ctx, n); err != nil {
			return false, err
		}
		if c.Batches() > before {
			fmt.Fprintf(s.out, "batch %d loaded (%d names, line %d)\n", c.Batches(), c.Len(), c.Line())
		}
		if s.loader.Exhausted() {
			fmt.Fprintln(s.out, "input exhausted")
		}

	case "list", "ls":
		return false, s.list()

	case "show", "p":
		if rest == "" {
			return false, fmt.Errorf("show: missing name")
		}
		b, ok := s.loader.Context().Binding(rest)
		if !ok {
			return false, fmt.Errorf("%s is not bound", rest)
		}
		fmt.Fprintf(s.out, "%s (%s, line %d, batch %d) =\n%s\n", b.Name, b.Value.Kind, b.Line, b.Batch, b.Value)

	case "eval", "e":
		if rest == "" {
			return false, fmt.Errorf("eval: missing expression")
		}
		v, err := s.eval.Evaluate(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%s\n", v)

	case "help", "?":
		fmt.Fprint(s.out, shellHelp)

	case "quit", "exit", "q":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}
