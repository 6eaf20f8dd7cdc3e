package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kin/internal/extract"
	"kin/internal/history"
	"kin/internal/macros"
	"kin/internal/marker"
	"kin/internal/output"
	"kin/internal/section"
	"kin/internal/source"
	"kin/internal/watch"
)

type extractOptions struct {
	output         string
	previewLines   int
	filterPointers bool
	format         string
	prefix         string
	strictTrailing bool
	collision      string
	historyPath    string
	watch          bool
	printMacros    bool
	parallel       int
}

// extractJob is everything needed to run one input through the pipeline.
type extractJob struct {
	cfg     extract.Config
	format  output.Format
	history *history.Store
}

func newExtractCmd() *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract [FILE...]",
		Short: "Extract tagged sections into a digest-stamped result map",
		Long: `Reads probe output and collects every [PREFIX:start:TAG] ... [PREFIX:end:TAG]
section. Sections sharing a tag are concatenated in order. Each tag is
emitted under a sanitized key with a content preview, the raw tag and a
16-bit digest of the full content.

With no FILE, or when FILE is -, standard input is read. Files ending in
.zst, .gz or .lz4 are decompressed. With several files, --output names a
directory and one result per file is written there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Write the result here instead of stdout")
	f.IntVarP(&opts.previewLines, "preview-lines", "n", extract.DefaultPreviewLines, "Content lines kept per tag (-1 keeps all)")
	f.BoolVar(&opts.filterPointers, "filter-pointers", true, "Erase 0x... addresses before digesting")
	f.StringVar(&opts.format, "format", "json", "Output format: json, yaml or cbor")
	f.StringVar(&opts.prefix, "prefix", marker.DefaultPrefix, "Section marker prefix")
	f.BoolVar(&opts.strictTrailing, "strict-trailing", false, "Fail on a section left open at end of input")
	f.StringVar(&opts.collision, "collision", "last-wins", "Key collision policy: last-wins or error")
	f.StringVar(&opts.historyPath, "history", "", "Record digests in this history database")
	f.BoolVar(&opts.watch, "watch", false, "Re-extract when an input file changes")
	f.BoolVar(&opts.printMacros, "print-macros", false, "Print the instrumentation macros and exit")
	f.IntVar(&opts.parallel, "parallel", 0, "Files extracted concurrently (default from config)")
	return cmd
}

// applyConfig fills options the user did not set from the loaded config.
func (o *extractOptions) applyConfig(cmd *cobra.Command) {
	f := cmd.Flags()
	if !f.Changed("preview-lines") {
		o.previewLines = cfg.Extract.PreviewLines
	}
	if !f.Changed("filter-pointers") {
		o.filterPointers = cfg.Extract.FilterPointers
	}
	if !f.Changed("format") {
		o.format = cfg.Extract.Format
	}
	if !f.Changed("prefix") {
		o.prefix = cfg.Extract.Prefix
	}
	if !f.Changed("strict-trailing") {
		o.strictTrailing = cfg.Extract.StrictTrailing
	}
	if !f.Changed("collision") {
		o.collision = cfg.Extract.Collisions
	}
	if !f.Changed("history") {
		o.historyPath = cfg.History.DatabasePath
	}
	if !f.Changed("parallel") {
		o.parallel = cfg.Extract.Parallelism
	}
}

func runExtract(cmd *cobra.Command, opts *extractOptions, args []string) error {
	opts.applyConfig(cmd)

	if opts.printMacros {
		fmt.Fprint(cmd.OutOrStdout(), macros.Sections(opts.prefix))
		return nil
	}

	markers, err := marker.NewSections(opts.prefix)
	if err != nil {
		return err
	}
	policy, err := extract.ParseCollisionPolicy(opts.collision)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	job := &extractJob{
		cfg: extract.Config{
			Markers: markers,
			Options: extract.Options{
				PreviewLines:   opts.previewLines,
				FilterPointers: opts.filterPointers,
				Collisions:     policy,
			},
		},
		format: format,
	}
	if opts.strictTrailing {
		job.cfg.Trailing = section.TrailingError
	}

	if opts.historyPath != "" {
		store, err := history.Open(opts.historyPath)
		if err != nil {
			return err
		}
		defer store.Close()
		job.history = store
	}

	files := args
	if len(files) == 0 {
		files = []string{source.Stdin}
	}
	if opts.watch {
		for _, f := range files {
			if f == source.Stdin {
				return fmt.Errorf("--watch needs input files, not stdin")
			}
		}
	}

	if len(files) > 1 && opts.output != "" && opts.output != "-" {
		if err := checkResultNames(files, job.format); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reports, err := job.runAll(ctx, cmd, files, opts.parallel)
	if err != nil {
		return err
	}
	for i, rep := range reports {
		if err := job.emit(cmd, files[i], len(files) > 1, opts.output, rep); err != nil {
			return err
		}
	}

	if !opts.watch {
		return nil
	}
	return job.watch(ctx, cmd, files, opts.output)
}

// runAll extracts every file concurrently. Reports are returned in
// argument order; the first failure cancels the rest.
func (j *extractJob) runAll(ctx context.Context, cmd *cobra.Command, files []string, limit int) ([]*extract.Report, error) {
	reports := make([]*extract.Report, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, name := range files {
		g.Go(func() error {
			rep, err := j.run(gctx, cmd, name)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// run extracts one input and records it in history when enabled.
func (j *extractJob) run(ctx context.Context, cmd *cobra.Command, name string) (*extract.Report, error) {
	rc, err := openInput(cmd, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rep, err := extract.Run(ctx, source.NewLines(rc), j.cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", displayName(name), err)
	}
	if d := rep.Dangling; d != nil {
		logger.Warn("unterminated section dropped",
			zap.String("input", displayName(name)),
			zap.String("tag", d.Tag),
			zap.Int("line", d.Start),
		)
	}
	for _, c := range rep.Collisions {
		logger.Warn("tags share one key, last wins",
			zap.String("input", displayName(name)),
			zap.String("key", c.Key),
			zap.Strings("tags", c.Tags),
		)
	}
	logger.Debug("extracted",
		zap.String("input", displayName(name)),
		zap.Int("tags", len(rep.Entries)),
		zap.Int("sections", rep.Sections),
		zap.Int("lines", rep.Lines),
	)

	if j.history != nil {
		run, err := j.history.Record(ctx, displayName(name), rep)
		if err != nil {
			return nil, err
		}
		logger.Info("recorded run", zap.String("id", run.ID), zap.String("input", displayName(name)))
	}
	return rep, nil
}

// emit writes one report. With several inputs, out is a directory and
// stdout output is preceded by a header per input.
func (j *extractJob) emit(cmd *cobra.Command, name string, multi bool, out string, rep *extract.Report) error {
	stdout := cmd.OutOrStdout()
	if !multi {
		return output.Write(stdout, out, rep.Result, j.format)
	}
	if out == "" || out == "-" {
		if j.format == output.FormatCBOR {
			return fmt.Errorf("cbor output for several inputs needs --output DIR")
		}
		fmt.Fprintf(stdout, "==> %s <==\n", displayName(name))
		return output.Write(stdout, "", rep.Result, j.format)
	}
	return output.WriteFile(filepath.Join(out, resultName(name, j.format)), rep.Result, j.format)
}

// resultName maps an input path to its result file name.
func resultName(input string, f output.Format) string {
	base := filepath.Base(input)
	if c := source.DetectCodec(base); c != source.CodecNone {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + "." + string(f)
}

// checkResultNames fails when two inputs would write the same file in
// the output directory.
func checkResultNames(files []string, f output.Format) error {
	seen := make(map[string]string, len(files))
	for _, name := range files {
		result := resultName(name, f)
		if prev, ok := seen[result]; ok {
			return fmt.Errorf("inputs %s and %s would both write %s; extract them separately", displayName(prev), displayName(name), result)
		}
		seen[result] = name
	}
	return nil
}

func (j *extractJob) watch(ctx context.Context, cmd *cobra.Command, files []string, out string) error {
	multi := len(files) > 1
	byAbs := make(map[string]string, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		byAbs[abs] = f
	}

	w, err := watch.New(files, cfg.GetWatchDebounce(), func(ctx context.Context, path string) error {
		name := byAbs[path]
		rep, err := j.run(ctx, cmd, name)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
			return err
		}
		return j.emit(cmd, name, multi, out, rep)
	})
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "watching %d file(s); interrupt to stop\n", len(files))
	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	return nil
}

func displayName(name string) string {
	if name == "" || name == source.Stdin {
		return "<stdin>"
	}
	return name
}
