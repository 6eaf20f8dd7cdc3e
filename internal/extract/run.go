package extract

import (
	"context"
	"fmt"

	"kin/internal/logging"
	"kin/internal/marker"
	"kin/internal/section"
)

// Config configures one extraction run.
type Config struct {
	Markers  *marker.Sections
	Trailing section.TrailingPolicy
	Options
}

// Report is the outcome of a successful run.
type Report struct {
	*Result
	Lines    int              // lines consumed
	Sections int              // sections closed
	Dangling *section.Section // unterminated trailing section dropped, if any
}

// Run tokenizes r, aggregates the sections and builds the result map.
func Run(ctx context.Context, r section.LineReader, cfg Config) (*Report, error) {
	if cfg.Markers == nil {
		return nil, fmt.Errorf("extract: no section markers configured")
	}
	tok := section.New(cfg.Markers, section.WithTrailingPolicy(cfg.Trailing))
	sections, err := tok.Tokenize(ctx, r)
	if err != nil {
		return nil, err
	}

	agg := NewAggregator()
	agg.AddAll(sections)

	res, err := Build(agg.Aggregates(), cfg.Options)
	if err != nil {
		return nil, err
	}
	logging.Extract("extracted %d tags from %d sections (%d lines)", len(res.Entries), len(sections), tok.Line())
	return &Report{
		Result:   res,
		Lines:    tok.Line(),
		Sections: len(sections),
		Dangling: tok.Dangling(),
	}, nil
}
