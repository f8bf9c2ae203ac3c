// Package probe samples an input file and reports which kind it fits.
//
// The probe is best-effort: type inference and kind matching never fail the
// run; only an unreadable input does.
package probe

import (
	"context"
	"slices"
	"sort"

	"ingest/internal/ingest"
	csvparser "ingest/internal/parser/csv"
)

// DefaultMaxRows bounds the sample when Options.MaxRows is 0.
const DefaultMaxRows = 500

// Options control sampling.
type Options struct {
	ingest.ReadOptions

	// MaxRows is the number of data rows sampled.
	MaxRows int
}

// Column is one input column with its inferred type.
type Column struct {
	Name   string
	Type   string
	Layout string
	Blank  int
}

// Match scores one kind against the sampled header.
type Match struct {
	Kind string

	// Mapped are the kind's fields present in the input.
	Mapped []string
	// Missing are NOT NULL fields absent from the input.
	Missing []string
	// Unknown are input columns the kind would ignore.
	Unknown []string
	// Anomalies is the number of sampled values the normalizer would drop.
	Anomalies int
}

// Complete reports whether every required field is present.
func (m Match) Complete() bool { return len(m.Missing) == 0 }

// Result is the probe report.
type Result struct {
	Rows int
	// Unparsed counts sampled records the CSV reader rejected. They are left
	// out of Columns and Matches.
	Unparsed int
	Columns  []Column
	// Matches are ordered best first.
	Matches []Match
}

// Best returns the best complete match.
func (r Result) Best() (Match, bool) {
	for _, m := range r.Matches {
		if m.Complete() && len(m.Mapped) > 0 {
			return m, true
		}
	}
	return Match{}, false
}

// Probe samples location and scores every registered kind against it.
//
// Errors:
//   - ingest.ErrInputNotFound, ingest.ErrInputEmpty.
//   - Any other open, decode or parse error.
func Probe(ctx context.Context, location string, opt Options) (Result, error) {
	if opt.MaxRows <= 0 {
		opt.MaxRows = DefaultMaxRows
	}

	var header []string
	rows, err := ingest.ReadRaw(ctx, location, opt.ReadOptions, func(o *csvparser.Options) {
		o.MaxRows = opt.MaxRows
		o.OnHeader = func(names []string) { header = names }
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	parsed := make([]csvparser.Row, 0, len(rows))
	for _, r := range rows {
		if r.Err != nil {
			res.Unparsed++
			continue
		}
		parsed = append(parsed, r)
	}
	rows = parsed

	res.Rows = len(rows)
	res.Columns = inferColumns(header, rows)
	for _, k := range ingest.Kinds() {
		res.Matches = append(res.Matches, score(k, header, rows))
	}
	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Complete() != b.Complete() {
			return a.Complete()
		}
		if len(a.Mapped) != len(b.Mapped) {
			return len(a.Mapped) > len(b.Mapped)
		}
		if len(a.Unknown) != len(b.Unknown) {
			return len(a.Unknown) < len(b.Unknown)
		}
		return a.Anomalies < b.Anomalies
	})
	return res, nil
}

// score maps header through k's aliases and normalizes the sample as k.
func score(k ingest.Kind, header []string, rows []csvparser.Row) Match {
	m := Match{Kind: k.Name}

	rename := make(map[string]string, len(header))
	for _, h := range header {
		if h == "" {
			continue
		}
		name := h
		if alias, ok := k.Aliases[h]; ok {
			name = alias
		}
		if _, ok := k.Field(name); !ok {
			m.Unknown = append(m.Unknown, h)
			continue
		}
		if !slices.Contains(m.Mapped, name) {
			m.Mapped = append(m.Mapped, name)
		}
		rename[h] = name
	}
	for _, f := range k.Fields {
		if !f.Nullable && !slices.Contains(m.Mapped, f.Name) {
			m.Missing = append(m.Missing, f.Name)
		}
	}

	for _, row := range rows {
		raw := make(map[string]any, len(rename))
		for h, name := range rename {
			if v := row.Values[h]; v != nil || raw[name] == nil {
				raw[name] = v
			}
		}
		m.Anomalies += ingest.Normalize(k, row.Line, raw).Anomalies
	}
	return m
}
