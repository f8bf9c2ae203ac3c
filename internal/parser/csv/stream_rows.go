// Package csv reads delimited input into raw rows keyed by normalized header
// names.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"ingest/internal/source"
)

// Row is one data record. Line is the 1-based record number (the header is
// line 1). Values holds every header column; empty cells are nil. Err is set,
// and Values is nil, for a record the reader could not parse.
type Row struct {
	Line   int
	Values map[string]any
	Err    error
}

// Options controls ReadRows. The zero value reads comma-separated input with
// a header and trims cells.
type Options struct {
	Comma      rune
	LazyQuotes bool
	NoTrim     bool

	// HeaderMap renames normalized header names (e.g. "left_key" ->
	// "influencer_id").
	HeaderMap map[string]string

	// OnError is called for records the reader cannot parse. Such records
	// are still returned, with Row.Err set.
	OnError func(line int, err error)

	// OnHeader receives the column names in file order, after mapping.
	OnHeader func(names []string)

	// MaxRows stops reading after that many data rows. 0 reads everything.
	MaxRows int
}

// NormalizeHeader trims, strips a BOM, lowercases and replaces spaces with
// underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(h), "\uFEFF"))
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// ReadRows parses all of r.
//
// Errors:
//   - source.ErrInputEmpty if there is no header or no data row.
//   - ctx.Err() if ctx ends while reading.
//   - A wrapped read error for an unreadable header.
func ReadRows(ctx context.Context, r io.Reader, opt Options) ([]Row, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	line := 0
	hdr, err := cr.Read()
	line++
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no header row", source.ErrInputEmpty)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	names := make([]string, len(hdr))
	for i, h := range hdr {
		h = NormalizeHeader(h)
		if mapped, ok := opt.HeaderMap[h]; ok {
			h = mapped
		}
		names[i] = h
	}
	if allBlank(names) {
		return nil, fmt.Errorf("%w: blank header row", source.ErrInputEmpty)
	}
	if opt.OnHeader != nil {
		opt.OnHeader(names)
	}

	var rows []Row
	for opt.MaxRows <= 0 || len(rows) < opt.MaxRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = fmt.Errorf("csv read: %w", err)
			if opt.OnError != nil {
				opt.OnError(line, err)
			}
			rows = append(rows, Row{Line: line, Err: err})
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		vals := make(map[string]any, len(names))
		for i, name := range names {
			if name == "" {
				continue
			}
			if i >= len(rec) {
				vals[name] = nil
				continue
			}
			v := rec[i]
			if !opt.NoTrim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				// First non-empty wins when two headers map to one name.
				if _, seen := vals[name]; !seen {
					vals[name] = nil
				}
				continue
			}
			if prev, seen := vals[name]; seen && prev != nil {
				continue
			}
			vals[name] = v
		}
		rows = append(rows, Row{Line: line, Values: vals})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", source.ErrInputEmpty)
	}
	return rows, nil
}

func allBlank(ss []string) bool {
	for _, s := range ss {
		if s != "" {
			return false
		}
	}
	return true
}
