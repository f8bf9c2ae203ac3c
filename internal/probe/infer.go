package probe

import (
	"strconv"
	"strings"
	"time"

	csvparser "ingest/internal/parser/csv"
)

// inferColumns infers a coarse type per column: integer, boolean, date,
// timestamp, float or text. Blank cells are ignored; a column with no values
// is text.
func inferColumns(header []string, rows []csvparser.Row) []Column {
	out := make([]Column, 0, len(header))
	for _, name := range header {
		if name == "" {
			continue
		}
		col := Column{Name: name, Type: "text"}
		var seen bool
		allInt, allFloat, allBool, allDate, allTS := true, true, true, true, true
		layouts := map[string]int{}

		for _, r := range rows {
			s, _ := r.Values[name].(string)
			if s = strings.TrimSpace(s); s == "" {
				col.Blank++
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(s, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				if _, ok := parseBoolLoose(s); !ok {
					allBool = false
				}
			}
			if allDate {
				if lay, ok := matchLayout(s, dateLayouts); ok {
					layouts[lay]++
				} else {
					allDate = false
				}
			}
			if allTS {
				if lay, ok := matchLayout(s, tsLayouts); ok {
					layouts[lay]++
				} else {
					allTS = false
				}
			}
		}

		if seen {
			// Prefer more specific types.
			switch {
			case allInt:
				col.Type = "integer"
			case allBool:
				col.Type = "boolean"
			case allDate:
				col.Type, col.Layout = "date", majority(layouts)
			case allTS:
				col.Type, col.Layout = "timestamp", majority(layouts)
			case allFloat:
				col.Type = "float"
			}
		}
		out = append(out, col)
	}
	return out
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"01/02/2006 15:04",
}

func matchLayout(s string, layouts []string) (string, bool) {
	for _, lay := range layouts {
		if _, err := time.Parse(lay, s); err == nil {
			return lay, true
		}
	}
	return "", false
}

// majority returns the most common layout; ties go to the smaller string so
// the result is stable.
func majority(counts map[string]int) string {
	best, bestN := "", 0
	for lay, n := range counts {
		if n > bestN || (n == bestN && lay < best) {
			best, bestN = lay, n
		}
	}
	return best
}
