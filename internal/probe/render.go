package probe

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Render writes a human-readable report of r.
func Render(w io.Writer, r Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "sample_rows\t%d\n", r.Rows)
	if r.Unparsed > 0 {
		fmt.Fprintf(tw, "unparsed_rows\t%d\n", r.Unparsed)
	}
	if best, ok := r.Best(); ok {
		fmt.Fprintf(tw, "best_kind\t%s\n", best.Kind)
	} else {
		fmt.Fprintf(tw, "best_kind\t-\n")
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "column\ttype\tlayout\tblank")
	for _, c := range r.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Name, c.Type, dash(c.Layout), c.Blank)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "kind\tmapped\tmissing\tunknown\tanomalies")
	for _, m := range r.Matches {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n",
			m.Kind, len(m.Mapped), dash(strings.Join(m.Missing, ",")), dash(strings.Join(m.Unknown, ",")), m.Anomalies)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
