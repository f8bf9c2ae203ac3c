package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"ingest/internal/ingest"
)

// printSummary writes the human-readable import report.
func printSummary(w io.Writer, res ingest.ImportResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"kind", res.Kind},
		{"strategy", res.Strategy},
		{"total", res.Total},
		{"inserted", res.Inserted},
		{"skipped_duplicate", res.SkippedDuplicate},
		{"  deduplicated_in_file", res.Deduplicated},
		{"  already_stored", res.Existing},
		{"skipped_invalid_reference", res.SkippedInvalidReference},
		{"failed", res.Failed},
		{"anomalies", res.Anomalies},
		{"batches", res.Batches},
		{"fallback_batches", res.FallbackBatches},
		{"duration", res.Duration.Truncate(time.Millisecond)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%v\n", r.label, r.value)
	}
	_ = tw.Flush()

	if len(res.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\nfailures (first %d of %d):\n", len(res.Failures), res.Failed)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "line\tkey\tkind\terror")
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Line, f.Key, f.Kind, oneLine(f.Err))
	}
	_ = tw.Flush()
}

// logSummary emits the result as one structured event.
func logSummary(log zerolog.Logger, res ingest.ImportResult) {
	ev := log.Info()
	if res.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("strategy", string(res.Strategy)).
		Int("total", res.Total).
		Int("inserted", res.Inserted).
		Int("skipped_duplicate", res.SkippedDuplicate).
		Int("skipped_invalid_reference", res.SkippedInvalidReference).
		Int("failed", res.Failed).
		Int("anomalies", res.Anomalies).
		Dur("duration", res.Duration).
		Msg("import finished")
}

// printKinds lists the registered kinds.
func printKinds(w io.Writer, kinds []ingest.Kind) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "kind\ttype\tkey\tpolicy\tbatch\tcolumns")
	for _, k := range kinds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			k.Name, k.EntityKind, strings.Join(k.Key, ","), k.DefaultPolicy, k.DefaultBatchSize, strings.Join(k.Columns(), ","))
	}
	_ = tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
