package ingest

// Deduplicate keeps the first record of each business key, in input order,
// and returns how many were removed. Records with an incomplete key are
// always kept.
func Deduplicate(recs []Record) ([]Record, int) {
	seen := make(map[string]struct{}, len(recs))
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if !r.HasKey() {
			out = append(out, r)
			continue
		}
		k := r.KeyString()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(recs) - len(out)
}
