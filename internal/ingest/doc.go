// Package ingest is the batch import pipeline:
//
//	read rows -> Normalize -> Deduplicate -> Resolver -> BatchCommitter (+ FallbackRecorder)
//	                                                  or UpsertCommitter -> ImportResult
//
// Every stage is sequential and preserves input order. Store round trips are
// the only blocking calls; they all go through the storage.Store handle owned
// by the caller.
//
// Record accounting:
//   - Every parsed row ends in exactly one of Inserted, SkippedDuplicate,
//     SkippedInvalidReference or Failed.
//   - In-file duplicates removed by Deduplicate count as SkippedDuplicate (and
//     are mirrored in Deduplicated), so the four buckets always sum to Total.
package ingest
