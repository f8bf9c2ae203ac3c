// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "ingest/internal/storage/badger"
	_ "ingest/internal/storage/memory"
	_ "ingest/internal/storage/mssql"
	_ "ingest/internal/storage/postgres"
	_ "ingest/internal/storage/sqlite"
)
