package badger

import (
	"fmt"
	"strings"
)

// Key prefixes. Table names never contain ':'.
const (
	specPrefix = "spec"
	rowPrefix  = "row"
	uniqPrefix = "uniq"
)

// makeSpecKey generates the key holding a table's JSON TableSpec.
func makeSpecKey(table string) []byte {
	return []byte(specPrefix + ":" + table)
}

// makeRowPrefix is the prefix shared by every row of table.
func makeRowPrefix(table string) []byte {
	return []byte(rowPrefix + ":" + table + ":")
}

// makeRowKey generates the key for a row by its canonical primary key.
// Format: row:table:pk
func makeRowKey(table, pk string) []byte {
	return append(makeRowPrefix(table), pk...)
}

// makeUniqPrefix is the prefix shared by every unique index entry of table.
func makeUniqPrefix(table string) []byte {
	return []byte(uniqPrefix + ":" + table + ":")
}

// makeUniqKey generates the key for a unique constraint entry. The value is
// the owning row's primary key.
// Format: uniq:table:constraintIndex:key
func makeUniqKey(table string, constraint int, key string) []byte {
	return append(makeUniqPrefix(table), fmt.Sprintf("%d:%s", constraint, key)...)
}

func validTableName(table string) error {
	if table == "" || strings.Contains(table, ":") {
		return fmt.Errorf("badger: invalid table name %q", table)
	}
	return nil
}
