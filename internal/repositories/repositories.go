// package repositories provides the persistence layer over SQLite.
//
// Each repository wraps one table with self-contained read-modify-write calls;
// nothing here spans a transaction across call boundaries, so concurrent
// direction loops can share one handle safely.
package repositories

import (
	"database/sql"
	"time"
)

// now is stubbed in tests.
var now = time.Now

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
