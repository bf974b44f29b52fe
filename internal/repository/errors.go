// Package repository holds the MySQL implementations of the inventory,
// catalog and booking stores.  The sentinel values below let the service
// layer tell missing rows and lost compare-and-swap updates apart from
// infrastructure failures.
package repository

import "errors"

// ErrNotFound is returned when a lookup yields no rows.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row
// because the current state differs from the expected one (wrong status,
// stale version).  Services translate it into a conflict for the caller.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate")
