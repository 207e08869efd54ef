// Package repository holds the MySQL access code.  These sentinel values
// allow higher layers such as handlers and the reservation saga to tell
// failure scenarios apart without looking at driver errors.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
// Handlers translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update cannot be performed because the
// row is no longer in the expected state, such as a status change that
// lost a race with another writer.  Handlers translate it into 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when a staff account email is taken.
var ErrEmailExists = errors.New("email already exists")
