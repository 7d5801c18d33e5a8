package store

import "errors"

// Sentinel errors the runtime checks for with errors.Is. Concrete backends
// must return these (or wrap them) rather than backend-specific error types,
// so the runtime never imports a driver package.
var (
	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned by a duplicate create, e.g. a telemetry
	// fingerprint collision.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrClosed is returned by any operation after Close has begun. Callers
	// receive it as an ordinary error; no poller checks for it or stops
	// because of it.
	ErrClosed = errors.New("state store is closed")
)
