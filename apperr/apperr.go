// Package apperr holds the sentinel errors shared across the collaboration
// core's components. Every error a peer can observe locally is one of
// these; none of them are ever serialized to another peer — a remote side
// only ever learns of a failure indirectly, e.g. by observing clientLeft.
package apperr

import "errors"

var (
	// ErrNotFound is returned for operations against an unknown fileId.
	// Where the caller is externally observable (e.g. requestDocument),
	// callers should translate this into a neutral empty result rather
	// than surfacing it as a fault.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by a duplicate create; callers should
	// treat this as idempotent and return the existing value.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidUpdate is returned when a CRDT update fails to decode or
	// apply.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrIoError wraps a local file read/write failure.
	ErrIoError = errors.New("io error")

	// ErrSlowConsumer is returned when a connection's outbound queue
	// overflows its bound.
	ErrSlowConsumer = errors.New("slow consumer")
)
