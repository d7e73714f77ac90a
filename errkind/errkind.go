// Package errkind defines the error categories shared across netmonitor.
//
// Callers wrap a sentinel with fmt.Errorf("%w: detail", ...) and the HTTP
// layer classifies with errors.Is. Periodic tasks treat Transient as
// retry-next-tick and Invariant as abort-unit-of-work-but-keep-running.
package errkind

import "errors"

// ErrValidation is returned for malformed input (bad domain string,
// out-of-range config value, unknown sort key). No state is mutated.
var ErrValidation = errors.New("netmonitor: invalid input")

// ErrNotFound is returned when an entity id does not exist.
var ErrNotFound = errors.New("netmonitor: not found")

// ErrTransient is returned for recoverable I/O conditions (store busy,
// sampler timeout). Callers may retry.
var ErrTransient = errors.New("netmonitor: transient failure")

// ErrInvariant is returned when a detected internal invariant violation
// aborts the current unit of work.
var ErrInvariant = errors.New("netmonitor: invariant violation")
