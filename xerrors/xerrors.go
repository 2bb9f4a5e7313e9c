// Package xerrors classifies pipeline errors into the three kinds spec §7
// distinguishes (Fatal/Error/Warning), used by cmd/profbuild to decide exit
// status and message prefix. It follows the teacher's fmt.Errorf("%w")
// wrapping style (see perffile/reader.go) rather than introducing a new
// error type hierarchy.
package xerrors

import (
	"errors"
	"fmt"
)

// Severity is one of spec §7's three error kinds.
type Severity int

const (
	// Warning is informational: the run completed but something was
	// suboptimal (e.g. a metric finalizer had nothing to resolve).
	Warning Severity = iota
	// Error means one input or one rank-local operation failed, but the
	// rest of the run can still produce a usable result.
	Error
	// Fatal means the run cannot produce a trustworthy result and must
	// stop (e.g. a sparse DB write failed, or a uniqueness invariant was
	// violated).
	Fatal
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// classified wraps an error with an explicit Severity.
type classified struct {
	sev Severity
	err error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap annotates err with sev, so a later Classify call (e.g. in
// cmd/profbuild's run command) recovers the intended severity even after
// further fmt.Errorf("%w", ...) wrapping.
func Wrap(sev Severity, err error) error {
	if err == nil {
		return nil
	}
	return &classified{sev: sev, err: err}
}

// Warningf is a convenience constructor mirroring fmt.Errorf.
func Warningf(format string, args ...any) error {
	return Wrap(Warning, fmt.Errorf(format, args...))
}

// Errorf is a convenience constructor mirroring fmt.Errorf.
func Errorf(format string, args ...any) error {
	return Wrap(Error, fmt.Errorf(format, args...))
}

// Fatalf is a convenience constructor mirroring fmt.Errorf.
func Fatalf(format string, args ...any) error {
	return Wrap(Fatal, fmt.Errorf(format, args...))
}

// Classify walks err's Unwrap chain for the outermost-assigned Severity,
// defaulting to Fatal for an unclassified error — per spec §7, an error the
// core packages didn't explicitly mark as recoverable is treated as
// untrusted-result-producing.
func Classify(err error) Severity {
	if err == nil {
		return Warning
	}
	var c *classified
	if errors.As(err, &c) {
		return c.sev
	}
	return Fatal
}
