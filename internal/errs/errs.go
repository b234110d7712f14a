// Package errs defines the error taxonomy shared by the decoding, calibration
// and persistence layers.
//
// FormatError and AllocationError are fatal for the current product or
// stream. ErrAbsent marks legitimately missing optional data and is never
// fatal. DegenerateNumeric is a warning: the value has already been replaced
// by a sentinel. SinkError reports a storage failure for one phase.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAbsent reports an optional section, stream or table that is not present.
	ErrAbsent = errors.New("nadc: optional data absent")
	// ErrMissingTable reports a calibration table required by a requested stage.
	ErrMissingTable = errors.New("nadc: calibration table missing")
	// ErrDegenerate reports a non-finite or out-of-domain intermediate value.
	ErrDegenerate = errors.New("nadc: degenerate numeric value")
	// ErrFormat is matched by every FormatError.
	ErrFormat = errors.New("nadc: format error")
	// ErrAllocation is matched by every AllocationError.
	ErrAllocation = errors.New("nadc: allocation error")
	// ErrSink is matched by every SinkError.
	ErrSink = errors.New("nadc: sink error")
)

// FormatError reports structural corruption: size or offset mismatch, unknown tag.
type FormatError struct {
	Section string
	Offset  int64
	Msg     string
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("format error in %s at offset %d: %s", e.Section, e.Offset, e.Msg)
	}
	return fmt.Sprintf("format error in %s: %s", e.Section, e.Msg)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Formatf builds a FormatError for section. Use offset -1 when unknown.
func Formatf(section string, offset int64, format string, args ...any) error {
	return &FormatError{Section: section, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// AllocationError reports a buffer that could not be sized, typically a
// declared count that does not fit in memory.
type AllocationError struct {
	What  string
	Bytes int64
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate %d bytes for %s", e.Bytes, e.What)
}

func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// DegenerateNumeric describes a value replaced by the zero sentinel.
type DegenerateNumeric struct {
	Stage string
	Pixel int
	Msg   string
}

func (e *DegenerateNumeric) Error() string {
	if e.Pixel >= 0 {
		return fmt.Sprintf("%s: pixel %d: %s", e.Stage, e.Pixel, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Msg)
}

func (e *DegenerateNumeric) Is(target error) bool { return target == ErrDegenerate }

// SinkError reports a persistence failure in one phase of a write.
type SinkError struct {
	Phase string
	Err   error
}

func (e *SinkError) Error() string { return fmt.Sprintf("%s phase: %v", e.Phase, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSink }

// IsFatal reports whether err must abort the current unit of work.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAbsent) && !errors.Is(err, ErrDegenerate)
}
