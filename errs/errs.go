// Package errs defines the sentinel errors returned throughout byteseries.
//
// Call sites wrap a sentinel with detail via fmt.Errorf("%w: ...", errs.ErrX)
// so callers can both errors.Is the sentinel and read a human-readable detail
// string. Structured cases that carry fields (e.g. a rejected timestamp) use
// a typed error in this package that implements Unwrap back to the sentinel.
package errs

import (
	"errors"
	"fmt"
)

var (
	// Builder / parameter errors.
	ErrPayloadSizeRequired  = errors.New("byteseries: payload size is required to create a new series")
	ErrPayloadSizeChanged   = errors.New("byteseries: payload size does not match the file's stored payload size")
	ErrVersionMismatch      = errors.New("byteseries: file version does not match the version this build supports")
	ErrMalformedPreamble    = errors.New("byteseries: file preamble is malformed or truncated")
	ErrWrongLineLength      = errors.New("byteseries: pushed payload length does not match the series payload size")
	ErrHeaderMismatch       = errors.New("byteseries: supplied header does not match the header stored in the file")
	ErrHeaderRequired       = errors.New("byteseries: a header was required but none is stored in the file")
	ErrUnknownCodec         = errors.New("byteseries: unknown compression codec name")

	// Open / create errors.
	ErrAlreadyExists  = errors.New("byteseries: series file already exists")
	ErrHeaderTooLarge = errors.New("byteseries: user header exceeds the maximum size")
	ErrHeaderNotUTF8  = errors.New("byteseries: stored preamble text is not valid UTF-8")

	// Seek / range errors.
	ErrEmptyFile      = errors.New("byteseries: series has no data")
	ErrStartAfterData = errors.New("byteseries: requested start is after the end of stored data")
	ErrStopBeforeData = errors.New("byteseries: requested stop is before the start of stored data")
	ErrStartAfterStop = errors.New("byteseries: requested start is after the requested stop")

	// Push errors.
	ErrTimeNotAfterLast = errors.New("byteseries: new timestamp is not strictly after the last stored timestamp")

	// Corruption errors.
	ErrCorruptMetaSection = errors.New("byteseries: encountered a corrupt meta section")

	// Index errors.
	ErrIndexLastTimeMismatch = errors.New("byteseries: index's last timestamp does not match the data log's last meta timestamp")

	// Downsample errors.
	ErrDownsampleOutOfSync   = errors.New("byteseries: downsampled cache's last timestamp is not a valid bucket mean of the source")
	ErrDownsampleShouldEmpty = errors.New("byteseries: downsampled cache should be empty but is not")

	// Read errors.
	ErrNoData = errors.New("byteseries: no data available for this operation")
)

// TimeNotAfterLast carries the rejected timestamp and the previous stored one.
type TimeNotAfterLast struct {
	New  uint64
	Prev uint64
}

func (e *TimeNotAfterLast) Error() string {
	return errFieldf(ErrTimeNotAfterLast, "new=%d prev=%d", e.New, e.Prev)
}

func (e *TimeNotAfterLast) Unwrap() error { return ErrTimeNotAfterLast }

// StartAfterData carries the requested start timestamp and the data's actual range.
type StartAfterData struct {
	Requested uint64
	RangeLow  uint64
	RangeHigh uint64
}

func (e *StartAfterData) Error() string {
	return errFieldf(ErrStartAfterData, "requested=%d data_range=[%d,%d]", e.Requested, e.RangeLow, e.RangeHigh)
}

func (e *StartAfterData) Unwrap() error { return ErrStartAfterData }

// PayloadSizeChanged carries the caller-supplied and stored payload sizes.
type PayloadSizeChanged struct {
	Given int
	Found int
}

func (e *PayloadSizeChanged) Error() string {
	return errFieldf(ErrPayloadSizeChanged, "given=%d found=%d", e.Given, e.Found)
}

func (e *PayloadSizeChanged) Unwrap() error { return ErrPayloadSizeChanged }

// VersionMismatch carries the version this build needs and the version found on disk.
type VersionMismatch struct {
	Needed uint16
	Found  uint16
}

func (e *VersionMismatch) Error() string {
	return errFieldf(ErrVersionMismatch, "needed=%d found=%d", e.Needed, e.Found)
}

func (e *VersionMismatch) Unwrap() error { return ErrVersionMismatch }

// DownsampleOutOfSync carries the candidate bucket means and the value actually
// found as the cache's last timestamp.
type DownsampleOutOfSync struct {
	CorrectOptionsMin uint64
	CorrectOptionsMax uint64
	FoundInFile       uint64
}

func (e *DownsampleOutOfSync) Error() string {
	return errFieldf(ErrDownsampleOutOfSync, "correct_options=[%d,%d] found_in_file=%d",
		e.CorrectOptionsMin, e.CorrectOptionsMax, e.FoundInFile)
}

func (e *DownsampleOutOfSync) Unwrap() error { return ErrDownsampleOutOfSync }

// IndexLastTimeMismatch carries the two disagreeing timestamps seen at open-time repair.
type IndexLastTimeMismatch struct {
	LastTimeInIndex uint64
	LastTimeInData  uint64
}

func (e *IndexLastTimeMismatch) Error() string {
	return errFieldf(ErrIndexLastTimeMismatch, "index=%d data=%d", e.LastTimeInIndex, e.LastTimeInData)
}

func (e *IndexLastTimeMismatch) Unwrap() error { return ErrIndexLastTimeMismatch }

func errFieldf(sentinel error, format string, args ...any) string {
	return sentinel.Error() + ": " + fmt.Sprintf(format, args...)
}
