package rtls

import "errors"

var (
	// ErrInsufficientData is returned by the position engine when the
	// measurement list is empty after recency filtering. Callers recover
	// by skipping the update; no estimate is emitted.
	ErrInsufficientData = errors.New("insufficient measurement data")

	// ErrDegenerateGeometry indicates the trilateration system was
	// singular or near-singular. It is recovered internally by falling
	// back to the next algorithm tier and never escapes Estimate.
	ErrDegenerateGeometry = errors.New("degenerate reader geometry")

	// ErrTagNotFound is surfaced when a docket has no associated RFID tag.
	ErrTagNotFound = errors.New("no tag associated with docket")

	// ErrReaderNotFound is surfaced when a reader control command names an
	// unregistered reader.
	ErrReaderNotFound = errors.New("reader not found")

	// ErrSessionNotFound is surfaced when a finding-session operation
	// names an unknown or already-resolved session.
	ErrSessionNotFound = errors.New("finding session not found")
)
