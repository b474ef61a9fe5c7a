package indicator

import "errors"

// Sentinel errors for indicator construction. Constructors validate their
// parameters up front so a misconfigured indicator never silently produces
// zeros or panics mid-stream.
var (
	// ErrInvalidPeriod is returned when a period is below 1.
	ErrInvalidPeriod = errors.New("indicator: period must be >= 1")

	// ErrInvalidPair is returned when a fast/slow period pair is not
	// strictly ordered (fast must be < slow).
	ErrInvalidPair = errors.New("indicator: fast period must be < slow period")

	// ErrUnknownType is returned when an indicator config names a type
	// this engine does not implement.
	ErrUnknownType = errors.New("indicator: unknown indicator type")
)
