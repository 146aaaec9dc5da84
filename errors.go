package sc2mapkit

import "errors"

var (
	// ErrMissingSource reports a source layer directory that does not exist.
	ErrMissingSource = errors.New("missing source directory")
	// ErrDestinationExists reports build output that already exists and
	// would only be replaced with force enabled.
	ErrDestinationExists = errors.New("destination already exists")
)
