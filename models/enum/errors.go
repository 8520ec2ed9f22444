package enum

import "errors"

// ErrNoTransition is returned when the current state accepts no events at all.
var ErrNoTransition = errors.New("no transition defined for state")
