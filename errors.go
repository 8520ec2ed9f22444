package payout

import "errors"

var (
	ErrUnknownAccount       = errors.New("unknown account")
	ErrInvalidTransition    = errors.New("invalid account state transition")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrInvalidEmail         = errors.New("invalid owner email")
)

// IsDropped reports whether err is a structural inconsistency that a
// redelivery cannot fix; such deliveries are acknowledged and dropped.
func IsDropped(err error) bool {
	return errors.Is(err, ErrUnknownAccount) || errors.Is(err, ErrInvalidTransition)
}
