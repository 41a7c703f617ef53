package mt5

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected means the venue refused the request and a retry with the
	// same parameters will not succeed.
	ErrRejected = errors.New("order rejected")

	// ErrTransient means the request failed for a reason that may clear on
	// the next attempt (requote, price off, gateway hiccup).
	ErrTransient = errors.New("transient venue error")

	// ErrStaleData means market data was returned but is too old to act on.
	ErrStaleData = errors.New("stale market data")
)

// RetcodeError maps a gateway retcode to the engine's error taxonomy.
// A nil return means the request was executed.
func RetcodeError(retcode int, comment string) error {
	switch retcode {
	case RetcodeDone:
		return nil
	case RetcodeRequote, RetcodePriceOff:
		return fmt.Errorf("%w: retcode %d %s", ErrTransient, retcode, comment)
	default:
		return fmt.Errorf("%w: retcode %d %s", ErrRejected, retcode, comment)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrStaleData)
}
