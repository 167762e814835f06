package flowrun

import "errors"

var (
	ErrUnknownFlow         = errors.New("unknown flow")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidRetryPolicy  = errors.New("invalid retry policy")
)
