package notification

import "errors"

// ErrInvalidPayload is returned when a payload or priority fails validation.
var ErrInvalidPayload = errors.New("invalid notification payload")
