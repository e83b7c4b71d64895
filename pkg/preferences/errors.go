package preferences

import "errors"

var (
	ErrInvalidPreferences = errors.New("preferences: invalid")
	ErrUserIDRequired     = errors.New("preferences: user id is required")
)
