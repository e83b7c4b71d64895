package metrics

import "errors"

var (
	ErrStoreRequired = errors.New("metrics: store is required")
	ErrInvalidPeriod = errors.New("metrics: period must be at least one hour")
)
