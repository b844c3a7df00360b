package growth

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when a required fitted artifact (curve set,
// residual model, bundle file) cannot be found. Simulation cannot proceed
// without a growth function, so callers should treat this as fatal.
var ErrModelUnavailable = errors.New("model artifact unavailable")

// DataError reports a structural problem with input data: missing required
// columns or an empty observation set. Species/plot combinations without data
// are NOT data errors; they degrade to a coarser fallback level with a warning.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: %s", e.Reason)
}

// NewDataError creates a DataError with a formatted reason
func NewDataError(format string, args ...interface{}) *DataError {
	return &DataError{Reason: fmt.Sprintf(format, args...)}
}
