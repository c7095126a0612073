package utils

import "errors"

// Sentinel errors for the correlation pipeline. All of these are recovered
// locally and converted into a degraded-but-present incident result; none
// may cause a trigger to vanish silently.
var (
	// ErrInvalidSignal marks malformed or out-of-tolerance ingestion.
	ErrInvalidSignal = errors.New("invalid signal")
	// ErrUnknownService marks a topology miss; callers degrade to
	// lowest-priority handling instead of aborting.
	ErrUnknownService = errors.New("unknown service")
	// ErrUpstreamUnavailable marks an unreachable signal store or topology model.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound marks a missing incident in the history store.
	ErrNotFound = errors.New("not found")
)

// AppError tags a failure with the pipeline stage it came from, so log
// lines and API responses can group failures by operation. The cause stays
// reachable through errors.Is/As.
type AppError struct {
	Op    string // pipeline stage, e.g. "history.save"
	Msg   string
	Cause error
}

func (e *AppError) Error() string {
	s := e.Op + ": " + e.Msg
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Cause }

// NewAppError wraps err with the failing operation and a human-facing message.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Cause: err}
}
