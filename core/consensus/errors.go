package consensus

import (
	"errors"
	"fmt"
)

// ErrBusy rejects a request arriving while another session is in flight.
var ErrBusy = errors.New("consensus: session already in progress")

// ConfigurationError reports a missing profile or credential. It is raised
// before any completion call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ApiError reports a failed or malformed completion response. It aborts the
// session; no partial answer is returned.
type ApiError struct {
	Stage Stage
	Model string
	Err   error
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api error at %s (%s): %v", e.Stage, e.Model, e.Err)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a completion call exceeding its deadline. Abort
// behavior matches ApiError.
type TimeoutError struct {
	Stage Stage
	Model string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout at %s (%s): %v", e.Stage, e.Model, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
