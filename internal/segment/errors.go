package segment

import "fmt"

// ConfigurationError is a server-side setup problem. It is not retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ValidationError rejects an unusable input point.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid point: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// PredictError wraps a failed or empty oracle prediction.
type PredictError struct {
	Err error
}

func (e *PredictError) Error() string { return fmt.Sprintf("oracle predict: %v", e.Err) }

func (e *PredictError) Unwrap() error { return e.Err }
