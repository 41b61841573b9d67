package engine

import "errors"

// UpstreamError marks a failure of the external completion provider. When
// the engine returns one, no assistant reply was appended to the ledger,
// so the transport may safely surface the failure and let the user retry.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "engine: completion provider failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err is, or wraps, an *UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
