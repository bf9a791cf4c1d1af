package inbox

import "errors"

var (
	// ErrInvalidArgument is returned when a required identifier is empty or
	// input fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAuthorizationMissing is returned when no OAuth credentials are stored
	// for the user. No Gmail call is made.
	ErrAuthorizationMissing = errors.New("no stored Gmail credentials for this user, please sign in")
)

// UpstreamError wraps a failed Gmail call. Its message is the upstream
// message unchanged.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }
