package jobclient

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a response body that could not be interpreted as
// a control-plane envelope.
var ErrMalformedResponse = errors.New("malformed response")

// TransportError means the request produced no usable response: the
// connection failed, the body could not be read, or it did not decode.
type TransportError struct {
	Command    string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport failure (HTTP %d): %v", e.Command, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a well-formed error envelope returned by the control plane
type APIError struct {
	Command    string
	StatusCode int
	Code       int
	Text       string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: api error %d: %s", e.Command, e.Code, e.Text)
	}
	return fmt.Sprintf("%s: api error: %s", e.Command, e.Text)
}

// IsTransport reports whether err is or wraps a *TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAPI reports whether err is or wraps an *APIError
func IsAPI(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
