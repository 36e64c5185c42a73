package parser

import "errors"

// Sentinel error kinds for this package. These allow errors.Is from callers.
var (
	// ErrMalformedRecord marks a session line that is not valid JSON or has
	// no worker code.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrMalformedPayload marks an embedded question-response or
	// question-order string that does not match its expected shape.
	ErrMalformedPayload = errors.New("malformed embedded payload")
)
