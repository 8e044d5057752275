package types

import "errors"

// Engine error taxonomy. State-machine and authorization failures are
// surfaced synchronously to the caller and never retried internally;
// ErrUpstreamUnavailable is the only class eligible for caller-directed retry.
var (
	ErrNotFound            = errors.New("entity not found")
	ErrInvalidTransition   = errors.New("entity is not in a state permitting this action")
	ErrDuplicateQuote      = errors.New("an active pending quote already exists for this load and carrier")
	ErrForbidden           = errors.New("caller is not authorized for this resource")
	ErrUpstreamUnavailable = errors.New("storage or transport unavailable")
)
