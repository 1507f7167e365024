package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrUnknownDirection   = fmt.Errorf("unknown sync direction")

	// Authentication errors
	ErrNoRefreshToken = fmt.Errorf("no refresh token available")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNoMatch            = fmt.Errorf("no matching track found")
	ErrAlreadyPresent     = fmt.Errorf("track already in collection")
	ErrPermanent          = fmt.Errorf("permanent failure")

	// Store and state machine errors
	ErrTrackNotFound     = fmt.Errorf("track not found")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")

	// Input validation errors
	ErrInvalidInput = fmt.Errorf("invalid input")
)
