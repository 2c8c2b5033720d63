package pose

import "errors"

var (
	// ErrNoProviderAvailable is returned when neither the requested nor the
	// default provider is registered.
	ErrNoProviderAvailable = errors.New("no pose provider available")

	// ErrInvalidResponse is returned when the estimator answers with a body
	// that cannot be decoded into landmarks.
	ErrInvalidResponse = errors.New("invalid estimator response")
)
