package models

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyConfigured is returned when a tracking number is registered
	// twice under the same api key.
	ErrAlreadyConfigured = errors.New("already configured")

	// ErrInvalidQuery is returned when a tracking query fails validation.
	ErrInvalidQuery = errors.New("invalid tracking query")

	// ErrRateLimited is returned when the vendor quota for an api key is used up.
	ErrRateLimited = errors.New("vendor rate limit exceeded")

	// ErrNotFound is returned when a shipment id is unknown.
	ErrNotFound = errors.New("shipment not found")
)

// NetworkError is a transport failure or a non-2xx HTTP response.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error: http %d", e.StatusCode)
	}
	if e.Err == nil {
		return "network error"
	}
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the vendor did not answer within the request window.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// VendorError carries a non-success application code from the payload.
type VendorError struct {
	Code    int
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor error %d: %s", e.Code, e.Message)
}

// ConfigurationError rejects a registration before any coordinator exists.
type ConfigurationError struct {
	TrackingNumber string
	Err            error
}

func (e *ConfigurationError) Error() string {
	if e.TrackingNumber == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error: tracking number %s: %s", e.TrackingNumber, e.Err.Error())
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UpdateFailedError is the single outcome reported for a failed poll cycle.
type UpdateFailedError struct {
	TrackingNumber string
	Err            error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed for %s: %s", e.TrackingNumber, e.Err.Error())
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a transport-class failure, timeouts included.
func IsNetwork(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}
