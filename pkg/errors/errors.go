package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Proxy errors
	ErrNoLiveProxy       = errors.New("no live proxy found")
	ErrInvalidEndpoint   = errors.New("invalid proxy endpoint")
	ErrUnsupportedScheme = errors.New("proxy scheme not supported")

	// Browser errors
	ErrBrowserNotFound     = errors.New("browser executable not found")
	ErrDebuggerUnavailable = errors.New("browser debug endpoint unavailable")

	// Profile errors
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileBusy     = errors.New("profile is already running")

	// Relay errors
	ErrRelayUnavailable    = errors.New("relay could not be started")
	ErrRelayBinaryNotFound = errors.New("relay binary not found")

	// Source errors
	ErrSourceFetchFailed = errors.New("failed to fetch proxy source")

	// Storage errors
	ErrSettingNotFound = errors.New("setting not found")
)

// LockConflictError is returned when a profile directory is held by a live browser.
type LockConflictError struct {
	PID        int
	ProfileDir string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("profile %s is already running (PID %d)", e.ProfileDir, e.PID)
}

func (e *LockConflictError) Unwrap() error {
	return ErrProfileBusy
}

// ProfileError represents a profile-related error
type ProfileError struct {
	ProfileID string
	Err       error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("profile '%s': %v", e.ProfileID, e.Err)
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// RelayError represents a relay engine failure
type RelayError struct {
	Engine string
	Err    error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s relay: %v", e.Engine, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// SourceError represents a proxy source fetch failure
type SourceError struct {
	URL  string
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("source '%s': %v", e.Name, e.Err)
	}
	return fmt.Sprintf("source '%s': %v", e.URL, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NetworkError represents a network-related error
type NetworkError struct {
	Address string
	Port    int
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s:%d): %v", e.Address, e.Port, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// CDPError is a protocol-level error reply from the browser debug port.
type CDPError struct {
	Method  string
	Code    int
	Message string
}

func (e *CDPError) Error() string {
	return fmt.Sprintf("cdp %s: %s (code %d)", e.Method, e.Message, e.Code)
}
