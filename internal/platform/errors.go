package platform

import (
	"errors"
	"fmt"
)

// Error taxonomy for the integration layer.
//
// Rules:
// - ConfigurationError: missing/invalid credentials. Fatal to that platform only.
// - LifecycleError: operation invoked out of order (programmer error); surfaced
//   immediately, never retried.
// - TransportError: network/socket failure; retryable, caller decides.
// - ValidationError: request outside negotiated capability limits; not retryable.
// - Registry misuse uses the ErrNotFound/ErrDuplicate sentinels.

var (
	ErrNotFound  = errors.New("platform: not found")
	ErrDuplicate = errors.New("platform: duplicate id")
)

type ConfigurationError struct {
	PlatformID string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("platform %s: configuration: %s", e.PlatformID, e.Reason)
}

type LifecycleError struct {
	PlatformID string
	Op         string
	State      State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("platform %s: %s not allowed in state %s", e.PlatformID, e.Op, e.State)
}

type TransportError struct {
	PlatformID string
	Op         string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform %s: transport: %s: %v", e.PlatformID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type ValidationError struct {
	PlatformID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("platform %s: validation: %s", e.PlatformID, e.Reason)
}
