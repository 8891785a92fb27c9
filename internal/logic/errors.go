package logic

import "errors"

var (
	// ErrInit: hardware bring-up failed; the transmitter is in StateError.
	ErrInit = errors.New("transmitter initialization failed")

	// ErrDeviceUnavailable: the request cannot be served in the current state.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNotInitialized: bounds are not known yet.
	ErrNotInitialized = errors.New("transmitter not initialized")

	// ErrBlocked: offline mode or headphones forbid transmission.
	ErrBlocked = errors.New("transmission blocked")

	// ErrTuneRejected: the hardware refused the request by policy.
	ErrTuneRejected = errors.New("tune rejected")

	// ErrTuneFailed: the hardware returned an I/O error.
	ErrTuneFailed = errors.New("tune failed")

	// ErrOutOfRange: the frequency lies outside the configured bounds.
	ErrOutOfRange = errors.New("frequency out of range")
)
