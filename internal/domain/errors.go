package domain

import "errors"

// Error taxonomy for a relay run. Adapters wrap one of these so the entry
// point can classify a failure with errors.Is.
var (
	// ErrNetwork means the weather request could not be completed
	// (timeout, DNS failure, connection refused).
	ErrNetwork = errors.New("network error")

	// ErrService means the weather service answered, but with a failure
	// status, an empty body, or a malformed report.
	ErrService = errors.New("weather service error")

	// ErrDevice means no usable mesh radio could be opened.
	ErrDevice = errors.New("device error")

	// ErrNoDevice is the ErrDevice case where discovery found no radio at all.
	ErrNoDevice = errors.New("no meshtastic device found")

	// ErrTransmit means the radio or the serial link rejected a message.
	ErrTransmit = errors.New("transmit error")

	// ErrEmptyLocation rejects a blank location argument.
	ErrEmptyLocation = errors.New("location must not be empty")
)
