// Package cardlink defines the raw transport boundary to one physical
// secure element: a synchronous, serial APDU byte channel. Everything
// above it (channel bookkeeping, rule fetching, filtering) lives in
// other packages; implementations of Link only move bytes.
//
// The package also ships an in-memory emulated card used by the tests
// and the demo binary, playing the role the virtual pipe transport
// plays for a network stack.
package cardlink

// Link is a duplex APDU transport to one secure element.
//
// Implementations must be safe for use by one caller at a time; the
// terminal serializes access. Transmit blocks until the card responds
// or the transport fails; there is no cancellation of an in-flight
// exchange.
type Link interface {
	// Transmit sends one command APDU and returns the raw response,
	// including the trailing status word.
	Transmit(cmd []byte) ([]byte, error)

	// Reset performs a card reset and returns the ATR.
	Reset() ([]byte, error)

	// IsPresent reports whether a card is in the reader. An error
	// means presence could not be determined, which is distinct from
	// (false, nil).
	IsPresent() (bool, error)

	// Close releases the link. Subsequent calls fail with ErrClosed.
	Close() error
}
