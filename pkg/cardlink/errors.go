package cardlink

import "errors"

var (
	// ErrCommunication wraps transport failures and timeouts. Callers
	// may retry; this layer never does.
	ErrCommunication = errors.New("cardlink: card communication failed")

	// ErrNotPresent is returned when no card is in the reader.
	ErrNotPresent = errors.New("cardlink: no card present")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cardlink: link closed")
)
