package apdu

import "errors"

var (
	// Command encoding/parsing errors
	ErrCommandTooShort  = errors.New("apdu: command shorter than 4-byte header")
	ErrCommandMalformed = errors.New("apdu: inconsistent Lc/Le encoding")
	ErrDataTooLong      = errors.New("apdu: command data exceeds 255 bytes")
	ErrLeOutOfRange     = errors.New("apdu: Le out of range")

	// Response errors
	ErrResponseTooShort = errors.New("apdu: response shorter than status word")

	// Channel encoding errors
	ErrChannelOutOfRange = errors.New("apdu: channel number out of range (0-19)")
)
