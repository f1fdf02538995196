package apdu

// Logical channel encoding in the class byte (ISO 7816-4 Section 5.1.1).
//
// Channels 0-3 use the first interindustry form: the channel number sits
// in bits b1-b2. Channels 4-19 use the further interindustry form: bit
// b7 is set and bits b1-b4 carry the channel number minus four. The two
// forms place secure messaging bits differently; this stack does not use
// secure messaging, so those bits are always cleared when re-encoding.
const (
	// MaxChannel is the highest logical channel number a card can
	// assign (further interindustry form).
	MaxChannel = 19

	// BasicChannel is channel number 0.
	BasicChannel = 0

	furtherFormBit = 0x40
)

// EncodeChannel returns cla with its channel bits replaced so the
// command is routed to the given channel number.
func EncodeChannel(cla byte, channel int) (byte, error) {
	if channel < 0 || channel > MaxChannel {
		return 0, ErrChannelOutOfRange
	}
	if channel < 4 {
		// First form: keep everything but the channel and form bits.
		return cla&^byte(furtherFormBit|0x03) | byte(channel), nil
	}
	// Further form: keep only the proprietary/interindustry bit.
	return cla&0x80 | furtherFormBit | byte(channel-4), nil
}

// DecodeChannel extracts the channel number a class byte addresses.
func DecodeChannel(cla byte) int {
	if cla&furtherFormBit != 0 {
		return int(cla&0x0F) + 4
	}
	return int(cla & 0x03)
}
