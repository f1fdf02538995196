// Package apdu implements the ISO/IEC 7816-4 command and response APDU
// encoding used to talk to a secure element, including the short-form
// case 1 through case 4 structures, status word classification and the
// logical channel bits of the class byte.
//
// Extended-length APDUs are not produced by this stack; secure elements
// reached through the baseband expose short-form only.
package apdu

// HeaderSize is the fixed CLA INS P1 P2 prefix of every command.
const HeaderSize = 4

// MaxShortData is the maximum command data length in short form.
const MaxShortData = 255

// MaxShortLe is the maximum expected-response length in short form.
// Le of 0 on the wire means 256 bytes.
const MaxShortLe = 256

// Header is the 4-byte command header (CLA INS P1 P2).
// Access rules filter on this prefix only.
type Header [HeaderSize]byte

// Command is a decoded command APDU.
type Command struct {
	Cla byte
	Ins byte
	P1  byte
	P2  byte

	// Data is the command payload (case 3/4). Nil or empty for case 1/2.
	Data []byte

	// Le is the expected response length (case 2/4), in the range 1..256.
	// Meaningful only when ExpectResponse is true.
	Le int

	// ExpectResponse marks the command as case 2 or case 4.
	ExpectResponse bool
}

// Header returns the 4-byte command header.
func (c *Command) Header() Header {
	return Header{c.Cla, c.Ins, c.P1, c.P2}
}

// Case returns the ISO 7816-4 command case (1-4).
func (c *Command) Case() int {
	switch {
	case len(c.Data) == 0 && !c.ExpectResponse:
		return 1
	case len(c.Data) == 0:
		return 2
	case !c.ExpectResponse:
		return 3
	default:
		return 4
	}
}

// Bytes encodes the command in short form.
// Returns an error if the data exceeds the short-form limit or Le is
// out of range.
func (c *Command) Bytes() ([]byte, error) {
	if len(c.Data) > MaxShortData {
		return nil, ErrDataTooLong
	}
	if c.ExpectResponse && (c.Le < 1 || c.Le > MaxShortLe) {
		return nil, ErrLeOutOfRange
	}

	buf := make([]byte, 0, HeaderSize+1+len(c.Data)+1)
	buf = append(buf, c.Cla, c.Ins, c.P1, c.P2)

	if len(c.Data) > 0 {
		buf = append(buf, byte(len(c.Data)))
		buf = append(buf, c.Data...)
	}
	if c.ExpectResponse {
		// Le of 256 encodes as 0x00.
		buf = append(buf, byte(c.Le&0xFF))
	}
	return buf, nil
}

// ParseCommand decodes a short-form command APDU.
// The entire input must be consumed; trailing garbage is rejected.
func ParseCommand(raw []byte) (*Command, error) {
	if len(raw) < HeaderSize {
		return nil, ErrCommandTooShort
	}

	cmd := &Command{
		Cla: raw[0],
		Ins: raw[1],
		P1:  raw[2],
		P2:  raw[3],
	}
	body := raw[HeaderSize:]

	switch {
	case len(body) == 0:
		// Case 1
		return cmd, nil

	case len(body) == 1:
		// Case 2: single Le byte
		cmd.ExpectResponse = true
		cmd.Le = leValue(body[0])
		return cmd, nil

	default:
		// Case 3 or 4: Lc-prefixed data, optional trailing Le
		lc := int(body[0])
		rest := body[1:]
		switch {
		case lc == 0 || lc > len(rest):
			return nil, ErrCommandMalformed
		case len(rest) == lc:
			cmd.Data = append([]byte(nil), rest...)
			return cmd, nil
		case len(rest) == lc+1:
			cmd.Data = append([]byte(nil), rest[:lc]...)
			cmd.ExpectResponse = true
			cmd.Le = leValue(rest[lc])
			return cmd, nil
		default:
			return nil, ErrCommandMalformed
		}
	}
}

func leValue(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}
