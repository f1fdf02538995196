package apdu

// Response is a decoded response APDU: payload followed by the SW1 SW2
// status word.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// ParseResponse splits a raw response into payload and status word.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, ErrResponseTooShort
	}
	n := len(raw)
	return &Response{
		Data: append([]byte(nil), raw[:n-2]...),
		SW1:  raw[n-2],
		SW2:  raw[n-1],
	}, nil
}

// SW returns the status word as a 16-bit value (SW1 high byte).
func (r *Response) SW() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// Bytes re-encodes the response, payload first, status word last.
func (r *Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	out = append(out, r.SW1, r.SW2)
	return out
}

// IsSuccess reports whether the status word is 0x9000.
func (r *Response) IsSuccess() bool {
	return r.SW() == SWSuccess
}
