// Package bertlv decodes and encodes the BER-TLV subset used by the
// GlobalPlatform Secure Element Access Control data objects: one or two
// byte tags and definite lengths up to 0x82 xx xx. Decoding is strict;
// a value that runs past the end of its container is an error, never
// clamped.
package bertlv

// TLV is one decoded tag-length-value element. Value aliases the input
// buffer; callers that retain it across parses must copy.
type TLV struct {
	Tag   uint16
	Value []byte
}

// Constructed reports whether the tag's constructed bit is set, meaning
// the value is itself a sequence of TLVs.
func (t TLV) Constructed() bool {
	first := byte(t.Tag)
	if t.Tag > 0xFF {
		first = byte(t.Tag >> 8)
	}
	return first&0x20 != 0
}

// Reader iterates the TLVs of one container level.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// More reports whether another TLV can be read.
func (r *Reader) More() bool {
	return r.off < len(r.buf)
}

// Next decodes the next TLV. Call More first; Next on an exhausted
// reader returns ErrTruncated.
func (r *Reader) Next() (TLV, error) {
	tag, err := r.readTag()
	if err != nil {
		return TLV{}, err
	}
	length, err := r.readLength()
	if err != nil {
		return TLV{}, err
	}
	if length > len(r.buf)-r.off {
		return TLV{}, ErrTruncated
	}
	v := r.buf[r.off : r.off+length]
	r.off += length
	return TLV{Tag: tag, Value: v}, nil
}

// ReadAll decodes every TLV in buf, requiring the buffer to be exactly
// a sequence of TLVs with nothing left over.
func ReadAll(buf []byte) ([]TLV, error) {
	r := NewReader(buf)
	var out []TLV
	for r.More() {
		tlv, err := r.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tlv)
	}
	return out, nil
}

func (r *Reader) readTag() (uint16, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	first := r.buf[r.off]
	r.off++
	if first&0x1F != 0x1F {
		return uint16(first), nil
	}
	// Two-byte tag. Longer tag numbers do not occur in the access
	// control data objects.
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	second := r.buf[r.off]
	r.off++
	if second&0x80 != 0 {
		return 0, ErrBadTag
	}
	return uint16(first)<<8 | uint16(second), nil
}

func (r *Reader) readLength() (int, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	switch {
	case b < 0x80:
		return int(b), nil
	case b == 0x81:
		if r.off >= len(r.buf) {
			return 0, ErrTruncated
		}
		n := int(r.buf[r.off])
		r.off++
		return n, nil
	case b == 0x82:
		if r.off+1 >= len(r.buf) {
			return 0, ErrTruncated
		}
		n := int(r.buf[r.off])<<8 | int(r.buf[r.off+1])
		r.off += 2
		return n, nil
	default:
		return 0, ErrBadLength
	}
}

// Append encodes one TLV onto buf and returns the extended slice.
// Used to build access rule blobs in tests and the emulated card.
func Append(buf []byte, tag uint16, value []byte) []byte {
	if tag > 0xFF {
		buf = append(buf, byte(tag>>8), byte(tag))
	} else {
		buf = append(buf, byte(tag))
	}
	n := len(value)
	switch {
	case n < 0x80:
		buf = append(buf, byte(n))
	case n <= 0xFF:
		buf = append(buf, 0x81, byte(n))
	default:
		buf = append(buf, 0x82, byte(n>>8), byte(n))
	}
	return append(buf, value...)
}
