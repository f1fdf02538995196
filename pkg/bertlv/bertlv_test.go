package bertlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestReader_Next(t *testing.T) {
	t.Run("single byte tag short length", func(t *testing.T) {
		tlv, err := NewReader([]byte{0x4F, 0x02, 0xA0, 0x00}).Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if tlv.Tag != 0x4F {
			t.Errorf("Tag = %02X, want 4F", tlv.Tag)
		}
		if !bytes.Equal(tlv.Value, []byte{0xA0, 0x00}) {
			t.Errorf("Value = % X", tlv.Value)
		}
	})

	t.Run("two byte tag", func(t *testing.T) {
		tlv, err := NewReader([]byte{0xFF, 0x40, 0x01, 0xAA}).Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if tlv.Tag != 0xFF40 {
			t.Errorf("Tag = %04X, want FF40", tlv.Tag)
		}
	})

	t.Run("long form lengths", func(t *testing.T) {
		v129 := make([]byte, 129)
		buf := Append(nil, 0xE2, v129)
		tlv, err := NewReader(buf).Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if len(tlv.Value) != 129 {
			t.Errorf("len(Value) = %d, want 129", len(tlv.Value))
		}

		v300 := make([]byte, 300)
		buf = Append(nil, 0xE2, v300)
		tlv, err = NewReader(buf).Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if len(tlv.Value) != 300 {
			t.Errorf("len(Value) = %d, want 300", len(tlv.Value))
		}
	})

	t.Run("constructed bit", func(t *testing.T) {
		if !(TLV{Tag: 0xE2}).Constructed() {
			t.Error("E2 should be constructed")
		}
		if (TLV{Tag: 0x4F}).Constructed() {
			t.Error("4F should be primitive")
		}
		if !(TLV{Tag: 0xFF40}).Constructed() {
			t.Error("FF40 should be constructed")
		}
	})

	truncated := [][]byte{
		{},                 // empty, Next on exhausted reader
		{0x4F},             // tag only
		{0x4F, 0x05, 0x01}, // value shorter than length
		{0x4F, 0x81},       // long form missing length byte
		{0x4F, 0x82, 0x01}, // two-byte length cut short
		{0xFF},             // two-byte tag cut short
	}
	for _, raw := range truncated {
		t.Run("truncated input", func(t *testing.T) {
			if _, err := NewReader(raw).Next(); !errors.Is(err, ErrTruncated) {
				t.Errorf("Next(% X) error = %v, want ErrTruncated", raw, err)
			}
		})
	}

	t.Run("rejects indefinite length", func(t *testing.T) {
		if _, err := NewReader([]byte{0x4F, 0x80, 0x00, 0x00}).Next(); !errors.Is(err, ErrBadLength) {
			t.Errorf("error = %v, want ErrBadLength", err)
		}
	})
}

func TestReadAll(t *testing.T) {
	t.Run("sequence", func(t *testing.T) {
		buf := Append(nil, 0xC1, []byte{0x01})
		buf = Append(buf, 0xC1, []byte{0x02})
		tlvs, err := ReadAll(buf)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if len(tlvs) != 2 {
			t.Fatalf("len = %d, want 2", len(tlvs))
		}
	})

	t.Run("fails on trailing partial TLV", func(t *testing.T) {
		buf := Append(nil, 0xC1, []byte{0x01})
		buf = append(buf, 0xC1) // tag with no length
		if _, err := ReadAll(buf); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})
}
