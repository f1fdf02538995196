package access

import (
	"testing"

	"github.com/openmobile/omapi/pkg/apdu"
)

func TestAPDUFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter APDUFilter
		header apdu.Header
		want   bool
	}{
		{
			name: "exact match",
			filter: APDUFilter{
				Header: apdu.Header{0x00, 0xA4, 0x04, 0x00},
				Mask:   apdu.Header{0xFF, 0xFF, 0xFF, 0xFF},
			},
			header: apdu.Header{0x00, 0xA4, 0x04, 0x00},
			want:   true,
		},
		{
			name: "exact mismatch",
			filter: APDUFilter{
				Header: apdu.Header{0x00, 0xA4, 0x04, 0x00},
				Mask:   apdu.Header{0xFF, 0xFF, 0xFF, 0xFF},
			},
			header: apdu.Header{0x00, 0xA4, 0x04, 0x01},
			want:   false,
		},
		{
			name: "masked cla ignores channel bits",
			filter: APDUFilter{
				Header: apdu.Header{0x00, 0xB0, 0x00, 0x00},
				Mask:   apdu.Header{0xFC, 0xFF, 0x00, 0x00},
			},
			header: apdu.Header{0x02, 0xB0, 0x7F, 0x12},
			want:   true,
		},
		{
			name:   "zero mask matches anything",
			filter: APDUFilter{},
			header: apdu.Header{0xDE, 0xAD, 0xBE, 0xEF},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.header); got != tt.want {
				t.Errorf("Matches(% X) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestChannelAccess_CheckCommand(t *testing.T) {
	t.Run("first match wins", func(t *testing.T) {
		// deny 0x0?.. first, then allow everything.
		a := ChannelAccess{
			APDUAccess: PolicyDenied,
			Filters: []FilterEntry{
				{
					Filter: APDUFilter{
						Header: apdu.Header{0x00, 0x00, 0x00, 0x00},
						Mask:   apdu.Header{0xF0, 0x00, 0x00, 0x00},
					},
					Allow: false,
				},
				{Filter: APDUFilter{}, Allow: true},
			},
		}
		if a.CheckCommand(apdu.Header{0x0A, 0x00, 0x00, 0x00}) {
			t.Error("header 0A should hit the deny filter first")
		}
		if !a.CheckCommand(apdu.Header{0x1A, 0x00, 0x00, 0x00}) {
			t.Error("header 1A should fall through to the allow-all filter")
		}
	})

	t.Run("no match falls back to blanket policy", func(t *testing.T) {
		a := ChannelAccess{
			APDUAccess: PolicyAllowed,
			Filters: []FilterEntry{
				{
					Filter: APDUFilter{
						Header: apdu.Header{0x80, 0xCA, 0x00, 0x00},
						Mask:   apdu.Header{0xFF, 0xFF, 0x00, 0x00},
					},
					Allow: false,
				},
			},
		}
		if !a.CheckCommand(apdu.Header{0x00, 0xB0, 0x00, 0x00}) {
			t.Error("unmatched header should use the allow blanket policy")
		}
	})

	t.Run("unknown blanket policy denies", func(t *testing.T) {
		a := ChannelAccess{}
		if a.CheckCommand(apdu.Header{0x00, 0xB0, 0x00, 0x00}) {
			t.Error("no filters and no blanket policy must deny")
		}
	})
}

func TestRefs(t *testing.T) {
	hash := []byte{0x01, 0x02, 0x03}

	t.Run("wildcard hash matches all", func(t *testing.T) {
		if !HashRef(nil).Matches(hash) {
			t.Error("wildcard should match")
		}
	})

	t.Run("exact hash", func(t *testing.T) {
		if !HashRef(hash).Matches(hash) {
			t.Error("identical hash should match")
		}
		if HashRef(hash).Matches([]byte{0x99}) {
			t.Error("different hash should not match")
		}
	})

	t.Run("aid ref and default application", func(t *testing.T) {
		aid := []byte{0xA0, 0x00, 0x00, 0x01, 0x51}
		if !AIDRef(nil).Matches(nil) {
			t.Error("wildcard should cover the default application")
		}
		if AIDRef(aid).Matches(nil) {
			t.Error("exact ref must not cover the default application")
		}
		if !AIDRef(aid).Matches(aid) {
			t.Error("exact ref should match its own AID")
		}
	})
}

func TestValidateRule(t *testing.T) {
	sha1 := make([]byte, HashLenSHA1)
	aid := []byte{0xA0, 0x00, 0x00, 0x01, 0x51}

	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{"wildcard rule", Rule{}, nil},
		{"sha1 hash exact aid", Rule{Hash: sha1, AID: aid}, nil},
		{"sha256 hash", Rule{Hash: make([]byte, HashLenSHA256)}, nil},
		{"bad hash length", Rule{Hash: []byte{1, 2, 3}}, ErrInvalidHashRef},
		{"aid too short", Rule{AID: []byte{1, 2}}, ErrInvalidAIDRef},
		{"aid too long", Rule{AID: make([]byte, 17)}, ErrInvalidAIDRef},
		{"bad policy", Rule{Access: ChannelAccess{Access: 99}}, ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(&tt.rule)
			if err != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
