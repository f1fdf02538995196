// Package access defines the channel access decision model: the
// tri-state policies attached to a channel, the APDU header filter
// evaluated before each transmit, and the rule shape produced by the
// rule store (GlobalPlatform Secure Element Access Control v1.1,
// Section 3.4).
package access

import (
	"bytes"

	"github.com/openmobile/omapi/pkg/apdu"
)

// Policy is a tri-state access decision.
type Policy uint8

const (
	// PolicyUnknown means no rule matched; the caller's default
	// applies.
	PolicyUnknown Policy = iota

	// PolicyAllowed grants access.
	PolicyAllowed

	// PolicyDenied refuses access.
	PolicyDenied
)

// String returns the policy name for logging.
func (p Policy) String() string {
	switch p {
	case PolicyAllowed:
		return "allowed"
	case PolicyDenied:
		return "denied"
	case PolicyUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// APDUFilter matches command headers whose masked bytes equal Header.
// A filter with Mask FF FF FF FF matches exactly one header; a zero
// mask matches everything.
type APDUFilter struct {
	Header apdu.Header
	Mask   apdu.Header
}

// Matches reports whether h satisfies the filter.
func (f APDUFilter) Matches(h apdu.Header) bool {
	for i := 0; i < apdu.HeaderSize; i++ {
		if h[i]&f.Mask[i] != f.Header[i]&f.Mask[i] {
			return false
		}
	}
	return true
}

// ChannelAccess is the decision that authorizes (or refuses) a channel
// and constrains the commands sent over it. It is immutable once
// produced by the enforcer; Clone before mutating.
type ChannelAccess struct {
	// Access gates channel opening.
	Access Policy

	// APDUAccess is the blanket command policy. When filters are
	// present it is the fall-through default for headers no filter
	// matches.
	APDUAccess Policy

	// Filters are evaluated in declaration order; the first matching
	// filter decides. An empty list defers entirely to APDUAccess.
	Filters []FilterEntry

	// NFCEventAccess gates NFC event delivery to the application.
	// Orthogonal to APDU filtering.
	NFCEventAccess Policy

	// Reason carries a diagnostic for denials. Not load-bearing.
	Reason string
}

// FilterEntry is one ordered filter with its verdict.
type FilterEntry struct {
	Filter APDUFilter
	Allow  bool
}

// CheckCommand evaluates the command header against the filter list,
// first match wins. With no match the blanket APDUAccess policy
// decides; an Unknown blanket policy denies.
func (a *ChannelAccess) CheckCommand(h apdu.Header) bool {
	for _, e := range a.Filters {
		if e.Filter.Matches(h) {
			return e.Allow
		}
	}
	return a.APDUAccess == PolicyAllowed
}

// Clone returns a deep copy.
func (a *ChannelAccess) Clone() ChannelAccess {
	out := *a
	out.Filters = append([]FilterEntry(nil), a.Filters...)
	return out
}

// Denied builds a deny-everything decision with the given reason.
func Denied(reason string) ChannelAccess {
	return ChannelAccess{
		Access:         PolicyDenied,
		APDUAccess:     PolicyDenied,
		NFCEventAccess: PolicyDenied,
		Reason:         reason,
	}
}

// HashRef identifies the applications a rule covers: an exact device
// application certificate digest, or every application when empty.
type HashRef []byte

// Wildcard reports whether the ref matches any application.
func (h HashRef) Wildcard() bool { return len(h) == 0 }

// Matches reports whether the ref covers the given certificate hash.
func (h HashRef) Matches(hash []byte) bool {
	return h.Wildcard() || bytes.Equal(h, hash)
}

// AIDRef identifies the applets a rule covers: an exact AID, or every
// applet when empty.
type AIDRef []byte

// Wildcard reports whether the ref matches any applet.
func (a AIDRef) Wildcard() bool { return len(a) == 0 }

// Matches reports whether the ref covers the given AID. The default
// application (nil aid) is only covered by the wildcard.
func (a AIDRef) Matches(aid []byte) bool {
	if a.Wildcard() {
		return true
	}
	return len(aid) > 0 && bytes.Equal(a, aid)
}

// Rule binds an application/applet pair to its access decision.
type Rule struct {
	Hash   HashRef
	AID    AIDRef
	Access ChannelAccess
}
