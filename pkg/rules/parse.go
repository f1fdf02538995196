package rules

import (
	"fmt"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/bertlv"
)

// Data object tags from GlobalPlatform Secure Element Access Control
// v1.1, Section 5.1.
const (
	tagResponseAll = 0xFF40 // Response-ALL-AR-DO
	tagRefAr       = 0xE2   // REF-AR-DO
	tagRef         = 0xE1   // REF-DO
	tagAIDRef      = 0x4F   // AID-REF-DO, explicit AID (empty = all)
	tagAIDRefImpl  = 0xC0   // AID-REF-DO, implicitly selected application
	tagHashRef     = 0xC1   // Hash-REF-DO
	tagAr          = 0xE3   // AR-DO
	tagAPDUAr      = 0xD0   // APDU-AR-DO
	tagNFCAr       = 0xD1   // NFC-AR-DO
)

const filterEntrySize = 8 // 4-byte header + 4-byte mask

// ParseBlob decodes a Response-ALL-AR-DO blob into rules. Parsing is
// strict: any unknown tag, truncation or length inconsistency fails
// the entire blob with ErrParse, so a half-trusted rule set can never
// reach the enforcer. An empty blob yields an empty rule set.
func ParseBlob(blob []byte) ([]access.Rule, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	top, err := bertlv.ReadAll(blob)
	if err != nil {
		return nil, parseErr("top level: %v", err)
	}
	if len(top) != 1 || top[0].Tag != tagResponseAll {
		return nil, parseErr("expected one Response-ALL-AR-DO (FF40)")
	}

	entries, err := bertlv.ReadAll(top[0].Value)
	if err != nil {
		return nil, parseErr("rule list: %v", err)
	}

	out := make([]access.Rule, 0, len(entries))
	for _, e := range entries {
		if e.Tag != tagRefAr {
			return nil, parseErr("expected REF-AR-DO (E2), got %02X", e.Tag)
		}
		rule, err := parseRefAr(e.Value)
		if err != nil {
			return nil, err
		}
		if err := access.ValidateRule(rule); err != nil {
			return nil, parseErr("invalid rule: %v", err)
		}
		out = append(out, *rule)
	}
	return out, nil
}

func parseRefAr(buf []byte) (*access.Rule, error) {
	parts, err := bertlv.ReadAll(buf)
	if err != nil {
		return nil, parseErr("REF-AR-DO: %v", err)
	}
	if len(parts) != 2 || parts[0].Tag != tagRef || parts[1].Tag != tagAr {
		return nil, parseErr("REF-AR-DO must hold REF-DO then AR-DO")
	}

	rule := &access.Rule{}
	if err := parseRef(parts[0].Value, rule); err != nil {
		return nil, err
	}
	ar, err := parseAr(parts[1].Value)
	if err != nil {
		return nil, err
	}
	rule.Access = *ar
	return rule, nil
}

func parseRef(buf []byte, rule *access.Rule) error {
	refs, err := bertlv.ReadAll(buf)
	if err != nil {
		return parseErr("REF-DO: %v", err)
	}
	var seenAID, seenHash bool
	for _, ref := range refs {
		switch ref.Tag {
		case tagAIDRef:
			if seenAID {
				return parseErr("duplicate AID-REF-DO")
			}
			seenAID = true
			rule.AID = access.AIDRef(append([]byte(nil), ref.Value...))
		case tagAIDRefImpl:
			// Implicitly selected application. The reference carries
			// no AID; it behaves as a wildcard in this rule model.
			if seenAID {
				return parseErr("duplicate AID-REF-DO")
			}
			if len(ref.Value) != 0 {
				return parseErr("C0 AID-REF-DO must be empty")
			}
			seenAID = true
		case tagHashRef:
			if seenHash {
				return parseErr("duplicate Hash-REF-DO")
			}
			seenHash = true
			rule.Hash = access.HashRef(append([]byte(nil), ref.Value...))
		default:
			return parseErr("unexpected tag %02X in REF-DO", ref.Tag)
		}
	}
	return nil
}

func parseAr(buf []byte) (*access.ChannelAccess, error) {
	parts, err := bertlv.ReadAll(buf)
	if err != nil {
		return nil, parseErr("AR-DO: %v", err)
	}

	// A rule's existence grants the channel unless the APDU DO says
	// never.
	ca := &access.ChannelAccess{
		Access:     access.PolicyAllowed,
		APDUAccess: access.PolicyAllowed,
	}

	var seenAPDU, seenNFC bool
	for _, p := range parts {
		switch p.Tag {
		case tagAPDUAr:
			if seenAPDU {
				return nil, parseErr("duplicate APDU-AR-DO")
			}
			seenAPDU = true
			if err := parseAPDUAr(p.Value, ca); err != nil {
				return nil, err
			}
		case tagNFCAr:
			if seenNFC {
				return nil, parseErr("duplicate NFC-AR-DO")
			}
			seenNFC = true
			switch {
			case len(p.Value) != 1:
				return nil, parseErr("NFC-AR-DO must be one byte")
			case p.Value[0] == 0x01:
				ca.NFCEventAccess = access.PolicyAllowed
			case p.Value[0] == 0x00:
				ca.NFCEventAccess = access.PolicyDenied
			default:
				return nil, parseErr("NFC-AR-DO value %02X", p.Value[0])
			}
		default:
			return nil, parseErr("unexpected tag %02X in AR-DO", p.Tag)
		}
	}
	return ca, nil
}

func parseAPDUAr(v []byte, ca *access.ChannelAccess) error {
	switch {
	case len(v) == 1 && v[0] == 0x01:
		// Always: the blanket allow stands.
		return nil

	case len(v) == 1 && v[0] == 0x00:
		// Never: the rule denies the applet outright.
		ca.Access = access.PolicyDenied
		ca.APDUAccess = access.PolicyDenied
		ca.Reason = "APDU access denied by rule"
		return nil

	case len(v) > 0 && len(v)%filterEntrySize == 0:
		// Filter list: only matching headers are allowed.
		ca.APDUAccess = access.PolicyDenied
		for off := 0; off < len(v); off += filterEntrySize {
			var e access.FilterEntry
			copy(e.Filter.Header[:], v[off:off+apdu.HeaderSize])
			copy(e.Filter.Mask[:], v[off+apdu.HeaderSize:off+filterEntrySize])
			e.Allow = true
			ca.Filters = append(ca.Filters, e)
		}
		return nil

	default:
		return parseErr("APDU-AR-DO length %d", len(v))
	}
}

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}
