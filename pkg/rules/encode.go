package rules

import (
	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/bertlv"
)

// BuildBlob encodes rules as a Response-ALL-AR-DO blob, the inverse of
// ParseBlob. Used to provision the emulated card and to build test
// vectors.
func BuildBlob(rs []access.Rule) []byte {
	var body []byte
	for _, r := range rs {
		body = bertlv.Append(body, tagRefAr, encodeRefAr(&r))
	}
	return bertlv.Append(nil, tagResponseAll, body)
}

func encodeRefAr(r *access.Rule) []byte {
	var ref []byte
	if !r.AID.Wildcard() {
		ref = bertlv.Append(ref, tagAIDRef, r.AID)
	}
	if !r.Hash.Wildcard() {
		ref = bertlv.Append(ref, tagHashRef, r.Hash)
	}

	var ar []byte
	switch {
	case len(r.Access.Filters) > 0:
		var fb []byte
		for _, e := range r.Access.Filters {
			fb = append(fb, e.Filter.Header[:]...)
			fb = append(fb, e.Filter.Mask[:]...)
		}
		ar = bertlv.Append(ar, tagAPDUAr, fb)
	case r.Access.Access == access.PolicyDenied:
		ar = bertlv.Append(ar, tagAPDUAr, []byte{0x00})
	default:
		ar = bertlv.Append(ar, tagAPDUAr, []byte{0x01})
	}
	switch r.Access.NFCEventAccess {
	case access.PolicyAllowed:
		ar = bertlv.Append(ar, tagNFCAr, []byte{0x01})
	case access.PolicyDenied:
		ar = bertlv.Append(ar, tagNFCAr, []byte{0x00})
	}

	out := bertlv.Append(nil, tagRef, ref)
	return bertlv.Append(out, tagAr, ar)
}
