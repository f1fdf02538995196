package access

import "errors"

var (
	ErrInvalidPolicy  = errors.New("access: policy value out of range")
	ErrInvalidHashRef = errors.New("access: hash ref must be empty, 20 or 32 bytes")
	ErrInvalidAIDRef  = errors.New("access: aid ref must be empty or 5-16 bytes")
)

// SHA-1 and SHA-256 digest lengths accepted for certificate refs.
const (
	HashLenSHA1   = 20
	HashLenSHA256 = 32
)

// AID length bounds from ISO 7816-4.
const (
	MinAIDLen = 5
	MaxAIDLen = 16
)

// ValidateRule checks structural validity of a parsed rule.
func ValidateRule(r *Rule) error {
	if !r.Hash.Wildcard() && len(r.Hash) != HashLenSHA1 && len(r.Hash) != HashLenSHA256 {
		return ErrInvalidHashRef
	}
	if !r.AID.Wildcard() && (len(r.AID) < MinAIDLen || len(r.AID) > MaxAIDLen) {
		return ErrInvalidAIDRef
	}
	for _, p := range []Policy{r.Access.Access, r.Access.APDUAccess, r.Access.NFCEventAccess} {
		if p > PolicyDenied {
			return ErrInvalidPolicy
		}
	}
	return nil
}
