// Package identity maps a calling application's package name to the
// certificate digests the access rules are keyed on. The platform
// integration supplies the real resolver; StaticResolver serves tests
// and single-binary deployments.
package identity

import (
	"crypto/sha1"
	"crypto/sha256"
	"errors"
)

// ErrUnknownPackage is returned when the resolver has no certificates
// for the package name.
var ErrUnknownPackage = errors.New("identity: unknown package")

// Resolver turns a package name into the certificate hashes of the
// signers of that package. A package signed by several certificates
// yields several hashes; a rule matching any one of them applies.
type Resolver interface {
	CertificateHashes(packageName string) ([][]byte, error)
}

// CertificateHashes computes the digests access rules are matched
// against, from raw certificate DER: SHA-1 first (the historical rule
// key), SHA-256 second.
func CertificateHashes(der []byte) [][]byte {
	s1 := sha1.Sum(der)
	s256 := sha256.Sum256(der)
	return [][]byte{s1[:], s256[:]}
}

// StaticResolver is a map-backed Resolver.
type StaticResolver map[string][][]byte

// CertificateHashes implements Resolver.
func (r StaticResolver) CertificateHashes(packageName string) ([][]byte, error) {
	hashes, ok := r[packageName]
	if !ok {
		return nil, ErrUnknownPackage
	}
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = append([]byte(nil), h...)
	}
	return out, nil
}
