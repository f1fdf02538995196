package identity

import (
	"bytes"
	"errors"
	"testing"
)

func TestCertificateHashes(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x0A}
	hashes := CertificateHashes(der)
	if len(hashes) != 2 {
		t.Fatalf("len = %d, want 2", len(hashes))
	}
	if len(hashes[0]) != 20 {
		t.Errorf("first digest length = %d, want 20 (SHA-1)", len(hashes[0]))
	}
	if len(hashes[1]) != 32 {
		t.Errorf("second digest length = %d, want 32 (SHA-256)", len(hashes[1]))
	}
	// Deterministic.
	again := CertificateHashes(der)
	if !bytes.Equal(hashes[0], again[0]) || !bytes.Equal(hashes[1], again[1]) {
		t.Error("digests should be deterministic")
	}
}

func TestStaticResolver(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAB}, 20)
	r := StaticResolver{"com.example.wallet": {hash}}

	t.Run("known package", func(t *testing.T) {
		got, err := r.CertificateHashes("com.example.wallet")
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if len(got) != 1 || !bytes.Equal(got[0], hash) {
			t.Errorf("hashes = %v", got)
		}
		// Returned slices are copies.
		got[0][0] = 0x00
		if hash[0] != 0xAB {
			t.Error("resolver must hand out copies")
		}
	})

	t.Run("unknown package", func(t *testing.T) {
		if _, err := r.CertificateHashes("com.example.other"); !errors.Is(err, ErrUnknownPackage) {
			t.Errorf("error = %v, want ErrUnknownPackage", err)
		}
	})
}
