package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints.
// The version suffix allows a future change of algorithm.
const (
	DomainData = "edgesync/data/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content hash of a payload. Two payloads with
// the same fingerprint are equal after canonicalization, whatever the
// key order or Unicode normalization form they arrived in.
func Fingerprint(obj Object) (string, error) {
	if obj == nil {
		obj = Object{}
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainData, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(obj Object) string {
	fp, err := Fingerprint(obj)
	if err != nil {
		panic(err)
	}
	return fp
}
