// Package canonicalize produces the RFC 8785 (JSON Canonicalization Scheme)
// byte form of vote payloads, so that signer and verifier always hash
// byte-identical content regardless of field ordering in transport encoding.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// VotePayload is the canonical signing payload for one attestation. The
// timestamp is unix seconds: integers survive canonicalization exactly,
// unlike floating-point time encodings.
type VotePayload struct {
	ProofID   string `json:"proof_id"`
	OracleID  string `json:"oracle_id"`
	Decision  bool   `json:"decision"`
	Timestamp int64  `json:"timestamp"`
}

// Bytes returns the RFC 8785 canonical JSON encoding of the payload. This is
// the exact byte sequence oracles sign.
func (p VotePayload) Bytes() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return canonical, nil
}

// JCS canonicalizes an arbitrary JSON document.
func JCS(raw []byte) ([]byte, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the sha256: digest of the canonical JSON form of v.
func CanonicalHash(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("jcs transform failed: %w", err)
	}
	return HashBytes(canonical), nil
}

// HashBytes computes the SHA-256 digest of raw bytes as a sha256: prefixed
// hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
