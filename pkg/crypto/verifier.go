// Package crypto verifies oracle attestation signatures. Verification fails
// closed: malformed keys, malformed signatures, and unknown algorithms all
// report false, never panic or propagate into caller logic.
package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/fundproof/core/pkg/contracts"
)

// Verifier checks a detached signature over a message.
type Verifier interface {
	Verify(message []byte, signature []byte) bool
}

// ForOracle builds a Verifier for an oracle's registered key. The key is
// hex-encoded: raw 32 bytes for ed25519, PKIX DER for ECDSA and RSA.
func ForOracle(keyAlg, publicKeyHex string) (Verifier, error) {
	keyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}

	switch keyAlg {
	case contracts.KeyAlgEd25519:
		if len(keyBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ed25519 public key size: %d", len(keyBytes))
		}
		return &Ed25519Verifier{PublicKey: ed25519.PublicKey(keyBytes)}, nil
	case contracts.KeyAlgECDSAP256:
		pub, err := parsePKIX[*ecdsa.PublicKey](keyBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid ecdsa public key: %w", err)
		}
		if pub.Curve != elliptic.P256() {
			return nil, fmt.Errorf("unsupported ecdsa curve: %s", pub.Curve.Params().Name)
		}
		return &ECDSAVerifier{PublicKey: pub}, nil
	case contracts.KeyAlgRSASHA256:
		pub, err := parsePKIX[*rsa.PublicKey](keyBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa public key: %w", err)
		}
		return &RSAVerifier{PublicKey: pub}, nil
	default:
		return nil, fmt.Errorf("unknown key algorithm: %q", keyAlg)
	}
}

// VerifyDetached verifies a hex-encoded signature over message with an
// oracle's registered key. Any construction or decoding failure counts as
// verification failure.
func VerifyDetached(keyAlg, publicKeyHex, signatureHex string, message []byte) bool {
	v, err := ForOracle(keyAlg, publicKeyHex)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return v.Verify(message, sig)
}

func parsePKIX[T any](der []byte) (T, error) {
	var zero T
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return zero, err
	}
	typed, ok := key.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected key type %T", key)
	}
	return typed, nil
}

// Ed25519Verifier implements Verifier over ed25519.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

func (v *Ed25519Verifier) Verify(message []byte, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(v.PublicKey, message, signature)
}

// ECDSAVerifier implements Verifier over ECDSA P-256 with ASN.1 DER
// signatures and SHA-256 digests.
type ECDSAVerifier struct {
	PublicKey *ecdsa.PublicKey
}

func (v *ECDSAVerifier) Verify(message []byte, signature []byte) bool {
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(v.PublicKey, digest[:], signature)
}

// RSAVerifier implements Verifier over RSA PKCS#1 v1.5 with SHA-256.
type RSAVerifier struct {
	PublicKey *rsa.PublicKey
}

func (v *RSAVerifier) Verify(message []byte, signature []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(v.PublicKey, stdcrypto.SHA256, digest[:], signature) == nil
}
