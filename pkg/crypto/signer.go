package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/fundproof/core/pkg/contracts"
)

// Signer produces detached hex-encoded signatures. Production oracles sign
// out of process and only submit signatures; the in-process signers exist
// for key ceremonies, tooling, and tests.
type Signer interface {
	Sign(message []byte) (string, error)
	PublicKey() string
	KeyAlg() string
}

// Ed25519Signer signs with an in-memory ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *Ed25519Signer) Sign(message []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, message)), nil
}

func (s *Ed25519Signer) PublicKey() string { return hex.EncodeToString(s.pub) }
func (s *Ed25519Signer) KeyAlg() string    { return contracts.KeyAlgEd25519 }

// ECDSASigner signs with an in-memory P-256 key, ASN.1 DER signatures.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
}

func NewECDSASigner() (*ECDSASigner, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &ECDSASigner{priv: priv}, nil
}

func (s *ECDSASigner) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, s.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("ecdsa sign failed: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (s *ECDSASigner) PublicKey() string {
	der, err := x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(der)
}

func (s *ECDSASigner) KeyAlg() string { return contracts.KeyAlgECDSAP256 }

// RSASigner signs with an in-memory RSA key, PKCS#1 v1.5 SHA-256.
type RSASigner struct {
	priv *rsa.PrivateKey
}

func NewRSASigner() (*RSASigner, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &RSASigner{priv: priv}, nil
}

func (s *RSASigner) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign failed: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (s *RSASigner) PublicKey() string {
	der, err := x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(der)
}

func (s *RSASigner) KeyAlg() string { return contracts.KeyAlgRSASHA256 }
