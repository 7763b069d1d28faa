// Package httpsig implements draft-cavage HTTP Signatures as used for
// server-to-server ActivityPub delivery: signing outgoing requests, parsing
// and verifying the Signature header on incoming ones, and resolving remote
// signing keys through a document loader with a bounded cache.
package httpsig

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyPair is an actor's signing material. Public is the verification key
// published in the actor document under KeyID; Private signs outgoing
// requests.
type KeyPair struct {
	KeyID   string
	Private crypto.Signer
	Public  crypto.PublicKey
}

// ParsePrivateKey decodes a PEM-encoded private key. PKCS#8, PKCS#1 and
// ed25519 keys are accepted.
func ParsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse private key")
}

// ParsePublicKey decodes a PEM-encoded public key in PKIX or PKCS#1 form.
func ParsePublicKey(pemBytes []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse public key")
}

// EncodePublicKey encodes a public key as PKIX PEM, the form embedded in
// actor documents as publicKeyPem.
func EncodePublicKey(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// algorithmFor picks the wire algorithm name for a signing key.
func algorithmFor(key crypto.Signer) (string, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return "rsa-sha256", nil
	case ed25519.PublicKey:
		return "hs2019", nil
	default:
		return "", fmt.Errorf("unsupported signing key type %T", key.Public())
	}
}
