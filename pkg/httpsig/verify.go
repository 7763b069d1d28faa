package httpsig

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxClockSkew bounds how far an inbound Date header may drift from local
// time before the signature is rejected.
const maxClockSkew = 5 * time.Minute

// SignatureVerificationError reports a missing, malformed or invalid
// request signature.
type SignatureVerificationError struct {
	Reason string
	Err    error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature verification failed: %s: %v", e.Reason, e.Err)
	}
	return "signature verification failed: " + e.Reason
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// RemoteKey is a verification key fetched from a remote server, together
// with the actor that owns it.
type RemoteKey struct {
	ID    string
	Owner string
	Key   crypto.PublicKey
}

// KeyResolver turns a key id from a Signature header into a verification
// key. Implementations are expected to cache.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (*RemoteKey, error)
}

// VerifiedSignature describes a successfully verified request signature.
type VerifiedSignature struct {
	KeyID     string
	KeyOwner  string
	Algorithm string
}

// Verify checks the Signature header of an inbound request against body.
// The declared key id is resolved through resolver; the digest, when
// covered by the signature, is recomputed from body; the Date header, when
// covered, must be within the allowed clock skew.
func Verify(ctx context.Context, req *http.Request, body []byte, resolver KeyResolver) (*VerifiedSignature, error) {
	header := req.Header.Get("Signature")
	if header == "" {
		return nil, &SignatureVerificationError{Reason: "missing Signature header"}
	}
	params, err := parseSignatureHeader(header)
	if err != nil {
		return nil, &SignatureVerificationError{Reason: "malformed Signature header", Err: err}
	}
	keyID := params["keyId"]
	if keyID == "" {
		return nil, &SignatureVerificationError{Reason: "Signature header has no keyId"}
	}
	rawSignature, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil || len(rawSignature) == 0 {
		return nil, &SignatureVerificationError{Reason: "signature is not valid base64", Err: err}
	}

	headers := strings.Fields(strings.ToLower(params["headers"]))
	if len(headers) == 0 {
		headers = []string{"date"}
	}

	// A signature that does not bind the request target or the body could
	// be replayed against any path or payload within the clock skew window.
	if !containsHeader(headers, requestTarget) {
		return nil, &SignatureVerificationError{Reason: "signature does not cover (request-target)"}
	}
	if len(body) > 0 && !containsHeader(headers, "digest") {
		return nil, &SignatureVerificationError{Reason: "signature does not cover the body digest"}
	}

	if containsHeader(headers, "date") {
		if err := checkDate(req.Header.Get("Date")); err != nil {
			return nil, &SignatureVerificationError{Reason: "stale or invalid Date header", Err: err}
		}
	}
	if containsHeader(headers, "digest") {
		if err := VerifyDigest(req.Header.Get("Digest"), body); err != nil {
			return nil, &SignatureVerificationError{Reason: "body digest check failed", Err: err}
		}
	}

	base, err := signingString(req, headers)
	if err != nil {
		return nil, &SignatureVerificationError{Reason: "cannot reconstruct signing string", Err: err}
	}

	key, err := resolver.ResolveKey(ctx, keyID)
	if err != nil {
		return nil, &SignatureVerificationError{Reason: fmt.Sprintf("cannot resolve key %q", keyID), Err: err}
	}

	algorithm := params["algorithm"]
	if err := verifyBase(key.Key, []byte(base), rawSignature); err != nil {
		return nil, &SignatureVerificationError{Reason: "signature does not match", Err: err}
	}
	return &VerifiedSignature{KeyID: key.ID, KeyOwner: key.Owner, Algorithm: algorithm}, nil
}

// parseSignatureHeader splits the comma-separated key="value" parameter
// list of a Signature header.
func parseSignatureHeader(header string) (map[string]string, error) {
	params := make(map[string]string)
	rest := strings.TrimSpace(header)
	for rest != "" {
		name, after, found := strings.Cut(rest, "=")
		if !found {
			return nil, fmt.Errorf("parameter %q has no value", rest)
		}
		name = strings.TrimSpace(name)
		if !strings.HasPrefix(after, `"`) {
			return nil, fmt.Errorf("parameter %q is not quoted", name)
		}
		end := strings.Index(after[1:], `"`)
		if end < 0 {
			return nil, fmt.Errorf("parameter %q has an unterminated value", name)
		}
		params[name] = after[1 : 1+end]
		rest = strings.TrimPrefix(strings.TrimSpace(after[2+end:]), ",")
		rest = strings.TrimSpace(rest)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters")
	}
	return params, nil
}

func checkDate(value string) error {
	if value == "" {
		return fmt.Errorf("missing Date header")
	}
	sent, err := http.ParseTime(value)
	if err != nil {
		return fmt.Errorf("unparseable Date header: %w", err)
	}
	drift := time.Since(sent)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxClockSkew {
		return fmt.Errorf("request dated %s is outside the allowed clock skew", value)
	}
	return nil
}

func containsHeader(headers []string, name string) bool {
	for _, h := range headers {
		if h == name {
			return true
		}
	}
	return false
}

func verifyBase(key crypto.PublicKey, base, signature []byte) error {
	switch pub := key.(type) {
	case *rsa.PublicKey:
		sum := sha256.Sum256(base)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], signature)
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, base, signature) {
			return fmt.Errorf("ed25519 verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported verification key type %T", key)
	}
}
