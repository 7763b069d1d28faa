package httpsig

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Digest computes the SHA-256 Digest header value for a request body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDigest checks a Digest header value against the actual body. Only
// SHA-256 digests are accepted.
func VerifyDigest(header string, body []byte) error {
	algo, value, found := strings.Cut(header, "=")
	if !found {
		return fmt.Errorf("malformed Digest header")
	}
	if !strings.EqualFold(algo, "SHA-256") {
		return fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	want := Digest(body)
	got := "SHA-256=" + value
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}
