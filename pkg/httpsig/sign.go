package httpsig

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// requestTarget is the pseudo-header covering method and path.
const requestTarget = "(request-target)"

// Sign signs req with key and attaches a Signature header identifying the
// key by keyID. The signature covers (request-target), host and date, plus
// digest when a Digest header is present. A missing Date header is filled
// in first.
func Sign(req *http.Request, key crypto.Signer, keyID string) error {
	if keyID == "" {
		return fmt.Errorf("key id must not be empty")
	}
	algorithm, err := algorithmFor(key)
	if err != nil {
		return err
	}
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	headers := []string{requestTarget, "host", "date"}
	if req.Header.Get("Digest") != "" {
		headers = append(headers, "digest")
	}

	base, err := signingString(req, headers)
	if err != nil {
		return err
	}
	signature, err := signBase(key, []byte(base))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set("Signature", fmt.Sprintf(
		"keyId=%q,algorithm=%q,headers=%q,signature=%q",
		keyID, algorithm, strings.Join(headers, " "),
		base64.StdEncoding.EncodeToString(signature)))
	return nil
}

// signingString builds the canonical base string: one "name: value" line
// per covered header, joined with \n, in the order given.
func signingString(req *http.Request, headers []string) (string, error) {
	lines := make([]string, 0, len(headers))
	for _, name := range headers {
		switch name {
		case requestTarget:
			path := req.URL.RequestURI()
			lines = append(lines, fmt.Sprintf("%s: %s %s", requestTarget, strings.ToLower(req.Method), path))
		case "host":
			host := req.Host
			if host == "" {
				host = req.URL.Host
			}
			if host == "" {
				return "", fmt.Errorf("request has no host for signing")
			}
			lines = append(lines, "host: "+host)
		default:
			value := req.Header.Get(name)
			if value == "" {
				return "", fmt.Errorf("signed header %q is missing from the request", name)
			}
			lines = append(lines, strings.ToLower(name)+": "+value)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func signBase(key crypto.Signer, base []byte) ([]byte, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		sum := sha256.Sum256(base)
		return key.Sign(rand.Reader, sum[:], crypto.SHA256)
	case ed25519.PublicKey:
		return key.Sign(rand.Reader, base, crypto.Hash(0))
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key.Public())
	}
}
