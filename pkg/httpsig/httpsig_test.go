package httpsig

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type staticResolver struct {
	key *RemoteKey
	err error
}

func (s *staticResolver) ResolveKey(ctx context.Context, keyID string) (*RemoteKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func signedRequest(t *testing.T, key crypto.Signer, keyID string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://remote.example/users/alice/inbox", bytes.NewReader(body))
	req.Header.Set("Digest", Digest(body))
	if err := Sign(req, key, keyID); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return req
}

func TestSignVerifyRSA(t *testing.T) {
	key := newRSAKey(t)
	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, key, "https://local.example/users/bob#main-key", body)

	if req.Header.Get("Date") == "" {
		t.Error("Sign did not set a Date header")
	}
	sigHeader := req.Header.Get("Signature")
	if !strings.Contains(sigHeader, `algorithm="rsa-sha256"`) {
		t.Errorf("Signature header = %q, want rsa-sha256 algorithm", sigHeader)
	}
	if !strings.Contains(sigHeader, "digest") {
		t.Errorf("Signature header = %q, want digest in covered headers", sigHeader)
	}

	resolver := &staticResolver{key: &RemoteKey{
		ID:    "https://local.example/users/bob#main-key",
		Owner: "https://local.example/users/bob",
		Key:   &key.PublicKey,
	}}
	verified, err := Verify(context.Background(), req, body, resolver)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.KeyOwner != "https://local.example/users/bob" {
		t.Errorf("KeyOwner = %q, want bob", verified.KeyOwner)
	}
}

func TestSignVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ed25519 key: %v", err)
	}
	body := []byte(`{"type":"Create"}`)
	req := signedRequest(t, priv, "https://local.example/users/carol#main-key", body)

	if !strings.Contains(req.Header.Get("Signature"), `algorithm="hs2019"`) {
		t.Errorf("Signature header = %q, want hs2019", req.Header.Get("Signature"))
	}

	resolver := &staticResolver{key: &RemoteKey{ID: "k", Owner: "o", Key: pub}}
	if _, err := Verify(context.Background(), req, body, resolver); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	key := newRSAKey(t)
	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, key, "key", body)

	resolver := &staticResolver{key: &RemoteKey{Key: &key.PublicKey}}
	_, err := Verify(context.Background(), req, []byte(`{"type":"Delete"}`), resolver)
	if err == nil {
		t.Fatal("Verify accepted a tampered body")
	}
	var sigErr *SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Errorf("error = %T, want *SignatureVerificationError", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key := newRSAKey(t)
	other := newRSAKey(t)
	body := []byte(`{}`)
	req := signedRequest(t, key, "key", body)

	resolver := &staticResolver{key: &RemoteKey{Key: &other.PublicKey}}
	if _, err := Verify(context.Background(), req, body, resolver); err == nil {
		t.Fatal("Verify accepted a signature made with a different key")
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://remote.example/inbox", nil)
	if _, err := Verify(context.Background(), req, nil, &staticResolver{}); err == nil {
		t.Fatal("Verify accepted a request with no Signature header")
	}
}

func TestVerifyRejectsSignatureWithoutRequestTarget(t *testing.T) {
	key := newRSAKey(t)
	req := httptest.NewRequest(http.MethodPost, "https://remote.example/inbox", nil)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	// A signature covering only Date binds neither path nor body and could
	// be replayed against any endpoint.
	base, err := signingString(req, []string{"date"})
	if err != nil {
		t.Fatalf("signingString failed: %v", err)
	}
	sig, err := signBase(key, []byte(base))
	if err != nil {
		t.Fatalf("signBase failed: %v", err)
	}
	req.Header.Set("Signature", fmt.Sprintf(
		`keyId="key",algorithm="rsa-sha256",headers="date",signature=%q`,
		base64.StdEncoding.EncodeToString(sig)))

	resolver := &staticResolver{key: &RemoteKey{Key: &key.PublicKey}}
	_, err = Verify(context.Background(), req, nil, resolver)
	if err == nil {
		t.Fatal("Verify accepted a signature that does not cover (request-target)")
	}
	var sigErr *SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Errorf("error = %T, want *SignatureVerificationError", err)
	}
}

func TestVerifyRejectsUncoveredBody(t *testing.T) {
	key := newRSAKey(t)
	body := []byte(`{"type":"Follow"}`)
	// Signed without a Digest header, so the signature covers only
	// (request-target), host and date.
	req := httptest.NewRequest(http.MethodPost, "https://remote.example/inbox", bytes.NewReader(body))
	if err := Sign(req, key, "key"); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	resolver := &staticResolver{key: &RemoteKey{Key: &key.PublicKey}}
	if _, err := Verify(context.Background(), req, body, resolver); err == nil {
		t.Fatal("Verify accepted a bodied request whose signature does not cover the digest")
	}
}

func TestVerifyRejectsStaleDate(t *testing.T) {
	key := newRSAKey(t)
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "https://remote.example/inbox", bytes.NewReader(body))
	req.Header.Set("Digest", Digest(body))
	req.Header.Set("Date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	if err := Sign(req, key, "key"); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	resolver := &staticResolver{key: &RemoteKey{Key: &key.PublicKey}}
	if _, err := Verify(context.Background(), req, body, resolver); err == nil {
		t.Fatal("Verify accepted a request dated an hour ago")
	}
}

func TestParseSignatureHeader(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantKeyID string
		wantError bool
	}{
		{
			name:      "full header",
			header:    `keyId="https://a.example/u/x#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="c2ln"`,
			wantKeyID: "https://a.example/u/x#main-key",
		},
		{
			name:      "spaces between parameters",
			header:    `keyId="k", algorithm="hs2019", signature="c2ln"`,
			wantKeyID: "k",
		},
		{
			name:      "unquoted value",
			header:    `keyId=k,signature="c2ln"`,
			wantError: true,
		},
		{
			name:      "unterminated value",
			header:    `keyId="k`,
			wantError: true,
		},
		{
			name:      "empty",
			header:    "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := parseSignatureHeader(tt.header)
			if tt.wantError {
				if err == nil {
					t.Fatalf("parseSignatureHeader(%q) succeeded, want error", tt.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSignatureHeader(%q) failed: %v", tt.header, err)
			}
			if tt.wantKeyID != "" && params["keyId"] != tt.wantKeyID {
				t.Errorf("keyId = %q, want %q", params["keyId"], tt.wantKeyID)
			}
		})
	}
}

func TestDigestRoundTrip(t *testing.T) {
	body := []byte("hello federation")
	header := Digest(body)
	if !strings.HasPrefix(header, "SHA-256=") {
		t.Fatalf("Digest = %q, want SHA-256 prefix", header)
	}
	if err := VerifyDigest(header, body); err != nil {
		t.Errorf("VerifyDigest rejected its own digest: %v", err)
	}
	if err := VerifyDigest(header, []byte("other")); err == nil {
		t.Error("VerifyDigest accepted a different body")
	}
}

func TestKeyPEMRoundTrip(t *testing.T) {
	key := newRSAKey(t)
	pemBytes, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey failed: %v", err)
	}
	parsed, err := ParsePublicKey(pemBytes)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if !key.PublicKey.Equal(parsed.(*rsa.PublicKey)) {
		t.Error("round-tripped public key differs")
	}
}

type countingLoader struct {
	calls int
	docs  map[string]map[string]any
}

func (l *countingLoader) Load(ctx context.Context, url string) (map[string]any, error) {
	l.calls++
	doc, ok := l.docs[url]
	if !ok {
		return nil, fmt.Errorf("no document at %s", url)
	}
	return doc, nil
}

func TestRemoteKeyResolverCaches(t *testing.T) {
	key := newRSAKey(t)
	pemBytes, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey failed: %v", err)
	}
	keyID := "https://remote.example/users/dan#main-key"
	loader := &countingLoader{docs: map[string]map[string]any{
		keyID: {
			"id":           keyID,
			"owner":        "https://remote.example/users/dan",
			"publicKeyPem": string(pemBytes),
		},
	}}

	resolver := NewRemoteKeyResolver(loader, 16, time.Minute, zap.NewNop())
	for i := 0; i < 3; i++ {
		got, err := resolver.ResolveKey(context.Background(), keyID)
		if err != nil {
			t.Fatalf("ResolveKey failed: %v", err)
		}
		if got.Owner != "https://remote.example/users/dan" {
			t.Errorf("Owner = %q, want dan", got.Owner)
		}
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1 (cached)", loader.calls)
	}
}

func TestRemoteKeyResolverActorDocument(t *testing.T) {
	key := newRSAKey(t)
	pemBytes, _ := EncodePublicKey(&key.PublicKey)
	keyID := "https://remote.example/users/erin#main-key"
	loader := &countingLoader{docs: map[string]map[string]any{
		keyID: {
			"id": "https://remote.example/users/erin",
			"publicKey": []any{
				map[string]any{
					"id":           keyID,
					"publicKeyPem": string(pemBytes),
				},
			},
		},
	}}

	resolver := NewRemoteKeyResolver(loader, 0, 0, nil)
	got, err := resolver.ResolveKey(context.Background(), keyID)
	if err != nil {
		t.Fatalf("ResolveKey failed: %v", err)
	}
	if got.Owner != "https://remote.example/users/erin" {
		t.Errorf("Owner = %q, want the enclosing actor id", got.Owner)
	}
}
