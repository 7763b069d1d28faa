package httpsig

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"fedwire/pkg/activity"
)

const (
	defaultKeyCacheSize = 256
	defaultKeyCacheTTL  = 10 * time.Minute
)

// RemoteKeyResolver fetches verification keys through a document loader and
// caches them with a TTL, so repeated deliveries from the same remote actor
// do not refetch the key document.
type RemoteKeyResolver struct {
	loader activity.DocumentLoader
	cache  *expirable.LRU[string, *RemoteKey]
	logger *zap.Logger
}

// NewRemoteKeyResolver creates a resolver over loader. size and ttl bound
// the key cache; zero values select the defaults.
func NewRemoteKeyResolver(loader activity.DocumentLoader, size int, ttl time.Duration, logger *zap.Logger) *RemoteKeyResolver {
	if size <= 0 {
		size = defaultKeyCacheSize
	}
	if ttl <= 0 {
		ttl = defaultKeyCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteKeyResolver{
		loader: loader,
		cache:  expirable.NewLRU[string, *RemoteKey](size, nil, ttl),
		logger: logger,
	}
}

// ResolveKey returns the verification key identified by keyID, from cache
// when fresh.
func (r *RemoteKeyResolver) ResolveKey(ctx context.Context, keyID string) (*RemoteKey, error) {
	if key, ok := r.cache.Get(keyID); ok {
		return key, nil
	}

	doc, err := r.loader.Load(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key document %q: %w", keyID, err)
	}
	key, err := keyFromDocument(doc, keyID)
	if err != nil {
		return nil, err
	}

	r.cache.Add(keyID, key)
	r.logger.Debug("resolved remote key",
		zap.String("key_id", key.ID),
		zap.String("owner", key.Owner))
	return key, nil
}

// keyFromDocument extracts a public key from a fetched JSON-LD document.
// The document is either a bare key document (id/owner/publicKeyPem) or an
// actor document carrying one or more keys under publicKey.
func keyFromDocument(doc map[string]any, keyID string) (*RemoteKey, error) {
	if pemText, ok := doc["publicKeyPem"].(string); ok {
		return buildRemoteKey(doc, keyID, pemText)
	}
	for _, entry := range keyEntries(doc["publicKey"]) {
		id, _ := entry["id"].(string)
		if id != keyID {
			continue
		}
		pemText, ok := entry["publicKeyPem"].(string)
		if !ok {
			return nil, fmt.Errorf("key %q has no publicKeyPem", keyID)
		}
		if entry["owner"] == nil {
			// The enclosing actor document owns the key.
			if actorID, ok := doc["id"].(string); ok {
				entry["owner"] = actorID
			}
		}
		return buildRemoteKey(entry, keyID, pemText)
	}
	return nil, fmt.Errorf("document for %q contains no matching public key", keyID)
}

// keyEntries normalizes the publicKey property, which may be a single
// object or a list.
func keyEntries(value any) []map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		entries := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
		return entries
	default:
		return nil
	}
}

func buildRemoteKey(doc map[string]any, keyID, pemText string) (*RemoteKey, error) {
	pub, err := ParsePublicKey([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %q: %w", keyID, err)
	}
	key := &RemoteKey{ID: keyID, Key: pub}
	if id, ok := doc["id"].(string); ok && id != "" {
		key.ID = id
	}
	if owner, ok := doc["owner"].(string); ok {
		key.Owner = owner
	}
	return key, nil
}
