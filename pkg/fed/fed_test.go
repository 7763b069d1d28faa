package fed

// Shared test doubles for the engine's collaborator seams.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fedwire/pkg/activity"
	"fedwire/pkg/httpsig"
)

type testActivity struct {
	id      string
	variant activity.Variant
	actors  []string
}

func (a *testActivity) ID() string                { return a.id }
func (a *testActivity) Variant() activity.Variant { return a.variant }
func (a *testActivity) ActorIDs() []string        { return a.actors }

func (a *testActivity) MarshalJSONLD() ([]byte, error) {
	doc := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       a.id,
		"type":     string(a.variant),
	}
	switch len(a.actors) {
	case 0:
	case 1:
		doc["actor"] = a.actors[0]
	default:
		doc["actor"] = a.actors
	}
	return json.Marshal(doc)
}

type testRecipient struct {
	id     string
	inbox  string
	shared string
}

func (r *testRecipient) ID() string          { return r.id }
func (r *testRecipient) Inbox() string       { return r.inbox }
func (r *testRecipient) SharedInbox() string { return r.shared }

type testActor struct {
	testRecipient
}

func (a *testActor) MarshalJSONLD() ([]byte, error) {
	return json.Marshal(map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       a.id,
		"type":     "Person",
		"inbox":    a.inbox,
	})
}

// mapLoader serves canned JSON-LD documents and counts fetches.
type mapLoader struct {
	docs  map[string]map[string]any
	calls int
}

func (l *mapLoader) Load(ctx context.Context, url string) (map[string]any, error) {
	l.calls++
	doc, ok := l.docs[url]
	if !ok {
		return nil, fmt.Errorf("no document at %s", url)
	}
	return doc, nil
}

// jsonDecoder decodes the minimal id/type/actor activity shape used by the
// tests.
type jsonDecoder struct{}

func (jsonDecoder) Decode(ctx context.Context, body []byte, loader activity.DocumentLoader) (activity.Activity, error) {
	var raw struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Actor any    `json:"actor"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("activity has no type")
	}
	act := &testActivity{id: raw.ID, variant: activity.Variant(raw.Type)}
	switch actor := raw.Actor.(type) {
	case string:
		act.actors = []string{actor}
	case []any:
		for _, a := range actor {
			if s, ok := a.(string); ok {
				act.actors = append(act.actors, s)
			}
		}
	}
	return act, nil
}

// capturingWebFinger records delegation from the dispatch handler.
type capturingWebFinger struct {
	calls int
}

func (c *capturingWebFinger) RespondWebFinger(ctx *Context, w http.ResponseWriter, r *http.Request, dispatch ActorDispatcher, onNotFound http.HandlerFunc) {
	c.calls++
	w.WriteHeader(http.StatusOK)
}

func strptr(s string) *string { return &s }

func int64ptr(n int64) *int64 { return &n }

// newTestHandler freezes f and fails the test on error.
func newTestHandler(t *testing.T, f *Federation) *Handler {
	t.Helper()
	h, err := f.Handler()
	if err != nil {
		t.Fatalf("Handler() failed: %v", err)
	}
	return h
}

// doRequest runs one request through the handler with default options.
func doRequest(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Handle(rec, req, HandleOptions{})
	return rec
}

var _ httpsig.KeyResolver = (*httpsig.RemoteKeyResolver)(nil)
