package fed

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fedwire/pkg/activity"
)

const activityJSONType = "application/activity+json"

// WebFingerResponder answers /.well-known/webfinger queries. It receives
// the actor dispatcher so it can resolve handles through the same source of
// truth as the actor endpoint.
type WebFingerResponder interface {
	RespondWebFinger(ctx *Context, w http.ResponseWriter, r *http.Request, dispatch ActorDispatcher, onNotFound http.HandlerFunc)
}

// ActorRenderer serializes an actor with content negotiation between the
// ActivityStreams document and any human-facing representation.
type ActorRenderer interface {
	RenderActor(ctx *Context, w http.ResponseWriter, r *http.Request, actor activity.Actor, onNotAcceptable http.HandlerFunc)
}

// HandleOptions parameterizes one dispatch call.
type HandleOptions struct {
	// ContextData is the opaque application value exposed through
	// Context.Data.
	ContextData any

	// OnNotFound produces the response for unroutable requests. The
	// callback controls status and body; its result is returned as-is.
	OnNotFound http.HandlerFunc

	// OnNotAcceptable produces the response when no representation
	// satisfies the request's Accept header.
	OnNotAcceptable http.HandlerFunc
}

// Handler is the serving side of a frozen Federation. It owns no
// registration API; it resolves inbound requests against the route table
// and delegates to the registered callbacks.
type Handler struct {
	f *Federation
}

// ServeHTTP dispatches with default 404/406 fallbacks.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Handle(w, r, HandleOptions{})
}

// Handle resolves the request path and delegates to the sub-handler for the
// matched route role. Sub-handler failures are always reported through the
// response, never re-thrown.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, opts HandleOptions) {
	f := h.f
	notFound := opts.OnNotFound
	if notFound == nil {
		notFound = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
	notAcceptable := opts.OnNotAcceptable
	if notAcceptable == nil {
		notAcceptable = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not acceptable", http.StatusNotAcceptable)
		}
	}

	// Route on the escaped form: the router percent-decodes each variable
	// exactly once, and r.URL.Path has already been decoded by net/http.
	m, ok := f.router.Route(r.URL.EscapedPath())
	if !ok {
		notFound(w, r)
		return
	}

	ctx := newContext(f, r, opts.ContextData)
	logger := f.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("role", m.Role),
		zap.String("path", r.URL.Path))

	switch m.Role {
	case roleWebFinger:
		if f.webFinger == nil || f.actorDispatcher == nil {
			notFound(w, r)
			return
		}
		f.webFinger.RespondWebFinger(ctx, w, r, f.actorDispatcher, notFound)

	case roleActor:
		h.serveActor(ctx, w, r, m.Values["handle"], logger, notFound, notAcceptable)

	case roleOutbox:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		h.serveOutbox(ctx, w, r, m.Values["handle"], logger, notFound)

	case roleFollowers:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		h.serveFollowers(ctx, w, r, m.Values["handle"], logger, notFound)

	case roleFollowing:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		h.serveFollowing(ctx, w, r, m.Values["handle"], logger, notFound)

	case roleInbox:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		h.f.processInbox(ctx, w, r, m.Values["handle"], false, logger)

	case roleSharedInbox:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		h.f.processInbox(ctx, w, r, "", true, logger)

	default:
		notFound(w, r)
	}
}

func (h *Handler) serveActor(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, logger *zap.Logger, notFound, notAcceptable http.HandlerFunc) {
	f := h.f
	if f.actorDispatcher == nil {
		notFound(w, r)
		return
	}
	actor, err := f.actorDispatcher(ctx, handle)
	if err != nil {
		logger.Error("actor dispatcher failed", zap.String("handle", handle), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if actor == nil {
		notFound(w, r)
		return
	}
	if f.actorRenderer != nil {
		f.actorRenderer.RenderActor(ctx, w, r, actor, notAcceptable)
		return
	}
	if !acceptsActivityJSON(r) {
		notAcceptable(w, r)
		return
	}
	doc, err := actor.MarshalJSONLD()
	if err != nil {
		logger.Error("actor serialization failed", zap.String("handle", handle), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", activityJSONType)
	w.Write(doc)
}

func (h *Handler) serveOutbox(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, logger *zap.Logger, notFound http.HandlerFunc) {
	f := h.f
	if f.outbox.dispatcher == nil {
		notFound(w, r)
		return
	}
	dispatch := func(cursor *string) ([]json.RawMessage, *string, bool, error) {
		page, err := f.outbox.dispatcher(ctx, handle, cursor)
		if err != nil || page == nil {
			return nil, nil, false, err
		}
		items := make([]json.RawMessage, 0, len(page.Items))
		for _, a := range page.Items {
			doc, err := a.MarshalJSONLD()
			if err != nil {
				return nil, nil, false, err
			}
			items = append(items, doc)
		}
		return items, page.NextCursor, true, nil
	}
	uri := func() (string, error) { return ctx.OutboxURI(handle) }
	h.serveCollection(ctx, w, r, handle, logger, notFound, collectionCallbacks{
		uri:         uri,
		dispatch:    dispatch,
		counter:     f.outbox.counter,
		firstCursor: f.outbox.firstCursor,
		lastCursor:  f.outbox.lastCursor,
	})
}

func (h *Handler) serveFollowers(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, logger *zap.Logger, notFound http.HandlerFunc) {
	f := h.f
	if f.followers.dispatcher == nil {
		notFound(w, r)
		return
	}
	dispatch := func(cursor *string) ([]json.RawMessage, *string, bool, error) {
		page, err := f.followers.dispatcher(ctx, handle, cursor)
		if err != nil || page == nil {
			return nil, nil, false, err
		}
		return iriItems(recipientIDs(page.Items)), page.NextCursor, true, nil
	}
	uri := func() (string, error) { return ctx.FollowersURI(handle) }
	h.serveCollection(ctx, w, r, handle, logger, notFound, collectionCallbacks{
		uri:         uri,
		dispatch:    dispatch,
		counter:     f.followers.counter,
		firstCursor: f.followers.firstCursor,
	})
}

func (h *Handler) serveFollowing(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, logger *zap.Logger, notFound http.HandlerFunc) {
	f := h.f
	if f.followingDispatcher == nil {
		notFound(w, r)
		return
	}
	dispatch := func(cursor *string) ([]json.RawMessage, *string, bool, error) {
		page, err := f.followingDispatcher(ctx, handle, cursor)
		if err != nil || page == nil {
			return nil, nil, false, err
		}
		return iriItems(page.Items), page.NextCursor, true, nil
	}
	uri := func() (string, error) { return ctx.FollowingURI(handle) }
	h.serveCollection(ctx, w, r, handle, logger, notFound, collectionCallbacks{
		uri:      uri,
		dispatch: dispatch,
	})
}

// collectionCallbacks bundles one collection role's callbacks for the
// shared rendering path.
type collectionCallbacks struct {
	uri         func() (string, error)
	dispatch    func(cursor *string) ([]json.RawMessage, *string, bool, error)
	counter     CollectionCounter
	firstCursor CursorProvider
	lastCursor  CursorProvider
}

// serveCollection renders an OrderedCollection or, when the request carries
// a cursor query parameter, an OrderedCollectionPage.
func (h *Handler) serveCollection(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, logger *zap.Logger, notFound http.HandlerFunc, cb collectionCallbacks) {
	collectionURI, err := cb.uri()
	if err != nil {
		logger.Error("collection URI construction failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	fail := func(msg string, err error) {
		logger.Error(msg, zap.String("handle", handle), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	doc := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
	}

	if values := r.URL.Query(); values.Has("cursor") {
		cursor := values.Get("cursor")
		items, next, found, err := cb.dispatch(&cursor)
		if err != nil {
			fail("collection dispatcher failed", err)
			return
		}
		if !found {
			notFound(w, r)
			return
		}
		doc["type"] = "OrderedCollectionPage"
		doc["id"] = pageURI(collectionURI, cursor)
		doc["partOf"] = collectionURI
		doc["orderedItems"] = items
		if next != nil {
			doc["next"] = pageURI(collectionURI, *next)
		}
		writeActivityJSON(w, doc)
		return
	}

	doc["type"] = "OrderedCollection"
	doc["id"] = collectionURI

	if cb.counter != nil {
		total, err := cb.counter(ctx, handle)
		if err != nil {
			fail("collection counter failed", err)
			return
		}
		if total != nil {
			doc["totalItems"] = *total
		}
	}

	if cb.firstCursor != nil {
		first, err := cb.firstCursor(ctx, handle)
		if err != nil {
			fail("first cursor callback failed", err)
			return
		}
		if first == nil {
			notFound(w, r)
			return
		}
		doc["first"] = pageURI(collectionURI, *first)
		if cb.lastCursor != nil {
			last, err := cb.lastCursor(ctx, handle)
			if err != nil {
				fail("last cursor callback failed", err)
				return
			}
			if last != nil {
				doc["last"] = pageURI(collectionURI, *last)
			}
		}
		writeActivityJSON(w, doc)
		return
	}

	// No pagination advertised: the dispatcher returns the whole
	// collection for the "no cursor" sentinel.
	items, _, found, err := cb.dispatch(nil)
	if err != nil {
		fail("collection dispatcher failed", err)
		return
	}
	if !found {
		notFound(w, r)
		return
	}
	doc["orderedItems"] = items
	writeActivityJSON(w, doc)
}

func pageURI(collectionURI, cursor string) string {
	sep := "?"
	if strings.Contains(collectionURI, "?") {
		sep = "&"
	}
	return collectionURI + sep + "cursor=" + url.QueryEscape(cursor)
}

func writeActivityJSON(w http.ResponseWriter, doc map[string]any) {
	w.Header().Set("Content-Type", activityJSONType)
	json.NewEncoder(w).Encode(doc)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// acceptsActivityJSON reports whether the Accept header admits an
// ActivityStreams JSON representation.
func acceptsActivityJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch mediaType {
		case activityJSONType, "application/ld+json", "application/json", "*/*", "application/*":
			return true
		}
	}
	return false
}

func recipientIDs(recipients []activity.Recipient) []string {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID())
	}
	return ids
}

func iriItems(iris []string) []json.RawMessage {
	items := make([]json.RawMessage, 0, len(iris))
	for _, iri := range iris {
		doc, _ := json.Marshal(iri)
		items = append(items, doc)
	}
	return items
}
