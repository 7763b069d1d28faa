package fed

import (
	"fmt"
	"net/http"
	"strings"

	"fedwire/pkg/activity"
	"fedwire/pkg/httpsig"
)

// Context is the request-scoped view handed to dispatchers, listeners and
// collaborators. It is immutable: everything it exposes is derived from the
// frozen registry and the inbound request.
type Context struct {
	fed     *Federation
	request *http.Request
	data    any
	origin  string // scheme://host
}

func newContext(f *Federation, r *http.Request, data any) *Context {
	scheme := "http"
	if r.TLS != nil || f.treatHTTPS {
		scheme = "https"
	}
	return &Context{
		fed:     f,
		request: r,
		data:    data,
		origin:  scheme + "://" + r.Host,
	}
}

// Request returns the inbound HTTP request this context was built for.
func (c *Context) Request() *http.Request { return c.request }

// Data returns the opaque application value passed through HandleOptions.
func (c *Context) Data() any { return c.data }

// Loader returns the document loader for JSON-LD dereferencing.
func (c *Context) Loader() activity.DocumentLoader { return c.fed.loader }

// Origin returns the scheme://host prefix of this request, normalized to
// https when the engine is configured behind a TLS-terminating proxy.
func (c *Context) Origin() string { return c.origin }

// ActorURI returns the actor URI for a local handle.
func (c *Context) ActorURI(handle string) (string, error) {
	return c.build(roleActor, handle)
}

// InboxURI returns the personal inbox URI for a local handle.
func (c *Context) InboxURI(handle string) (string, error) {
	return c.build(roleInbox, handle)
}

// SharedInboxURI returns the server-wide shared inbox URI.
func (c *Context) SharedInboxURI() (string, error) {
	path, err := c.fed.router.Build(roleSharedInbox, nil)
	if err != nil {
		return "", err
	}
	return c.origin + path, nil
}

// OutboxURI returns the outbox URI for a local handle.
func (c *Context) OutboxURI(handle string) (string, error) {
	return c.build(roleOutbox, handle)
}

// FollowersURI returns the followers collection URI for a local handle.
func (c *Context) FollowersURI(handle string) (string, error) {
	return c.build(roleFollowers, handle)
}

// FollowingURI returns the following collection URI for a local handle.
func (c *Context) FollowingURI(handle string) (string, error) {
	return c.build(roleFollowing, handle)
}

// KeyPair returns the signing key pair of a local actor through the
// registered key pair dispatcher. Listeners and outbox callbacks use it to
// sign outbound deliveries with SendActivity.
func (c *Context) KeyPair(handle string) (*httpsig.KeyPair, error) {
	if c.fed.keyPairDispatcher == nil {
		return nil, fmt.Errorf("fed: no key pair dispatcher is registered")
	}
	return c.fed.keyPairDispatcher(c, handle)
}

// ActorURIFromAcct resolves a WebFinger resource (acct:user@domain) to the
// local actor URI. It is meant for WebFinger responder implementations: the
// handle's domain must match the request host.
func (c *Context) ActorURIFromAcct(resource string) (string, error) {
	h, err := ParseHandle(resource)
	if err != nil {
		return "", err
	}
	host := c.request.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !h.IsLocal(host) {
		return "", fmt.Errorf("handle %s does not belong to %s", h, host)
	}
	return c.ActorURI(h.User)
}

func (c *Context) build(role, handle string) (string, error) {
	path, err := c.fed.router.Build(role, map[string]string{"handle": handle})
	if err != nil {
		return "", err
	}
	return c.origin + path, nil
}
