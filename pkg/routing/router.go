// Package routing implements the URI-template route table used to map
// federation endpoints (actor, inbox, outbox, ...) onto request paths and
// back. It knows nothing about federation semantics; it only matches and
// expands patterns.
package routing

import (
	"fmt"
	"net/url"
	"strings"
)

// RoutingError reports an invalid pattern, a variable-arity violation or a
// duplicate role registration.
type RoutingError struct {
	Role    string
	Pattern string
	Reason  string
}

func (e *RoutingError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("routing: role %q: %s", e.Role, e.Reason)
	}
	return fmt.Sprintf("routing: role %q pattern %q: %s", e.Role, e.Pattern, e.Reason)
}

// Match is the result of resolving a request path against the route table.
type Match struct {
	Role   string
	Values map[string]string // variable name -> percent-decoded value
}

// segment is one path element of a compiled pattern: either a literal or a
// single-segment variable capture.
type segment struct {
	literal  string
	variable string // non-empty for capture segments
}

type route struct {
	role      string
	pattern   string
	segments  []segment
	variables []string
}

// Router is an ordered route table. Registration order is the deterministic
// tie-break when a path could match more than one pattern: the first
// registered route wins. Routers are not safe for concurrent mutation;
// register every route before serving.
type Router struct {
	routes []*route
	byRole map[string]*route
}

// New creates an empty Router.
func New() *Router {
	return &Router{byRole: make(map[string]*route)}
}

// Add registers pattern under role and returns the pattern's variable names
// in path order. It fails with a *RoutingError if the pattern is
// syntactically invalid or the role is already registered.
func (r *Router) Add(pattern, role string) ([]string, error) {
	if _, exists := r.byRole[role]; exists {
		return nil, &RoutingError{Role: role, Pattern: pattern, Reason: "role already registered"}
	}
	rt, err := compile(pattern, role)
	if err != nil {
		return nil, err
	}
	r.routes = append(r.routes, rt)
	r.byRole[role] = rt
	return rt.variables, nil
}

// Has reports whether a route is registered under role.
func (r *Router) Has(role string) bool {
	_, ok := r.byRole[role]
	return ok
}

// Variables returns the variable names of the route registered under role,
// or nil if the role is not registered.
func (r *Router) Variables(role string) []string {
	rt, ok := r.byRole[role]
	if !ok {
		return nil
	}
	return rt.variables
}

// Route resolves a request path against the table. Variable values are
// percent-decoded exactly once. The second return value is false when no
// registered pattern matches.
func (r *Router) Route(path string) (*Match, bool) {
	parts := splitPath(path)
	for _, rt := range r.routes {
		values, ok := rt.match(parts)
		if ok {
			return &Match{Role: rt.role, Values: values}, true
		}
	}
	return nil, false
}

// Build expands the pattern registered under role with the given variable
// values, percent-encoding each value. Every variable of the pattern must
// be present in values.
func (r *Router) Build(role string, values map[string]string) (string, error) {
	rt, ok := r.byRole[role]
	if !ok {
		return "", &RoutingError{Role: role, Reason: "role not registered"}
	}
	var b strings.Builder
	for _, seg := range rt.segments {
		b.WriteByte('/')
		if seg.variable == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.variable]
		if !ok {
			return "", &RoutingError{Role: role, Pattern: rt.pattern, Reason: fmt.Sprintf("missing value for variable %q", seg.variable)}
		}
		b.WriteString(url.PathEscape(v))
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

func compile(pattern, role string) (*route, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, &RoutingError{Role: role, Pattern: pattern, Reason: "pattern must start with /"}
	}
	rt := &route{role: role, pattern: pattern}
	seen := make(map[string]bool)
	for _, part := range splitPath(pattern) {
		switch {
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, &RoutingError{Role: role, Pattern: pattern, Reason: "empty variable name"}
			}
			if strings.ContainsAny(name, "{}") {
				return nil, &RoutingError{Role: role, Pattern: pattern, Reason: "nested braces in variable name"}
			}
			if seen[name] {
				return nil, &RoutingError{Role: role, Pattern: pattern, Reason: fmt.Sprintf("duplicate variable %q", name)}
			}
			seen[name] = true
			rt.segments = append(rt.segments, segment{variable: name})
			rt.variables = append(rt.variables, name)
		case strings.ContainsAny(part, "{}"):
			// Variables capture whole path segments; a brace anywhere else
			// is a syntax error.
			return nil, &RoutingError{Role: role, Pattern: pattern, Reason: fmt.Sprintf("malformed segment %q", part)}
		default:
			rt.segments = append(rt.segments, segment{literal: part})
		}
	}
	return rt, nil
}

func (rt *route) match(parts []string) (map[string]string, bool) {
	if len(parts) != len(rt.segments) {
		return nil, false
	}
	var values map[string]string
	for i, seg := range rt.segments {
		if seg.variable == "" {
			if parts[i] != seg.literal {
				return nil, false
			}
			continue
		}
		decoded, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if values == nil {
			values = make(map[string]string)
		}
		values[seg.variable] = decoded
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, true
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
