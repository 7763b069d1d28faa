package fed

import (
	"fmt"
	"strings"
)

// Handle is a fediverse account handle in Mastodon-style format.
// Examples:
//   - alice@social.example (bare handle)
//   - @alice@social.example (leading @ as typed by users)
//   - acct:alice@social.example (WebFinger resource form)
type Handle struct {
	User   string // alice
	Domain string // social.example
}

// ParseHandle parses a handle string into its components. The acct: scheme
// prefix and a leading @ are both accepted and stripped.
func ParseHandle(s string) (*Handle, error) {
	if s == "" {
		return nil, fmt.Errorf("handle cannot be empty")
	}

	s = strings.TrimPrefix(s, "acct:")
	s = strings.TrimPrefix(s, "@")

	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid handle format: must contain exactly one @ separator")
	}

	user := parts[0]
	domain := parts[1]

	if user == "" {
		return nil, fmt.Errorf("user part cannot be empty")
	}
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	if !strings.Contains(domain, ".") {
		return nil, fmt.Errorf("domain must contain at least one dot (e.g. social.example)")
	}

	return &Handle{User: user, Domain: domain}, nil
}

// String returns the canonical user@domain form.
func (h *Handle) String() string {
	if h == nil {
		return ""
	}
	return fmt.Sprintf("%s@%s", h.User, h.Domain)
}

// Acct returns the WebFinger resource form of the handle.
func (h *Handle) Acct() string {
	if h == nil {
		return ""
	}
	return "acct:" + h.String()
}

// IsLocal returns true if this handle belongs to the specified domain.
func (h *Handle) IsLocal(myDomain string) bool {
	if h == nil {
		return false
	}
	return strings.EqualFold(h.Domain, myDomain)
}

// Equal returns true if two handles are equivalent.
func (h *Handle) Equal(other *Handle) bool {
	if h == nil && other == nil {
		return true
	}
	if h == nil || other == nil {
		return false
	}
	return h.User == other.User && strings.EqualFold(h.Domain, other.Domain)
}
