package fed

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFrozen is returned by registration calls made after a Handler has been
// created; the registry is read-only from that point on.
var ErrFrozen = errors.New("fed: registration is closed once a handler has been created")

// DuplicateRegistrationError reports a second registration on a
// set-at-most-once slot.
type DuplicateRegistrationError struct {
	Slot string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("fed: %s is already registered", e.Slot)
}

// ValidationError reports invalid input caught before any network activity.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// OwnershipMismatchError reports an inbound activity whose claimed actor is
// not owned by the key that signed the request.
type OwnershipMismatchError struct {
	KeyOwner string
	ActorIDs []string
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("fed: signing key owner %q does not match activity actor(s) %s",
		e.KeyOwner, strings.Join(e.ActorIDs, ", "))
}

// DeliveryError reports a non-2xx response from a remote inbox. The remote
// status line and body are carried verbatim; federation failures are
// otherwise opaque to operators.
type DeliveryError struct {
	ActivityID string
	Inbox      string
	StatusCode int
	StatusText string
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("Failed to send activity %s to %s (%d %s):\n%s",
		e.ActivityID, e.Inbox, e.StatusCode, e.StatusText, e.Body)
}
