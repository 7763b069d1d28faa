package fed

import (
	"fedwire/pkg/activity"
	"fedwire/pkg/httpsig"
)

// FirstCursor is the reserved cursor value meaning "the dispatcher's own
// first page". A firstCursor callback returning it advertises cursor-based
// pagination to clients without committing to a cursor format.
const FirstCursor = ""

// OutboxPage is one page of an actor's outbox. A nil NextCursor marks the
// last page.
type OutboxPage struct {
	Items      []activity.Activity
	NextCursor *string
}

// RecipientPage is one page of a followers collection.
type RecipientPage struct {
	Items      []activity.Recipient
	NextCursor *string
}

// IRIPage is one page of a following collection: plain actor IRIs.
type IRIPage struct {
	Items      []string
	NextCursor *string
}

// Dispatcher callbacks. A cursor of nil means "no cursor": the dispatcher
// decides whether to return the whole collection or its first page. A nil
// page result means the actor or collection does not exist.
type (
	// ActorDispatcher produces a local actor for a handle, or nil if the
	// actor does not exist.
	ActorDispatcher func(ctx *Context, handle string) (activity.Actor, error)

	// KeyPairDispatcher supplies the signing key pair of a local actor.
	KeyPairDispatcher func(ctx *Context, handle string) (*httpsig.KeyPair, error)

	// OutboxDispatcher produces a page of an actor's outbox.
	OutboxDispatcher func(ctx *Context, handle string, cursor *string) (*OutboxPage, error)

	// FollowersDispatcher produces a page of an actor's followers.
	FollowersDispatcher func(ctx *Context, handle string, cursor *string) (*RecipientPage, error)

	// FollowingDispatcher produces a page of the actors an actor follows.
	FollowingDispatcher func(ctx *Context, handle string, cursor *string) (*IRIPage, error)

	// CollectionCounter reports the total item count of a collection, or
	// nil when the count is unknown. It must be consistent with, but need
	// not be computed from, the pagination state.
	CollectionCounter func(ctx *Context, handle string) (*int64, error)

	// CursorProvider returns the first or last cursor of a collection, or
	// nil when the collection has none.
	CursorProvider func(ctx *Context, handle string) (*string, error)

	// InboxListener handles one inbound activity of the variant it was
	// registered for. Listeners must tolerate duplicate and out-of-order
	// delivery.
	InboxListener func(ctx *Context, a activity.Activity) error

	// InboxErrorHandler is the process-wide fallback for listener and
	// pipeline errors.
	InboxErrorHandler func(ctx *Context, err error)
)
