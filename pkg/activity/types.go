// Package activity defines the seams between the federation engine and the
// application's ActivityStreams object model. The engine never interprets
// JSON-LD itself; it works against these interfaces and leaves
// (de)serialization, vocabulary handling and storage to the application.
package activity

import "context"

// Variant identifies the concrete type of an activity (Follow, Create, ...).
// It is the dispatch key for inbox listeners: one listener per variant,
// exact match only. Applications may define their own variants beyond the
// constants below.
type Variant string

const (
	Follow   Variant = "Follow"
	Accept   Variant = "Accept"
	Reject   Variant = "Reject"
	Create   Variant = "Create"
	Update   Variant = "Update"
	Delete   Variant = "Delete"
	Undo     Variant = "Undo"
	Announce Variant = "Announce"
	Like     Variant = "Like"
)

// Activity is an inbound or outbound activity as seen by the engine.
type Activity interface {
	// ID returns the activity's id IRI, or "" if the activity is anonymous.
	ID() string

	// Variant returns the concrete activity type tag.
	Variant() Variant

	// ActorIDs returns the IRIs of the actors the activity claims to be
	// from. An activity with no actor cannot be delivered.
	ActorIDs() []string

	// MarshalJSONLD serializes the activity to its JSON-LD wire form.
	MarshalJSONLD() ([]byte, error)
}

// Recipient is the delivery-relevant view of an actor.
type Recipient interface {
	// ID returns the actor's IRI.
	ID() string

	// Inbox returns the actor's personal inbox URL.
	Inbox() string

	// SharedInbox returns the actor's shared inbox URL, or "" if the actor
	// does not declare one.
	SharedInbox() string
}

// Actor is a full local actor as produced by an actor dispatcher.
type Actor interface {
	Recipient

	// MarshalJSONLD serializes the actor to its JSON-LD wire form.
	MarshalJSONLD() ([]byte, error)
}

// DocumentLoader dereferences a remote JSON-LD document (actor documents,
// key documents, contexts). Implementations decide caching and transport.
type DocumentLoader interface {
	Load(ctx context.Context, url string) (map[string]any, error)
}

// Decoder turns a raw inbox request body into a typed Activity. The loader
// is available for context resolution during decoding.
type Decoder interface {
	Decode(ctx context.Context, body []byte, loader DocumentLoader) (Activity, error)
}
