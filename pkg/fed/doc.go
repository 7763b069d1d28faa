// Package fed implements the server-to-server half of ActivityPub: routing
// inbound federation traffic to application-supplied dispatchers and
// listeners, verifying HTTP signatures and key ownership on incoming
// activities, and signing and delivering outgoing activities to remote
// inboxes with shared-inbox deduplication.
package fed
