package fed

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"fedwire/pkg/httpsig"
)

// maxInboxBodyBytes caps inbound activity payloads.
const maxInboxBodyBytes = 1 << 22 // 4 MiB

// processInbox runs the inbound pipeline: verify the HTTP signature,
// decode the activity, check that the signing key's owner matches the
// activity's claimed actor, then dispatch to the listener registered for
// the activity's exact variant. Any step may reject the request; no
// listener runs on a rejected request.
func (f *Federation) processInbox(ctx *Context, w http.ResponseWriter, r *http.Request, handle string, shared bool, logger *zap.Logger) {
	f.metrics.InboxReceived.Inc()
	logger = logger.With(zap.String("handle", handle), zap.Bool("shared", shared))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBodyBytes))
	if err != nil {
		f.reject(w, logger, "read", http.StatusBadRequest, err)
		return
	}

	verified, err := httpsig.Verify(r.Context(), r, body, f.resolver)
	if err != nil {
		f.reject(w, logger, "signature", http.StatusUnauthorized, err)
		return
	}
	logger = logger.With(zap.String("key_owner", verified.KeyOwner))

	act, err := f.decoder.Decode(r.Context(), body, f.loader)
	if err != nil {
		f.notifyError(ctx, err)
		f.reject(w, logger, "parse", http.StatusBadRequest, err)
		return
	}

	if err := f.checkKeyOwnership(ctx, verified.KeyOwner, verified.KeyID, act.ActorIDs()); err != nil {
		f.reject(w, logger, "ownership", http.StatusUnauthorized, err)
		return
	}

	listener := f.inboxListeners[act.Variant()]
	if listener == nil {
		// Unhandled variants are accepted and dropped; remote servers
		// must not see an error for activities we simply do not care
		// about.
		logger.Debug("no listener for activity variant",
			zap.String("variant", string(act.Variant())),
			zap.String("activity_id", act.ID()))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := listener(ctx, act); err != nil {
		f.metrics.ListenerErrors.Inc()
		logger.Error("inbox listener failed",
			zap.String("variant", string(act.Variant())),
			zap.String("activity_id", act.ID()),
			zap.Error(err))
		if f.inboxErrorHandler != nil {
			f.inboxErrorHandler(ctx, err)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	f.metrics.InboxDispatched.WithLabelValues(string(act.Variant())).Inc()
	logger.Info("activity dispatched",
		zap.String("variant", string(act.Variant())),
		zap.String("activity_id", act.ID()))
	w.WriteHeader(http.StatusAccepted)
}

// checkKeyOwnership enforces that the signer owns the activity's claimed
// actor. HTTP signatures authenticate the request, not the activity's
// author: without this check a compromised key on one server could forge
// activities claiming to be from any actor. The owner matches directly, or
// through one level of the claimed actor's declared key list.
func (f *Federation) checkKeyOwnership(ctx *Context, keyOwner, keyID string, actorIDs []string) error {
	if len(actorIDs) == 0 {
		return &OwnershipMismatchError{KeyOwner: keyOwner}
	}
	for _, id := range actorIDs {
		if id == keyOwner {
			return nil
		}
	}
	// One-level fallback: the claimed actor's document may declare the
	// signing key even when the key document names a different owner form.
	for _, id := range actorIDs {
		doc, err := f.loader.Load(ctx.Request().Context(), id)
		if err != nil {
			continue
		}
		for _, declared := range declaredKeyIDs(doc) {
			if declared == keyID {
				return nil
			}
		}
	}
	return &OwnershipMismatchError{KeyOwner: keyOwner, ActorIDs: actorIDs}
}

// declaredKeyIDs extracts the ids of the keys an actor document declares
// under publicKey.
func declaredKeyIDs(doc map[string]any) []string {
	var ids []string
	appendID := func(v any) {
		switch key := v.(type) {
		case string:
			ids = append(ids, key)
		case map[string]any:
			if id, ok := key["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	switch v := doc["publicKey"].(type) {
	case []any:
		for _, item := range v {
			appendID(item)
		}
	default:
		appendID(v)
	}
	return ids
}

func (f *Federation) reject(w http.ResponseWriter, logger *zap.Logger, reason string, status int, err error) {
	f.metrics.InboxRejected.WithLabelValues(reason).Inc()
	logger.Warn("inbox request rejected",
		zap.String("reason", reason),
		zap.Int("status", status),
		zap.Error(err))
	http.Error(w, http.StatusText(status), status)
}

func (f *Federation) notifyError(ctx *Context, err error) {
	if f.inboxErrorHandler != nil {
		f.inboxErrorHandler(ctx, err)
	}
}
