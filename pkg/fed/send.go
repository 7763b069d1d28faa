package fed

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"fedwire/pkg/activity"
	"fedwire/pkg/httpsig"
)

// ExtractOptions controls inbox extraction for a recipient list.
type ExtractOptions struct {
	// PreferSharedInbox keys recipients by their shared inbox when they
	// declare one, collapsing co-located recipients into one delivery.
	PreferSharedInbox bool

	// ExcludeBaseURIs drops recipients whose chosen inbox lives on one of
	// these origins. Used to avoid self-delivery loops.
	ExcludeBaseURIs []*url.URL
}

// ExtractInboxes groups recipients by their delivery inbox. The result maps
// each inbox URL to the set of recipient actor IRIs delivered through it;
// every recipient appears under exactly one inbox unless excluded. The
// function is pure: no network access, deterministic for a fixed input.
func ExtractInboxes(recipients []activity.Recipient, opts ExtractOptions) map[string]map[string]struct{} {
	inboxes := make(map[string]map[string]struct{})
	for _, recipient := range recipients {
		inbox := recipient.Inbox()
		if opts.PreferSharedInbox && recipient.SharedInbox() != "" {
			inbox = recipient.SharedInbox()
		}
		if inbox == "" {
			continue
		}
		// Exclusion is per recipient: both the chosen inbox and the
		// recipient's own inbox count, so excluding one server removes
		// its recipients from a shared-inbox group without dropping
		// co-members hosted elsewhere.
		if excludedOrigin(inbox, opts.ExcludeBaseURIs) || excludedOrigin(recipient.Inbox(), opts.ExcludeBaseURIs) {
			continue
		}
		set, ok := inboxes[inbox]
		if !ok {
			set = make(map[string]struct{})
			inboxes[inbox] = set
		}
		set[recipient.ID()] = struct{}{}
	}
	return inboxes
}

func excludedOrigin(inbox string, bases []*url.URL) bool {
	if len(bases) == 0 {
		return false
	}
	u, err := url.Parse(inbox)
	if err != nil {
		return false
	}
	for _, base := range bases {
		if base != nil && strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host) {
			return true
		}
	}
	return false
}

// SendOptions parameterizes one delivery attempt.
type SendOptions struct {
	Activity   activity.Activity
	PrivateKey crypto.Signer
	KeyID      string
	Inbox      string

	// Headers are merged into the request. Signature, Digest, Date and
	// Content-Type are engine-owned and cannot be overridden.
	Headers http.Header
}

// Sender delivers signed activities to remote inboxes. The zero value is
// not usable; construct with NewSender or use the package-level
// SendActivity.
type Sender struct {
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics
}

// NewSender creates a Sender. A nil client selects the default delivery
// client.
func NewSender(client *http.Client, logger *zap.Logger) *Sender {
	if client == nil {
		client = NewDeliveryClient(ClientOptions{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{client: client, logger: logger, metrics: NewMetrics(nil)}
}

// SendActivity signs and POSTs one activity to one inbox. A 2xx response is
// success. Any non-2xx response fails with a *DeliveryError carrying the
// remote status line and body verbatim. Fan-out across inboxes and retry
// policy are the caller's responsibility.
func (s *Sender) SendActivity(ctx context.Context, opts SendOptions) error {
	if opts.Activity == nil || len(opts.Activity.ActorIDs()) == 0 {
		return &ValidationError{Message: "The activity to send must have at least one actor property."}
	}

	body, err := opts.Activity.MarshalJSONLD()
	if err != nil {
		return fmt.Errorf("failed to serialize activity %s: %w", opts.Activity.ID(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.Inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request for %s: %w", opts.Inbox, err)
	}
	for name, values := range opts.Headers {
		if isReservedHeader(name) {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", activityJSONType)
	req.Header.Set("Digest", httpsig.Digest(body))
	if err := httpsig.Sign(req, opts.PrivateKey, opts.KeyID); err != nil {
		return fmt.Errorf("failed to sign delivery request for %s: %w", opts.Inbox, err)
	}

	s.metrics.DeliveriesTotal.Inc()
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.DeliveryFailures.Inc()
		return fmt.Errorf("failed to deliver activity %s to %s: %w", opts.Activity.ID(), opts.Inbox, err)
	}
	defer resp.Body.Close()
	s.metrics.DeliveryLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("activity delivered",
			zap.String("activity_id", opts.Activity.ID()),
			zap.String("inbox", opts.Inbox),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	s.metrics.DeliveryFailures.Inc()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxInboxBodyBytes))
	return &DeliveryError{
		ActivityID: opts.Activity.ID(),
		Inbox:      opts.Inbox,
		StatusCode: resp.StatusCode,
		StatusText: reasonPhrase(resp),
		Body:       string(respBody),
	}
}

// reasonPhrase extracts the remote's reason phrase from the status line,
// preserving nonstandard phrases in delivery diagnostics.
func reasonPhrase(resp *http.Response) string {
	if _, after, ok := strings.Cut(resp.Status, " "); ok && after != "" {
		return after
	}
	return http.StatusText(resp.StatusCode)
}

// isReservedHeader reports whether a caller-supplied header would collide
// with the engine-owned wire headers.
func isReservedHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Signature", "Digest", "Date", "Content-Type":
		return true
	}
	return false
}

// SendActivity delivers one activity using a shared default sender. It is
// usable outside the request-handling path.
func SendActivity(ctx context.Context, opts SendOptions) error {
	return defaultSender.SendActivity(ctx, opts)
}

var defaultSender = NewSender(nil, nil)
