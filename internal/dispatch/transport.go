// internal/dispatch/transport.go
package dispatch

import (
	"context"

	"push-engine/internal/models"
)

// OutcomeClass is the transport layer's three-way result classification.
type OutcomeClass string

const (
	// OutcomeAccepted is any 2xx-equivalent acceptance.
	OutcomeAccepted OutcomeClass = "accepted"
	// OutcomeGone means the endpoint is permanently dead (expired or
	// unregistered) and must be deactivated.
	OutcomeGone OutcomeClass = "gone"
	// OutcomeTransient is any other failure; the endpoint stays active and
	// retries naturally on the next send.
	OutcomeTransient OutcomeClass = "transient"
)

// Outcome is one endpoint attempt's classified result.
type Outcome struct {
	Class OutcomeClass
	Err   error
}

// Payload is the message handed to the transport, opaque content copied
// from the notification.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Transport delivers a payload to a single endpoint and classifies the
// result. Implementations must honor ctx cancellation; the dispatcher
// bounds every attempt with a deadline.
type Transport interface {
	Deliver(ctx context.Context, sub models.PushSubscription, payload Payload) Outcome
}

// PayloadFor copies the notification's content fields.
func PayloadFor(n *models.Notification) Payload {
	return Payload{
		Title: n.Title,
		Body:  n.Body,
		URL:   n.URL,
		Icon:  n.Icon,
		Badge: n.Badge,
	}
}
