// Package webpush delivers payloads to browser push-service endpoints over
// HTTP. Payload encryption and VAPID signing are the push service
// boundary's concern; this transport posts the message and classifies the
// response.
package webpush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"push-engine/internal/dispatch"
	"push-engine/internal/models"
)

// Transport implements dispatch.Transport against push-service endpoints.
type Transport struct {
	client *http.Client
	ttl    int // seconds the push service may hold an undelivered message
}

func New(timeout time.Duration, ttl int) *Transport {
	return &Transport{
		client: &http.Client{Timeout: timeout},
		ttl:    ttl,
	}
}

// Deliver posts the payload to the subscription's endpoint.
// 2xx is accepted; 404 and 410 mean the subscription is expired or
// unregistered and classify as gone; everything else is transient.
func (t *Transport) Deliver(ctx context.Context, sub models.PushSubscription, payload dispatch.Payload) dispatch.Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Outcome{Class: dispatch.OutcomeTransient, Err: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return dispatch.Outcome{Class: dispatch.OutcomeTransient, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", strconv.Itoa(t.ttl))
	req.Header.Set("Urgency", "normal")

	resp, err := t.client.Do(req)
	if err != nil {
		return dispatch.Outcome{Class: dispatch.OutcomeTransient, Err: fmt.Errorf("post to endpoint: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return dispatch.Outcome{Class: dispatch.OutcomeAccepted}
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return dispatch.Outcome{
			Class: dispatch.OutcomeGone,
			Err:   fmt.Errorf("push service returned %d: subscription expired or unregistered", resp.StatusCode),
		}
	default:
		return dispatch.Outcome{
			Class: dispatch.OutcomeTransient,
			Err:   fmt.Errorf("push service returned %d", resp.StatusCode),
		}
	}
}
