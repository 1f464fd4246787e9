// internal/models/subscription.go
package models

import "time"

// PushSubscription is one subscribed device/browser endpoint. Key material
// is opaque here; only the transport layer interprets it.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	Owner     string    `json:"owner,omitempty"` // empty until identity resolution links one
	SessionID string    `json:"sessionId,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// DirectoryCounts exposes subscription-directory totals for observability.
type DirectoryCounts struct {
	Active  int `json:"active"`
	Owners  int `json:"owners"`
	Unknown int `json:"unknown"` // active endpoints with unresolved ownership
}

// OptInEventType enumerates the audit events the engine's neighbors trigger.
type OptInEventType string

const (
	OptInPromptShown  OptInEventType = "prompt_shown"
	OptInGranted      OptInEventType = "granted"
	OptInDenied       OptInEventType = "denied"
	OptInSubscribed   OptInEventType = "subscribed"
	OptInUnsubscribed OptInEventType = "unsubscribed"
)

// OptInEvent is a write-only audit record; the engine emits but never reads
// these.
type OptInEvent struct {
	Type     OptInEventType `json:"type"`
	At       time.Time      `json:"at"`
	Platform string         `json:"platform,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
}
