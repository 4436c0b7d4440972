// Package queue defines the auth event payloads exchanged over RabbitMQ,
// the publisher used by the auth service and the audit consumer.
package queue

import "time"

// AuthEventsQueue is the durable queue all auth events are routed to.
const AuthEventsQueue = "auth.events"

// Event types.
const (
	EventUserRegistered = "user.registered"
	EventUserLoggedIn   = "user.logged_in"
	EventSessionRefresh = "session.refreshed"
	EventSessionLogout  = "session.logged_out"
	EventTokenReuse     = "refresh_token.reuse_detected"
)

// AuthEvent is published after every state change of a user's session. It
// never carries secrets: no passwords, raw tokens or token hashes.
type AuthEvent struct {
	Type       string    `json:"type"`
	UserID     uint64    `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"` // redacted
	FamilyID   string    `json:"family_id,omitempty"`
	TokenID    uint64    `json:"token_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
