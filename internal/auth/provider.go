// Package auth defines the contract to the hosted auth service: session
// lookup, magic-link and OAuth sign-in, sign-out, and a stream of
// session-state transitions.
package auth

import "context"

// Session is an authenticated remote session.
type Session struct {
	// UserID is the account's identifier; entities adopted by this
	// session are owned by it.
	UserID string `json:"user_id"`

	// Email is the account address.
	Email string `json:"email"`

	// DisplayName is the account's human-readable name, if set.
	DisplayName string `json:"display_name,omitempty"`

	// AvatarRef points at the account's avatar image, if set.
	AvatarRef string `json:"avatar_ref,omitempty"`

	// AccessToken authenticates gateway requests for this session.
	AccessToken string `json:"access_token"`
}

// EventKind classifies a session transition.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is a session-state transition. Session is set for sign-in
// events and nil for sign-out.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Provider is the boundary to the external auth service. Sign-in calls
// are fire-and-forget: completion arrives later as an Event, not as a
// return value.
type Provider interface {
	// Session returns the current remote session, or nil when signed out.
	Session(ctx context.Context) (*Session, error)

	// SignInWithEmail requests a magic-link email for the address.
	SignInWithEmail(ctx context.Context, address string) error

	// SignInWithOAuth starts an OAuth flow with the named provider
	// (e.g. "google", "apple").
	SignInWithOAuth(ctx context.Context, provider string) error

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// Events returns the stream of session transitions. Closed when the
	// provider is closed.
	Events() <-chan Event

	// Close releases the event stream and any background work.
	Close() error
}
