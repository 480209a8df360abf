package model

import "time"

// IdentityKind distinguishes local guest identities from authenticated accounts.
type IdentityKind string

const (
	IdentityGuest         IdentityKind = "guest"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity is the acting user: either a locally minted guest or an
// authenticated account adopted from a remote session.
type Identity struct {
	// ID is the opaque identifier all owned entities are scoped by.
	ID string `json:"id" db:"id"`

	// Kind is the identity lifecycle stage (guest or authenticated).
	Kind IdentityKind `json:"kind" db:"kind"`

	// Email is the account address, empty for guests.
	Email string `json:"email,omitempty" db:"email"`

	// DisplayName is the human-readable name, empty for guests.
	DisplayName string `json:"display_name,omitempty" db:"display_name"`

	// AvatarRef points at the account's avatar image, if any.
	AvatarRef string `json:"avatar_ref,omitempty" db:"avatar_ref"`

	// UpgradedAt records when a guest was upgraded to this account.
	UpgradedAt *time.Time `json:"upgraded_at,omitempty" db:"upgraded_at"`
}

// IsGuest reports whether this identity is a local-only guest.
func (i Identity) IsGuest() bool {
	return i.Kind == IdentityGuest
}
