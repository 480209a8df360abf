package model

import "time"

// Board is a top-level container of lists, owned by exactly one identity.
type Board struct {
	// ID is the unique identifier for this board.
	ID string `json:"id" db:"id"`

	// OwnerID scopes the board to the identity that created it.
	OwnerID string `json:"owner_id" db:"owner_id"`

	// Title is the board's display name.
	Title string `json:"title" db:"title"`

	// Description is optional free-form text about the board.
	Description string `json:"description,omitempty" db:"description"`

	// ColorTag is the accent color label shown on the board tile.
	ColorTag string `json:"color_tag" db:"color_tag"`

	// CreatedAt is when the board was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the board was last modified.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Version is the optimistic-concurrency counter. It increments by
	// exactly one on every accepted write.
	Version int64 `json:"version" db:"version"`
}

// List is an ordered column of tasks within a board.
type List struct {
	ID      string `json:"id" db:"id"`
	BoardID string `json:"board_id" db:"board_id"`
	OwnerID string `json:"owner_id" db:"owner_id"`
	Title   string `json:"title" db:"title"`

	// Position orders the list among its siblings. Ties break by ID so
	// sibling order stays total after any reorder.
	Position float64 `json:"position" db:"position"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int64     `json:"version" db:"version"`
}
