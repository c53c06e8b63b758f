// Package domain contains core domain types for the dungeon service.
package domain

import (
	"time"
)

// Account is an owner's permanent holdings outside of any dungeon run.
type Account struct {
	OwnerID   string    `json:"owner_id"`
	Username  string    `json:"username"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GrantSource records how an item reached an owner's inventory.
type GrantSource string

const (
	// GrantSourceChoice marks items granted instantly by an encounter choice.
	GrantSourceChoice GrantSource = "choice"
	// GrantSourceExtraction marks session loot committed by a non-death stop.
	GrantSourceExtraction GrantSource = "extraction"
)
