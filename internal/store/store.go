// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/crawl/internal/domain"
)

var (
	// ErrActiveSessionExists is returned by CreateSession when the owner already has an open session.
	ErrActiveSessionExists = errors.New("owner already has an open session")

	// ErrVersionConflict is returned by SaveSession when the stored row moved on
	// since the session was loaded, or has already ended.
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Statuses []domain.Status
	OwnerID  string
	Limit    uint64
}

// Grant is one item added to an owner's permanent inventory.
type Grant struct {
	OwnerID   string
	ItemID    int64
	Source    domain.GrantSource
	SessionID string
	At        time.Time
}

// Repository defines the interface for persisting accounts, inventories and dungeon sessions.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// EnsureAccount creates the owner's account if missing and returns it.
	EnsureAccount(ctx context.Context, ownerID, username string) (*domain.Account, error)

	// GetAccount retrieves an account. Returns nil, nil if it does not exist.
	GetAccount(ctx context.Context, ownerID string) (*domain.Account, error)

	// Balance returns the owner's currency balance, zero for unknown owners.
	Balance(ctx context.Context, ownerID string) (int64, error)

	// OwnedItems returns the catalog IDs in the owner's inventory, duplicates included.
	OwnedItems(ctx context.Context, ownerID string) ([]int64, error)

	// CreateSession inserts a new session.
	// Returns ErrActiveSessionExists if the owner already has a non-ended session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. Returns nil, nil if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// OpenSession retrieves the owner's ACTIVE or PAUSED session. Returns nil, nil if none.
	OpenSession(ctx context.Context, ownerID string) (*domain.Session, error)

	// ListSessions returns sessions matching the filter, oldest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error)

	// WithTx runs fn inside a write transaction. The transaction commits if fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes that must land atomically with a session update.
type Tx interface {
	// SaveSession writes the session if its Version still matches the stored
	// row and the row has not ended. On success session.Version is incremented.
	SaveSession(ctx context.Context, session *domain.Session) error

	// MarkApplied records that trigger has been applied for the session.
	// Returns false if it was already recorded.
	MarkApplied(ctx context.Context, sessionID, trigger string, at time.Time) (bool, error)

	// GrantItem adds one item to the owner's inventory.
	GrantItem(ctx context.Context, grant Grant) error

	// CreditCurrency adds amount (which may be negative) to the owner's balance
	// and returns the new balance.
	CreditCurrency(ctx context.Context, ownerID string, amount int64) (int64, error)
}
