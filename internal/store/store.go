// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/data-assistant/internal/domain"
)

// Repository defines the interface for persisting users and exchange audits.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// RecordExchange stores the audit record of one query.
	RecordExchange(ctx context.Context, ex *domain.Exchange) error

	// ListExchanges returns the newest exchanges of a user, at most limit.
	ListExchanges(ctx context.Context, userID string, limit int) ([]*domain.Exchange, error)

	// DeleteExchangesBefore removes exchanges created before cutoff.
	DeleteExchangesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteUsersNotSeenSince removes users idle since cutoff that have no
	// remaining exchanges.
	DeleteUsersNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
