// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/ragstream/internal/domain"
)

// Repository defines the interface for the append-only activity log.
type Repository interface {
	// AppendLog inserts one record and returns its row id.
	AppendLog(ctx context.Context, rec *domain.LogRecord) (int64, error)

	// RecentLogs returns the newest records of a user, newest first.
	RecentLogs(ctx context.Context, userID int64, limit int) ([]domain.LogRecord, error)

	// UsageSummary aggregates all records of a user.
	UsageSummary(ctx context.Context, userID int64) (*domain.UsageSummary, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
