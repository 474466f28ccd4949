package port

import (
	"context"

	"github.com/arklim/session-security/internal/core/domain"
)

// ChangeHandlerFunc processes a single row-level change.
type ChangeHandlerFunc func(ctx context.Context, event domain.ChangeEvent) error

// ChangeFeed delivers change events for the watched admin tables.
type ChangeFeed interface {
	// Run blocks delivering events to handle until ctx is cancelled or the feed is closed.
	Run(ctx context.Context, handle ChangeHandlerFunc) error
	Close() error
}
