/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the affiliate-service. The interface
 * decouples the sync engine and API layer from the PostgreSQL implementation,
 * which keeps both testable with in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Binding methods
	CreateBinding(ctx context.Context, binding *domain.Binding) error
	GetBindingsByProgramAndStatus(ctx context.Context, program, status string) ([]domain.Binding, error)

	// UpdateBindingSyncedMetrics is the only write path for a binding's
	// financial metrics. It stamps last_synced_at and the raw audit payload
	// in the same statement.
	UpdateBindingSyncedMetrics(ctx context.Context, bindingID uuid.UUID, metrics domain.AffiliateMetrics, rawPayload map[string]any, syncedAt time.Time) error

	// Sync run log methods (append-only)
	InsertSyncRun(ctx context.Context, run *domain.SyncRun) error
	ListSyncRuns(ctx context.Context, program string, limit int) ([]domain.SyncRun, error)
}
