// internal/store/store.go
// PostgreSQL-backed persistence for provisioned storefronts. The store is the
// orchestrator's only durable collaborator: it answers the already-provisioned
// precondition and records the finalizer's result.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// DBPool abstracts pgxpool.Pool to allow mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of schemas.ProvisionRecorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ProvisionRecorder = (*Store)(nil)

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// IsProvisioned reports whether the owner already has a provisioned
// storefront recorded.
func (s *Store) IsProvisioned(ctx context.Context, ownerID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM storefronts WHERE owner_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query provisioned state for owner %s: %w", ownerID, err)
	}
	return exists, nil
}

// MarkProvisioned records a freshly provisioned storefront for the owner.
// Called exactly once per successful workflow; the upsert keeps a retried
// finalization from failing on the unique constraint.
func (s *Store) MarkProvisioned(ctx context.Context, ownerID string, p schemas.Provisioned) error {
	const query = `
		INSERT INTO storefronts (owner_id, domain, admin_url, provisioned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE
		SET domain = EXCLUDED.domain, admin_url = EXCLUDED.admin_url, provisioned_at = EXCLUDED.provisioned_at`

	tag, err := s.pool.Exec(ctx, query, ownerID, p.Domain, p.AdminURL, p.ProvisionedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record provisioned storefront for owner %s: %w", ownerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no row written recording storefront for owner %s", ownerID)
	}

	s.log.Info("Storefront recorded.",
		zap.String("owner_id", ownerID),
		zap.String("domain", p.Domain))
	return nil
}
